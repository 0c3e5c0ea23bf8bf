// Command temeasure runs thermoelectric measurement sweeps.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/temeasure/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	// Commands that already reported through the formatter return an
	// ExitError; anything else (flag parsing, unknown command) is printed here.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Err == nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
