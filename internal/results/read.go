package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/roach88/temeasure/internal/fault"
)

// ReadFile parses a file written by the streaming backend. The same options
// used for writing (delimiter, unit line) must be supplied.
func ReadFile(path string, opts ...StreamOption) ([]Column, []Row, error) {
	cfg := streamConfig{delimiter: DefaultDelimiter}
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fault.Wrap(fault.StorageError, err, "open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = cfg.delimiter

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fault.Wrap(fault.StorageError, err, "parse %s", path)
	}
	if len(records) == 0 {
		return nil, nil, fault.New(fault.StorageError, "%s has no header", path)
	}

	var cols []Column
	body := records[1:]
	if cfg.unitLine {
		if len(records) < 2 {
			return nil, nil, fault.New(fault.StorageError, "%s has no unit line", path)
		}
		cols = make([]Column, len(records[0]))
		for i, name := range records[0] {
			cols[i] = NewColumn(name, records[1][i])
		}
		body = records[2:]
	} else {
		cols = make([]Column, len(records[0]))
		for i, label := range records[0] {
			cols[i] = ParseLabel(label)
		}
	}

	rows := make([]Row, 0, len(body))
	for n, rec := range body {
		row := make(Row, len(rec))
		for i, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fault.Wrap(fault.StorageError, err,
					"%s: row %d column %d", path, n, i)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return cols, rows, nil
}

// String implements fmt.Stringer for debugging output.
func (r Row) String() string {
	return fmt.Sprint([]float64(r))
}
