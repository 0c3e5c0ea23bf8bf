package measure

import "fmt"

// State is the lifecycle state of an Engine.
//
//	Idle -> Running -> {CompletedNormally | StoppedByUser | Failed}
//
// Terminal states are final for that Engine; a new run needs a new Engine.
type State int

const (
	Idle State = iota
	Running
	StoppedByUser
	CompletedNormally
	Failed
)

var stateNames = map[State]string{
	Idle:              "idle",
	Running:           "running",
	StoppedByUser:     "stopped",
	CompletedNormally: "completed",
	Failed:            "failed",
}

// String returns the lower-case state name used in logs, the CLI and the store.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StoppedByUser || s == CompletedNormally || s == Failed
}

// ParseState is the inverse of String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return Idle, fmt.Errorf("unknown run state %q", name)
}
