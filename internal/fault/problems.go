package fault

import "fmt"

// Problems collects precondition violations so they can be reported together.
//
// The zero value is ready to use:
//
//	var p fault.Problems
//	if steps < 1 {
//	    p.Addf("gate steps must be >= 1, got %d", steps)
//	}
//	return p.Err(fault.InvalidParameter, "invalid gated sweep")
type Problems struct {
	items []string
}

// Add records a violation.
func (p *Problems) Add(msg string) {
	p.items = append(p.items, msg)
}

// Addf records a formatted violation.
func (p *Problems) Addf(format string, args ...any) {
	p.items = append(p.items, fmt.Sprintf(format, args...))
}

// Merge records every problem carried by err: the Problems of an aggregated
// *Error, the Message of a plain one, or the text of any other error. A nil
// err is ignored.
func (p *Problems) Merge(err error) {
	if err == nil {
		return
	}
	if fe, ok := err.(*Error); ok {
		if len(fe.Problems) > 0 {
			p.items = append(p.items, fe.Problems...)
		} else {
			p.items = append(p.items, fe.Message)
		}
		return
	}
	p.items = append(p.items, err.Error())
}

// Len returns the number of recorded violations.
func (p *Problems) Len() int {
	return len(p.items)
}

// List returns a copy of the recorded violations.
func (p *Problems) List() []string {
	out := make([]string, len(p.items))
	copy(out, p.items)
	return out
}

// Err returns nil if nothing was recorded, otherwise a single *Error with the
// given code listing every violation.
func (p *Problems) Err(code Code, message string) error {
	if len(p.items) == 0 {
		return nil
	}
	return &Error{Code: code, Message: message, Problems: p.List()}
}
