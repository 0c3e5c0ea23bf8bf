package testutil

// FixedRunID returns the same run ID every time.
//
// Harness scenarios pin the run ID so golden summaries are byte-identical
// between runs. If id is empty, Generate returns "test-run-default".
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a fixed run ID generator.
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed run ID.
func (g *FixedRunID) Generate() string {
	return g.id
}
