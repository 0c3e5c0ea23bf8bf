package results

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Column names one numeric field of a result table.
// Names and units are NFC-normalized so "Ω" typed as OHM SIGN (U+2126) and as
// GREEK CAPITAL OMEGA (U+03A9) compare equal.
type Column struct {
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`
}

// NewColumn creates a normalized column. unit may be empty for dimensionless values.
func NewColumn(name, unit string) Column {
	return Column{
		Name: norm.NFC.String(strings.TrimSpace(name)),
		Unit: norm.NFC.String(strings.TrimSpace(unit)),
	}
}

// Label returns "Name [Unit]", or just the name when the column has no unit.
func (c Column) Label() string {
	if c.Unit == "" {
		return c.Name
	}
	return c.Name + " [" + c.Unit + "]"
}

// ParseLabel is the inverse of Label.
func ParseLabel(label string) Column {
	label = strings.TrimSpace(label)
	if strings.HasSuffix(label, "]") {
		if open := strings.LastIndex(label, " ["); open >= 0 {
			return NewColumn(label[:open], label[open+2:len(label)-1])
		}
	}
	return NewColumn(label, "")
}

// Index returns the position of the column named name, or -1.
func Index(cols []Column, name string) int {
	name = norm.NFC.String(name)
	for i, c := range cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Row is one immutable record, one value per column in column order.
type Row []float64

// Get returns the value at column index i.
func (r Row) Get(i int) float64 {
	return r[i]
}

func (r Row) clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}
