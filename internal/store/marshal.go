package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/temeasure/internal/results"
)

// marshalColumns converts a column manifest to JSON TEXT for storage.
// HTML escaping is disabled so units such as "Ω" are stored verbatim.
func marshalColumns(cols []results.Column) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cols); err != nil {
		return "", fmt.Errorf("marshal columns: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalColumns parses a stored column manifest.
func unmarshalColumns(data string) ([]results.Column, error) {
	var raw []results.Column
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal columns: %w", err)
	}
	cols := make([]results.Column, len(raw))
	for i, c := range raw {
		cols[i] = results.NewColumn(c.Name, c.Unit)
	}
	return cols, nil
}

// encodeRow packs a row as consecutive little-endian IEEE-754 float64s.
// NaN and infinities survive the round trip.
func encodeRow(row results.Row) []byte {
	buf := make([]byte, 8*len(row))
	for i, v := range row {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

// decodeRow is the inverse of encodeRow.
func decodeRow(data []byte) (results.Row, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("decode row: %d bytes is not a whole number of values", len(data))
	}
	row := make(results.Row, len(data)/8)
	for i := range row {
		row[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return row, nil
}
