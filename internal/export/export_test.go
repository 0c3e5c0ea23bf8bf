package export

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/measure"
	"github.com/roach88/temeasure/internal/results"
)

func TestWriteFile_RoundTrip(t *testing.T) {
	cols := measure.RTColumns()
	rows := []results.Row{
		{0, 0, 295, 0, 0, 0, 0.01, 1e-5, 1000},
		{1, 0, 295.5, 1, 0.02, 0.02, 0.0201, 2e-5, 1005},
	}
	path := filepath.Join(t.TempDir(), "rt.parquet")

	require.NoError(t, WriteFile(path, cols, rows))

	gotCols, gotRows, err := ReadParquet(path)
	require.NoError(t, err)
	assert.Equal(t, cols, gotCols, "names and units survive")
	assert.Equal(t, rows, gotRows)
}

func TestWriteFile_NaNAndEmpty(t *testing.T) {
	cols := []results.Column{results.NewColumn("Time", "mins"), results.NewColumn("stage Temperature", "K")}
	dir := t.TempDir()

	nanPath := filepath.Join(dir, "nan.parquet")
	require.NoError(t, WriteFile(nanPath, cols, []results.Row{{0, math.NaN()}}))
	_, rows, err := ReadParquet(nanPath)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, math.IsNaN(rows[0].Get(1)))

	emptyPath := filepath.Join(dir, "empty.parquet")
	require.NoError(t, WriteFile(emptyPath, cols, nil))
	gotCols, rows, err := ReadParquet(emptyPath)
	require.NoError(t, err)
	assert.Equal(t, cols, gotCols)
	assert.Empty(t, rows)
}

func TestWriteParquet_RejectsMismatchedRows(t *testing.T) {
	cols := []results.Column{results.NewColumn("a", ""), results.NewColumn("b", "")}
	var buf bytes.Buffer

	err := WriteParquet(&buf, cols, []results.Row{{1, 2}, {3}, {4, 5, 6}})
	require.Error(t, err)
	assert.True(t, fault.IsInvalidParameter(err))
	assert.Contains(t, err.Error(), "row 1 has 1 values, want 2")
	assert.Contains(t, err.Error(), "row 2 has 3 values, want 2")
	assert.Zero(t, buf.Len(), "nothing written on validation failure")

	err = WriteParquet(&buf, nil, nil)
	assert.True(t, fault.IsInvalidParameter(err))
}

func TestReadParquet_Failures(t *testing.T) {
	_, _, err := ReadParquet(filepath.Join(t.TempDir(), "missing.parquet"))
	assert.True(t, fault.IsStorageError(err))

	err = WriteFile(filepath.Join(t.TempDir(), "no", "such", "dir.parquet"),
		[]results.Column{results.NewColumn("a", "")}, nil)
	assert.True(t, fault.IsStorageError(err))
}

func TestSchema(t *testing.T) {
	s := Schema(measure.GatedColumns())
	require.Len(t, s.Fields(), 11)
	assert.Equal(t, "Gate Config", s.Field(measure.GatedColGateConfig).Name)

	f := s.Field(measure.GatedColThermoVoltage)
	idx := f.Metadata.FindKey(UnitKey)
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "V", f.Metadata.Values()[idx])
}
