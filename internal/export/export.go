// Package export converts finished result tables to Parquet.
//
// Each result column becomes a non-nullable float64 Parquet column named
// after the column; its unit travels in the field metadata under "unit" so a
// round trip restores the full column manifest.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/results"
)

// UnitKey is the field metadata key holding a column's unit.
const UnitKey = "unit"

// Schema returns the Arrow schema for a column manifest.
func Schema(cols []results.Column) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{
			Name:     c.Name,
			Type:     arrow.PrimitiveTypes.Float64,
			Nullable: false,
			Metadata: arrow.NewMetadata([]string{UnitKey}, []string{c.Unit}),
		}
	}
	return arrow.NewSchema(fields, nil)
}

// WriteParquet writes rows as a single Snappy-compressed row group.
// Every row must have exactly len(cols) values.
func WriteParquet(w io.Writer, cols []results.Column, rows []results.Row) error {
	if len(cols) == 0 {
		return fault.New(fault.InvalidParameter, "at least one column is required")
	}
	var p fault.Problems
	for i, r := range rows {
		if len(r) != len(cols) {
			p.Addf("row %d has %d values, want %d", i, len(r), len(cols))
		}
	}
	if err := p.Err(fault.InvalidParameter, "rows do not match columns"); err != nil {
		return err
	}

	schema := Schema(cols)
	rec := buildRecord(memory.NewGoAllocator(), schema, rows)
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, w, props, arrowProps)
	if err != nil {
		return fault.Wrap(fault.StorageError, err, "create parquet writer")
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fault.Wrap(fault.StorageError, err, "write parquet rows")
	}
	if err := writer.Close(); err != nil {
		return fault.Wrap(fault.StorageError, err, "close parquet writer")
	}
	return nil
}

// WriteFile creates (or truncates) path and writes rows to it as Parquet.
func WriteFile(path string, cols []results.Column, rows []results.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fault.Wrap(fault.StorageError, err, "create %s", path)
	}
	if err := WriteParquet(f, cols, rows); err != nil {
		f.Close()
		return err
	}
	// The parquet writer may already have closed f.
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fault.Wrap(fault.StorageError, err, "close %s", path)
	}
	return nil
}

// ReadParquet reads a file written by WriteParquet.
func ReadParquet(path string) ([]results.Column, []results.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fault.Wrap(fault.StorageError, err, "open %s", path)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f, file.WithReadProps(&parquet.ReaderProperties{}))
	if err != nil {
		return nil, nil, fault.Wrap(fault.StorageError, err, "read parquet %s", path)
	}
	defer pf.Close()

	mem := memory.NewGoAllocator()
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, nil, fault.Wrap(fault.StorageError, err, "create arrow reader for %s", path)
	}

	table, err := reader.ReadTable(context.Background())
	if err != nil {
		return nil, nil, fault.Wrap(fault.StorageError, err, "read parquet data from %s", path)
	}
	defer table.Release()

	return fromTable(table)
}

func buildRecord(mem memory.Allocator, schema *arrow.Schema, rows []results.Row) arrow.Record {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for i := range schema.Fields() {
		fb := b.Field(i).(*array.Float64Builder)
		fb.Reserve(len(rows))
		for _, r := range rows {
			fb.Append(r[i])
		}
	}
	return b.NewRecord()
}

func fromTable(table arrow.Table) ([]results.Column, []results.Row, error) {
	schema := table.Schema()
	n := int(table.NumRows())

	cols := make([]results.Column, len(schema.Fields()))
	rows := make([]results.Row, n)
	for i := range rows {
		rows[i] = make(results.Row, len(cols))
	}

	for c, field := range schema.Fields() {
		if field.Type.ID() != arrow.FLOAT64 {
			return nil, nil, fault.New(fault.StorageError,
				"column %q has type %s, want float64", field.Name, field.Type)
		}
		unit := ""
		if idx := field.Metadata.FindKey(UnitKey); idx >= 0 {
			unit = field.Metadata.Values()[idx]
		}
		cols[c] = results.NewColumn(field.Name, unit)

		r := 0
		for _, chunk := range table.Column(c).Data().Chunks() {
			values, ok := chunk.(*array.Float64)
			if !ok {
				return nil, nil, fmt.Errorf("column %q: unexpected chunk type %T", field.Name, chunk)
			}
			for j := 0; j < values.Len(); j++ {
				rows[r][c] = values.Value(j)
				r++
			}
		}
	}
	return cols, rows, nil
}
