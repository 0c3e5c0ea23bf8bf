package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/roach88/temeasure/internal/fault"
)

// DefaultDelimiter separates fields in streamed files.
const DefaultDelimiter = ','

// StreamOption configures a streaming file backend.
type StreamOption func(*streamConfig)

type streamConfig struct {
	delimiter rune
	unitLine  bool
	sync      bool
}

// WithDelimiter sets the field delimiter (default ',').
func WithDelimiter(d rune) StreamOption {
	return func(c *streamConfig) {
		c.delimiter = d
	}
}

// WithUnitLine writes column names and units on two separate header lines
// instead of one "Name [Unit]" line.
func WithUnitLine(enabled bool) StreamOption {
	return func(c *streamConfig) {
		c.unitLine = enabled
	}
}

// WithSync fsyncs the file after every row. Rows are always flushed to the
// operating system on write; this additionally survives power loss.
func WithSync(enabled bool) StreamOption {
	return func(c *streamConfig) {
		c.sync = enabled
	}
}

// File is a Backend that streams rows to a delimited text file.
//
// File layout:
//
//	No.,Sample Temperature [K],Gate Voltage [V]
//	0,295.1,-40
//	1,295.3,-40
//
// With WithUnitLine(true) the header is split into a name line and a unit line.
type File struct {
	mu      sync.Mutex
	f       *os.File
	w       *csv.Writer
	columns []Column
	cfg     streamConfig
	closed  bool
}

// OpenFile creates (or truncates) path and writes the header.
// Failure to open the path is reported as StorageError.
func OpenFile(path string, columns []Column, opts ...StreamOption) (*File, error) {
	if path == "" {
		return nil, fault.New(fault.NotConfigured, "no output file specified")
	}

	cfg := streamConfig{delimiter: DefaultDelimiter}
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fault.Wrap(fault.StorageError, err, "open %s for writing", path)
	}

	b := &File{
		f:       f,
		columns: columns,
		cfg:     cfg,
	}
	b.w = b.newWriter(f)

	if err := b.writeHeader(); err != nil {
		f.Close()
		return nil, fault.Wrap(fault.StorageError, err, "write header to %s", path)
	}
	return b, nil
}

// CreateStream opens a streaming file and wraps it in a Table.
func CreateStream(path string, columns []Column, opts ...StreamOption) (*Table, error) {
	b, err := OpenFile(path, columns, opts...)
	if err != nil {
		return nil, err
	}
	t, err := New(columns, b)
	if err != nil {
		b.Close()
		return nil, err
	}
	return t, nil
}

// Path returns the file path.
func (b *File) Path() string {
	return b.f.Name()
}

// Write formats the row and flushes it through to the file.
func (b *File) Write(row Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("write to closed file %s", b.f.Name())
	}

	record := make([]string, len(row))
	for i, v := range row {
		record[i] = FormatValue(v)
	}
	return b.flush(record)
}

// Reset truncates the file back to just its header.
func (b *File) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("reset closed file %s", b.f.Name())
	}
	if err := b.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	if _, err := b.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	b.w = b.newWriter(b.f)
	return b.writeHeader()
}

// Close flushes, syncs and closes the file. Later calls return nil.
func (b *File) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	b.w.Flush()
	flushErr := b.w.Error()
	syncErr := b.f.Sync()
	closeErr := b.f.Close()

	switch {
	case flushErr != nil:
		return fmt.Errorf("flush %s: %w", b.f.Name(), flushErr)
	case syncErr != nil:
		return fmt.Errorf("sync %s: %w", b.f.Name(), syncErr)
	case closeErr != nil:
		return fmt.Errorf("close %s: %w", b.f.Name(), closeErr)
	}
	return nil
}

func (b *File) newWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = b.cfg.delimiter
	return cw
}

// writeHeader writes the header line(s). Caller must hold b.mu (or own b exclusively).
func (b *File) writeHeader() error {
	if b.cfg.unitLine {
		names := make([]string, len(b.columns))
		units := make([]string, len(b.columns))
		for i, c := range b.columns {
			names[i] = c.Name
			units[i] = c.Unit
		}
		if err := b.w.Write(names); err != nil {
			return err
		}
		return b.flush(units)
	}

	labels := make([]string, len(b.columns))
	for i, c := range b.columns {
		labels[i] = c.Label()
	}
	return b.flush(labels)
}

func (b *File) flush(record []string) error {
	if err := b.w.Write(record); err != nil {
		return err
	}
	b.w.Flush()
	if err := b.w.Error(); err != nil {
		return err
	}
	if b.cfg.sync {
		return b.f.Sync()
	}
	return nil
}

// FormatValue renders a value the way streamed files store it: the shortest
// decimal that round-trips to the same float64.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
