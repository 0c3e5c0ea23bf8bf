package results

import "errors"

// multi fans each operation out to several backends.
type multi struct {
	backends []Backend
}

// Multi returns a Backend that writes every row to all of backends, in order.
// A write stops at the first failing backend. Close always reaches every
// backend and joins their errors.
func Multi(backends ...Backend) Backend {
	bs := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			bs = append(bs, b)
		}
	}
	return &multi{backends: bs}
}

func (m *multi) Write(row Row) error {
	for _, b := range m.backends {
		if err := b.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (m *multi) Reset() error {
	for _, b := range m.backends {
		if err := b.Reset(); err != nil {
			return err
		}
	}
	return nil
}

func (m *multi) Close() error {
	var errs []error
	for _, b := range m.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rows returns the rows of the first backend that keeps them in memory.
func (m *multi) Rows() []Row {
	for _, b := range m.backends {
		if r, ok := b.(interface{ Rows() []Row }); ok {
			return r.Rows()
		}
	}
	return nil
}
