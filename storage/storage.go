// Package storage defines the narrow table interface consumed by the base
// iterator, together with the column payload types shared by all backends.
//
// Two backends are provided: memtable (in-memory, used by tests and as a
// scratch output) and blobtable (compressed column blocks in a blobstore).
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a table does not exist.
	ErrNotFound = errors.New("table not found")

	// ErrExists is returned by Create when the table already exists.
	ErrExists = errors.New("table already exists")

	// ErrReadOnly is returned by write methods on a table opened for reading.
	ErrReadOnly = errors.New("table is read-only")

	// ErrClosed is returned when a closed table is used.
	ErrClosed = errors.New("table closed")

	// ErrOutOfRange is returned when a row range exceeds the table.
	ErrOutOfRange = errors.New("row range out of bounds")

	// ErrColumnType is returned when a column payload has the wrong type or length.
	ErrColumnType = errors.New("invalid column payload")

	// ErrCorrupt is returned when persisted data fails validation.
	ErrCorrupt = errors.New("table data corrupt")
)

// Storage opens tables by path.
// Implementations must be safe for concurrent use.
type Storage interface {
	OpenForRead(ctx context.Context, path string) (Table, error)
	OpenForWrite(ctx context.Context, path string) (Table, error)
	// Create creates an empty table and opens it for writing.
	Create(ctx context.Context, path string, schema Schema) (Table, error)
}

// Table is an open handle to a stored visibility table.
//
// Several read handles may be used concurrently; writes to a table are
// serialized by the backend.
type Table interface {
	Schema() Schema
	NumRows() int
	Writable() bool

	// ReadRows returns the requested columns for rows. With no columns, all
	// columns are read.
	ReadRows(ctx context.Context, rows RowRange, cols ...Column) (*Columns, error)

	// WriteColumn overwrites one column for rows. data must have the Go type
	// reported by Column.Kind and the length implied by the rows' shapes.
	WriteColumn(ctx context.Context, rows RowRange, col Column, data any) error

	// AppendRows appends complete rows and returns the range they occupy.
	AppendRows(ctx context.Context, cols *Columns) (RowRange, error)

	Close() error
}

// RowRange is the half-open row interval [Start, End).
type RowRange struct {
	Start int
	End   int
}

// Len returns the number of rows in the range.
func (r RowRange) Len() int { return r.End - r.Start }

func (r RowRange) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// Check validates r against a table with n rows.
func (r RowRange) Check(n int) error {
	if r.Start < 0 || r.End < r.Start || r.End > n {
		return fmt.Errorf("%w: %s of %d rows", ErrOutOfRange, r, n)
	}
	return nil
}

// SpectralWindow describes the channel grid shared by rows that reference it.
type SpectralWindow struct {
	ID          int32     `json:"id" yaml:"id"`
	Frequencies []float64 `json:"frequencies" yaml:"frequencies"`
}

// Channels returns the number of channels in the window.
func (w SpectralWindow) Channels() int { return len(w.Frequencies) }

// Schema describes the fixed shape of a table.
type Schema struct {
	NumPol          int              `json:"num_pol" yaml:"numPol"`
	SpectralWindows []SpectralWindow `json:"spectral_windows" yaml:"spectralWindows"`
}

// Window returns the spectral window with the given id.
func (s Schema) Window(id int32) (SpectralWindow, bool) {
	for _, w := range s.SpectralWindows {
		if w.ID == id {
			return w, true
		}
	}
	return SpectralWindow{}, false
}

// Validate checks the schema for internal consistency.
func (s Schema) Validate() error {
	if s.NumPol <= 0 || s.NumPol > 4 {
		return fmt.Errorf("invalid polarization count %d", s.NumPol)
	}
	seen := make(map[int32]bool, len(s.SpectralWindows))
	for _, w := range s.SpectralWindows {
		if seen[w.ID] {
			return fmt.Errorf("duplicate spectral window %d", w.ID)
		}
		seen[w.ID] = true
		if len(w.Frequencies) == 0 {
			return fmt.Errorf("spectral window %d has no channels", w.ID)
		}
	}
	return nil
}

// CubeLen returns the number of cube elements (P*C) of a row in window spw.
func (s Schema) CubeLen(spw int32) (int, error) {
	w, ok := s.Window(spw)
	if !ok {
		return 0, fmt.Errorf("%w: unknown spectral window %d", ErrColumnType, spw)
	}
	return s.NumPol * w.Channels(), nil
}

// Clone returns a deep copy of s.
func (s Schema) Clone() Schema {
	out := Schema{NumPol: s.NumPol, SpectralWindows: make([]SpectralWindow, len(s.SpectralWindows))}
	for i, w := range s.SpectralWindows {
		out.SpectralWindows[i] = SpectralWindow{ID: w.ID, Frequencies: append([]float64(nil), w.Frequencies...)}
	}
	return out
}
