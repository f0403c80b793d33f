// Package memtable implements storage.Storage in memory.
//
// Tables live for the lifetime of the Store. Any number of handles may read a
// table concurrently; writes take an exclusive lock on the table.
package memtable

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/vistream/storage"
)

// Store is an in-memory table store.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// New creates an empty Store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

type table struct {
	mu     sync.RWMutex
	schema storage.Schema
	cols   storage.Columns
	// cubeOff[r] is the offset of row r in the cube columns; len = rows+1.
	cubeOff []int
	written *roaring.Bitmap
}

// OpenForRead opens an existing table read-only.
func (s *Store) OpenForRead(_ context.Context, path string) (storage.Table, error) {
	t, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	return &handle{t: t, path: path}, nil
}

// OpenForWrite opens an existing table for reading and writing.
func (s *Store) OpenForWrite(_ context.Context, path string) (storage.Table, error) {
	t, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	return &handle{t: t, path: path, writable: true}, nil
}

// Create creates an empty table.
func (s *Store) Create(_ context.Context, path string, schema storage.Schema) (storage.Table, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[path]; ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrExists, path)
	}
	t := &table{
		schema:  schema.Clone(),
		cubeOff: []int{0},
		written: roaring.New(),
		cols: storage.Columns{
			Time: []float64{}, Interval: []float64{}, Antenna1: []int32{}, Antenna2: []int32{},
			FieldID: []int32{}, SpectralWindow: []int32{}, UVW: []float64{}, Weight: []float32{},
			FlagRow: []bool{}, Data: []complex64{}, Flag: []bool{},
		},
	}
	s.tables[path] = t
	return &handle{t: t, path: path, writable: true}, nil
}

// Delete removes a table. Open handles keep working on the detached data.
func (s *Store) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, path)
}

// Written returns the storage rows that received a WriteColumn since the
// table was created.
func (s *Store) Written(path string) (*roaring.Bitmap, error) {
	t, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.written.Clone(), nil
}

func (s *Store) lookup(path string) (*table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	return t, nil
}

type handle struct {
	t        *table
	path     string
	writable bool
	closed   atomic.Bool
}

func (h *handle) Schema() storage.Schema {
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()
	return h.t.schema.Clone()
}

func (h *handle) NumRows() int {
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()
	return len(h.t.cols.Time)
}

func (h *handle) Writable() bool { return h.writable }

func (h *handle) ReadRows(ctx context.Context, rows storage.RowRange, cols ...storage.Column) (*storage.Columns, error) {
	if h.closed.Load() {
		return nil, storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		cols = storage.AllColumns
	}

	t := h.t
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := rows.Check(len(t.cols.Time)); err != nil {
		return nil, err
	}
	out := &storage.Columns{Rows: rows}
	for _, col := range cols {
		lo, hi, err := t.span(col, rows)
		if err != nil {
			return nil, err
		}
		if err := out.Set(col, sliceCopy(t.cols.Get(col), lo, hi)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (h *handle) WriteColumn(ctx context.Context, rows storage.RowRange, col storage.Column, data any) error {
	if h.closed.Load() {
		return storage.ErrClosed
	}
	if !h.writable {
		return fmt.Errorf("%w: %s", storage.ErrReadOnly, h.path)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !col.Valid() {
		return fmt.Errorf("%w: unknown column %q", storage.ErrColumnType, col)
	}
	if col == storage.ColSpectralWindow {
		return fmt.Errorf("%w: %s cannot be rewritten", storage.ErrColumnType, col)
	}
	if err := (&storage.Columns{}).Set(col, data); err != nil {
		return err
	}

	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := rows.Check(len(t.cols.Time)); err != nil {
		return err
	}
	if err := t.schema.CheckLen(col, data, t.cols.SpectralWindow[rows.Start:rows.End]); err != nil {
		return err
	}
	lo, hi, err := t.span(col, rows)
	if err != nil {
		return err
	}
	if err := sliceWrite(t.cols.Get(col), data, lo, hi); err != nil {
		return err
	}
	t.written.AddRange(uint64(rows.Start), uint64(rows.End))
	return nil
}

func (h *handle) AppendRows(ctx context.Context, cols *storage.Columns) (storage.RowRange, error) {
	if h.closed.Load() {
		return storage.RowRange{}, storage.ErrClosed
	}
	if !h.writable {
		return storage.RowRange{}, fmt.Errorf("%w: %s", storage.ErrReadOnly, h.path)
	}
	if err := ctx.Err(); err != nil {
		return storage.RowRange{}, err
	}

	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := complete(cols); err != nil {
		return storage.RowRange{}, err
	}
	if err := cols.Validate(t.schema); err != nil {
		return storage.RowRange{}, err
	}

	start := len(t.cols.Time)
	c := &t.cols
	c.Time = append(c.Time, cols.Time...)
	c.Interval = append(c.Interval, cols.Interval...)
	c.Antenna1 = append(c.Antenna1, cols.Antenna1...)
	c.Antenna2 = append(c.Antenna2, cols.Antenna2...)
	c.FieldID = append(c.FieldID, cols.FieldID...)
	c.SpectralWindow = append(c.SpectralWindow, cols.SpectralWindow...)
	c.UVW = append(c.UVW, cols.UVW...)
	c.Weight = append(c.Weight, cols.Weight...)
	c.FlagRow = append(c.FlagRow, cols.FlagRow...)
	c.Data = append(c.Data, cols.Data...)
	c.Flag = append(c.Flag, cols.Flag...)

	off := t.cubeOff[len(t.cubeOff)-1]
	for _, spw := range cols.SpectralWindow {
		n, _ := t.schema.CubeLen(spw)
		off += n
		t.cubeOff = append(t.cubeOff, off)
	}
	return storage.RowRange{Start: start, End: len(c.Time)}, nil
}

func (h *handle) Close() error {
	h.closed.Store(true)
	return nil
}

// span maps a row range to element offsets within a column.
func (t *table) span(col storage.Column, rows storage.RowRange) (int, int, error) {
	switch col.Shape() {
	case storage.Scalar:
		return rows.Start, rows.End, nil
	case storage.Triple:
		return 3 * rows.Start, 3 * rows.End, nil
	case storage.PerPol:
		return t.schema.NumPol * rows.Start, t.schema.NumPol * rows.End, nil
	case storage.Cube:
		return t.cubeOff[rows.Start], t.cubeOff[rows.End], nil
	}
	return 0, 0, fmt.Errorf("%w: unknown column %q", storage.ErrColumnType, col)
}

func complete(cols *storage.Columns) error {
	for _, col := range storage.AllColumns {
		if l, ok := storage.PayloadLen(cols.Get(col)); !ok || (l == 0 && cols.Len() > 0) {
			return fmt.Errorf("%w: append requires column %s", storage.ErrColumnType, col)
		}
	}
	return nil
}

func sliceCopy(src any, lo, hi int) any {
	switch v := src.(type) {
	case []float64:
		return copyOf(v[lo:hi])
	case []float32:
		return copyOf(v[lo:hi])
	case []int32:
		return copyOf(v[lo:hi])
	case []bool:
		return copyOf(v[lo:hi])
	case []complex64:
		return copyOf(v[lo:hi])
	}
	return nil
}

func copyOf[T any](s []T) []T {
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func sliceWrite(dst, src any, lo, hi int) error {
	switch d := dst.(type) {
	case []float64:
		copy(d[lo:hi], src.([]float64))
	case []float32:
		copy(d[lo:hi], src.([]float32))
	case []int32:
		copy(d[lo:hi], src.([]int32))
	case []bool:
		copy(d[lo:hi], src.([]bool))
	case []complex64:
		copy(d[lo:hi], src.([]complex64))
	default:
		return fmt.Errorf("%w: %T", storage.ErrColumnType, dst)
	}
	return nil
}
