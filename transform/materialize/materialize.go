// Package materialize implements a terminal writer layer. Every sub-chunk
// that passes through is appended, as transformed by the layers below, to an
// output table; writes are then applied to the appended rows instead of the
// source table.
//
// Typical use is the last layer of a read-only stack (smoothing, averaging)
// whose flags are edited and persisted into a new table.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/config"
	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/vi"
)

// Name is the layer type name.
const Name = "materialize"

// Materializer is the layer's Transformer and WriteHandler.
type Materializer struct {
	out      storage.Table
	appended map[vi.Position]storage.RowRange
	closed   bool
}

var (
	_ vi.Transformer  = (*Materializer)(nil)
	_ vi.WriteHandler = (*Materializer)(nil)
)

// New appends into out, which must be writable. The materializer owns out.
func New(out storage.Table) (*Materializer, error) {
	if !out.Writable() {
		return nil, fmt.Errorf("%w: output table is read-only", vi.ErrInvalidArgument)
	}
	return &Materializer{out: out, appended: make(map[vi.Position]storage.RowRange)}, nil
}

// Transform appends buf to the output table unless its position was
// appended before. buf is not modified.
func (m *Materializer) Transform(ctx context.Context, buf *buffer.Buffer) error {
	_, err := m.appendOnce(ctx, buf)
	return err
}

// HandleWrite writes col to the output rows of the current sub-chunk. The
// inner iterator is not written.
func (m *Materializer) HandleWrite(ctx context.Context, inner vi.Iterator, col storage.Column, data any) error {
	if !col.Valid() || slices.Contains(storage.KeyColumns, col) {
		return fmt.Errorf("%w: column %q cannot be written", vi.ErrInvalidArgument, col)
	}
	if err := (&storage.Columns{}).Set(col, data); err != nil {
		return fmt.Errorf("%w: %v", vi.ErrInvalidArgument, err)
	}
	buf, err := inner.Buffer(ctx)
	if err != nil {
		return err
	}
	if err := m.out.Schema().CheckLen(col, data, buf.SpectralWindow); err != nil {
		return fmt.Errorf("%w: %v", vi.ErrInvalidArgument, err)
	}
	rows, err := m.appendOnce(ctx, buf)
	if err != nil {
		return err
	}
	if err := m.out.WriteColumn(ctx, rows, col, data); err != nil {
		if errors.Is(err, storage.ErrColumnType) {
			return fmt.Errorf("%w: %v", vi.ErrInvalidArgument, err)
		}
		return &vi.StorageError{Op: "write " + string(col), Err: err}
	}
	// The stored rows are the source of truth; the mirror only keeps the
	// current buffer consistent with them.
	_ = vi.CopyColumn(buf, col, data)
	return nil
}

// CanWrite is always true: writes never reach the inner layers.
func (m *Materializer) CanWrite(bool) bool { return true }

// Close closes the output table.
func (m *Materializer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if err := m.out.Close(); err != nil {
		return &vi.StorageError{Op: "close output", Err: err}
	}
	return nil
}

func (m *Materializer) appendOnce(ctx context.Context, buf *buffer.Buffer) (storage.RowRange, error) {
	pos := vi.Position{Chunk: buf.Chunk, Subchunk: buf.Subchunk}
	if r, ok := m.appended[pos]; ok {
		return r, nil
	}
	if buf.Rows() == 0 {
		n := m.out.NumRows()
		r := storage.RowRange{Start: n, End: n}
		m.appended[pos] = r
		return r, nil
	}
	r, err := m.out.AppendRows(ctx, toColumns(buf))
	if err != nil {
		return storage.RowRange{}, &vi.StorageError{Op: "append", Err: err}
	}
	m.appended[pos] = r
	return r, nil
}

// toColumns copies the buffer into storage columns. The cube layout of the
// buffer is the per-row storage layout.
func toColumns(buf *buffer.Buffer) *storage.Columns {
	n := buf.Rows()
	flagRow := make([]bool, n)
	it := buf.RowFlags.Iterator()
	for it.HasNext() {
		if r := int(it.Next()); r < n {
			flagRow[r] = true
		}
	}
	return &storage.Columns{
		Time:           slices.Clone(buf.Time),
		Interval:       slices.Clone(buf.Interval),
		Antenna1:       slices.Clone(buf.Antenna1),
		Antenna2:       slices.Clone(buf.Antenna2),
		FieldID:        slices.Clone(buf.FieldID),
		SpectralWindow: slices.Clone(buf.SpectralWindow),
		UVW:            slices.Clone(buf.UVW),
		Weight:         slices.Clone(buf.Weight),
		FlagRow:        flagRow,
		Data:           slices.Clone(buf.Data),
		Flag:           slices.Clone(buf.Flags),
	}
}

// Schema is the configuration schema of the layer.
var Schema = config.Schema{
	config.String("path").Required().Check(func(v any) error {
		if v.(string) == "" {
			return errors.New("must not be empty")
		}
		return nil
	}),
}

// Factory returns the layer factory. Output tables are created in st with
// the schema of the layer's inner iterator.
func Factory(st storage.Storage) vi.LayerFactory {
	return vi.LayerFactory{
		Name:   Name,
		Schema: Schema,
		Create: func(ctx context.Context, inner vi.Iterator, cfg config.Record, env vi.Env) (vi.Iterator, error) {
			path := cfg.String("path")
			out, err := st.Create(ctx, path, inner.Schema())
			if err != nil {
				return nil, &vi.StorageError{Op: "create " + path, Err: err}
			}
			m, err := New(out)
			if err != nil {
				return nil, errors.Join(err, out.Close())
			}
			env.Log().DebugContext(ctx, "materializing", "path", path)
			return vi.NewTransformLayer(Name, inner, m, env), nil
		},
	}
}
