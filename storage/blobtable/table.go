package blobtable

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vistream/blobstore"
	"github.com/hupe1980/vistream/storage"
	"golang.org/x/sync/errgroup"
)

type table struct {
	store *Store
	path  string

	mu  sync.RWMutex
	lay layout
}

// layout is the row-to-block mapping of a table.
type layout struct {
	meta tableMeta
	// cubeOff[r] is the element offset of row r in the cube columns.
	cubeOff []int
}

// offset returns the element offset of row r within col.
func (t *layout) offset(col storage.Column, r int) int {
	switch col.Shape() {
	case storage.Triple:
		return 3 * r
	case storage.PerPol:
		return t.meta.Schema.NumPol * r
	case storage.Cube:
		return t.cubeOff[r]
	}
	return r
}

func (t *layout) blockRows(idx int) storage.RowRange {
	rpb := t.meta.RowsPerBlock
	return storage.RowRange{Start: idx * rpb, End: min((idx+1)*rpb, t.meta.NumRows)}
}

func (t *table) fetchBlock(ctx context.Context, col storage.Column, idx int) (any, error) {
	rc := t.store.opts.rc
	if err := rc.AcquireRead(ctx); err != nil {
		return nil, err
	}
	defer rc.ReleaseRead()

	b, err := t.store.blobs.Open(ctx, blockName(t.path, col, idx))
	if err != nil {
		return nil, fmt.Errorf("%s block %d: %w", col, idx, err)
	}
	defer func() { _ = b.Close() }()

	if err := rc.AcquireIO(ctx, int(b.Size())); err != nil {
		return nil, err
	}
	raw, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return nil, err
	}
	data, err := decodeBlock(raw, col)
	if err != nil {
		return nil, fmt.Errorf("%s block %d: %w", col, idx, err)
	}

	rows := t.lay.blockRows(idx)
	if n, _ := storage.PayloadLen(data); n < t.lay.offset(col, rows.End)-t.lay.offset(col, rows.Start) {
		return nil, fmt.Errorf("%w: %s block %d holds %d values", storage.ErrCorrupt, col, idx, n)
	}
	return data, nil
}

// readColumn reads rows of col. Callers hold t.mu.
func (t *table) readColumn(ctx context.Context, col storage.Column, rows storage.RowRange) (any, error) {
	if rows.Len() == 0 {
		return concat(col, nil)
	}
	rpb := t.lay.meta.RowsPerBlock
	first, last := rows.Start/rpb, (rows.End-1)/rpb

	parts := make([]any, 0, last-first+1)
	for idx := first; idx <= last; idx++ {
		data, err := t.fetchBlock(ctx, col, idx)
		if err != nil {
			return nil, err
		}
		br := t.lay.blockRows(idx)
		lo := max(rows.Start, br.Start)
		hi := min(rows.End, br.End)
		base := t.lay.offset(col, br.Start)
		parts = append(parts, subslice(data, t.lay.offset(col, lo)-base, t.lay.offset(col, hi)-base))
	}
	return concat(col, parts)
}

func (t *table) putBlock(ctx context.Context, col storage.Column, idx int, data any) error {
	codec, _ := ParseCompression(t.lay.meta.Compression)
	enc, err := encodeBlock(data, codec)
	if err != nil {
		return err
	}
	return t.store.blobs.Put(ctx, blockName(t.path, col, idx), enc)
}

type handle struct {
	t        *table
	writable bool
	closed   atomic.Bool
}

func (h *handle) Schema() storage.Schema {
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()
	return h.t.lay.meta.Schema.Clone()
}

func (h *handle) NumRows() int {
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()
	return h.t.lay.meta.NumRows
}

func (h *handle) Writable() bool { return h.writable }

func (h *handle) ReadRows(ctx context.Context, rows storage.RowRange, cols ...storage.Column) (*storage.Columns, error) {
	if h.closed.Load() {
		return nil, storage.ErrClosed
	}
	if len(cols) == 0 {
		cols = storage.AllColumns
	}
	for _, col := range cols {
		if !col.Valid() {
			return nil, fmt.Errorf("%w: unknown column %q", storage.ErrColumnType, col)
		}
	}

	t := h.t
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := rows.Check(t.lay.meta.NumRows); err != nil {
		return nil, err
	}

	results := make([]any, len(cols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.store.opts.rc.MaxConcurrentReads())
	for i, col := range cols {
		g.Go(func() error {
			data, err := t.readColumn(gctx, col, rows)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &storage.Columns{Rows: rows}
	for i, col := range cols {
		if err := out.Set(col, results[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (h *handle) WriteColumn(ctx context.Context, rows storage.RowRange, col storage.Column, data any) error {
	if err := h.checkWrite(ctx); err != nil {
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

	if err := rows.Check(t.lay.meta.NumRows); err != nil {
		return err
	}
	n, _ := storage.PayloadLen(data)
	if want := t.lay.offset(col, rows.End) - t.lay.offset(col, rows.Start); n != want {
		return fmt.Errorf("%w: column %s has %d values, want %d", storage.ErrColumnType, col, n, want)
	}
	if rows.Len() == 0 {
		return nil
	}

	rpb := t.lay.meta.RowsPerBlock
	start := t.lay.offset(col, rows.Start)
	for idx := rows.Start / rpb; idx <= (rows.End-1)/rpb; idx++ {
		block, err := t.fetchBlock(ctx, col, idx)
		if err != nil {
			return err
		}
		br := t.lay.blockRows(idx)
		lo := max(rows.Start, br.Start)
		hi := min(rows.End, br.End)
		base := t.lay.offset(col, br.Start)

		src := subslice(data, t.lay.offset(col, lo)-start, t.lay.offset(col, hi)-start)
		if err := patch(block, t.lay.offset(col, lo)-base, src); err != nil {
			return err
		}
		if err := t.putBlock(ctx, col, idx, block); err != nil {
			return err
		}
	}
	return nil
}

func (h *handle) AppendRows(ctx context.Context, cols *storage.Columns) (storage.RowRange, error) {
	if err := h.checkWrite(ctx); err != nil {
		return storage.RowRange{}, err
	}
	for _, col := range storage.AllColumns {
		if l, ok := storage.PayloadLen(cols.Get(col)); !ok || (l == 0 && cols.Len() > 0) {
			return storage.RowRange{}, fmt.Errorf("%w: append requires column %s", storage.ErrColumnType, col)
		}
	}

	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := cols.Validate(t.lay.meta.Schema); err != nil {
		return storage.RowRange{}, err
	}
	n := cols.Len()
	start := t.lay.meta.NumRows
	if n == 0 {
		return storage.RowRange{Start: start, End: start}, nil
	}

	cubeOff, err := cubeOffsets(t.lay.meta.Schema, t.lay.cubeOff, cols.SpectralWindow)
	if err != nil {
		return storage.RowRange{}, err
	}

	// Blocks are laid out for the grown table; the layout is committed
	// after the metadata is written.
	next := layout{meta: t.lay.meta, cubeOff: cubeOff}
	next.meta.NumRows = start + n

	rpb := t.lay.meta.RowsPerBlock
	firstBlock := start / rpb
	lastBlock := (start + n - 1) / rpb

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.store.opts.rc.MaxConcurrentReads())
	for _, col := range storage.AllColumns {
		g.Go(func() error {
			payload := cols.Get(col)
			if start%rpb != 0 {
				// merge with the existing tail of the last partial block
				tail, err := t.readColumn(gctx, col, storage.RowRange{Start: firstBlock * rpb, End: start})
				if err != nil {
					return err
				}
				if payload, err = concat(col, []any{tail, payload}); err != nil {
					return err
				}
			}
			base := next.offset(col, firstBlock*rpb)
			for idx := firstBlock; idx <= lastBlock; idx++ {
				br := next.blockRows(idx)
				block := subslice(payload, next.offset(col, br.Start)-base, next.offset(col, br.End)-base)
				if err := t.putBlock(gctx, col, idx, block); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return storage.RowRange{}, err
	}

	data, err := encodeMeta(&next.meta)
	if err != nil {
		return storage.RowRange{}, err
	}
	if err := t.store.blobs.Put(ctx, metaName(t.path), data); err != nil {
		return storage.RowRange{}, err
	}
	t.lay = next
	return storage.RowRange{Start: start, End: start + n}, nil
}

func (h *handle) Close() error {
	h.closed.Store(true)
	return nil
}

func (h *handle) checkWrite(ctx context.Context) error {
	if h.closed.Load() {
		return storage.ErrClosed
	}
	if !h.writable {
		return fmt.Errorf("%w: %s", storage.ErrReadOnly, h.t.path)
	}
	return ctx.Err()
}
