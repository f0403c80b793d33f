package vi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/internal/resource"
	"github.com/hupe1980/vistream/storage"
)

// BaseName is the name reported by the base iterator.
const BaseName = "base"

type baseOptions struct {
	chunkInterval   float64
	maxSubchunkRows int
	prefetch        []storage.Column
	writable        bool
	rc              *resource.Controller
	logger          *slog.Logger
}

// BaseOption configures a BaseIterator.
type BaseOption func(*baseOptions)

// WithChunkInterval sets the chunk time bin in seconds. Zero (the default)
// starts a new chunk at every distinct TIME.
func WithChunkInterval(seconds float64) BaseOption {
	return func(o *baseOptions) {
		o.chunkInterval = seconds
	}
}

// WithMaxSubchunkRows caps the rows per sub-chunk. Zero means unbounded.
func WithMaxSubchunkRows(n int) BaseOption {
	return func(o *baseOptions) {
		o.maxSubchunkRows = n
	}
}

// WithPrefetch restricts the columns read for each sub-chunk. TIME,
// FIELD_ID and SPECTRAL_WINDOW are always available. Columns not listed are
// left zeroed in the buffer.
func WithPrefetch(cols ...storage.Column) BaseOption {
	return func(o *baseOptions) {
		o.prefetch = slices.Clone(cols)
	}
}

// WithWritable opens the table for writing when the base is created through
// OpenBase.
func WithWritable(writable bool) BaseOption {
	return func(o *baseOptions) {
		o.writable = writable
	}
}

// WithResourceController throttles reads and accounts buffer memory.
func WithResourceController(rc *resource.Controller) BaseOption {
	return func(o *baseOptions) {
		o.rc = rc
	}
}

// WithBaseLogger sets the logger used for index diagnostics.
func WithBaseLogger(l *slog.Logger) BaseOption {
	return func(o *baseOptions) {
		o.logger = l
	}
}

// BaseIterator reads sub-chunks directly from a storage table.
//
// Rows are read when the iterator is positioned (Origin, Next), so storage
// failures surface from navigation. Buffer returns the rows already read.
type BaseIterator struct {
	table  storage.Table
	schema storage.Schema
	opts   baseOptions
	cols   []storage.Column

	keys    *storage.Columns
	chunks  []chunkSpan
	indexed bool

	chunk  int
	sub    int
	loaded bool
	stale  bool // a write changed the stored rows of the current sub-chunk

	buf       *buffer.Buffer
	accounted int64
	closed    bool
}

// NewBaseIterator creates a base iterator over an open table. The iterator
// owns the table and closes it on Close.
func NewBaseIterator(t storage.Table, opts ...BaseOption) *BaseIterator {
	o := baseOptions{prefetch: storage.AllColumns}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	var cols []storage.Column
	for _, c := range o.prefetch {
		if !slices.Contains(storage.KeyColumns, c) && !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}

	return &BaseIterator{
		table:  t,
		schema: t.Schema(),
		opts:   o,
		cols:   cols,
		sub:    -1,
		buf:    buffer.New(),
	}
}

// OpenBase opens path in st, for writing if WithWritable(true) is given, and
// creates a base iterator over it.
func OpenBase(ctx context.Context, st storage.Storage, path string, opts ...BaseOption) (*BaseIterator, error) {
	var o baseOptions
	for _, fn := range opts {
		fn(&o)
	}

	var (
		t   storage.Table
		err error
	)
	if o.writable {
		t, err = st.OpenForWrite(ctx, path)
	} else {
		t, err = st.OpenForRead(ctx, path)
	}
	if err != nil {
		return nil, storageError("open "+path, err)
	}
	return NewBaseIterator(t, opts...), nil
}

func (b *BaseIterator) Name() string { return BaseName }

// OriginChunks re-reads the key columns and rebuilds the chunk index.
func (b *BaseIterator) OriginChunks(ctx context.Context) error {
	if b.closed {
		return invalidState("base iterator closed")
	}
	b.indexed, b.loaded = false, false
	b.chunk, b.sub = 0, -1

	keys, err := b.table.ReadRows(ctx, storage.RowRange{Start: 0, End: b.table.NumRows()}, storage.KeyColumns...)
	if err != nil {
		return storageError("index", err)
	}
	b.keys = keys
	b.chunks = buildIndex(keys, b.opts.chunkInterval, b.opts.maxSubchunkRows)
	b.indexed = true

	b.opts.logger.DebugContext(ctx, "chunk index built",
		"rows", len(keys.Time),
		"chunks", len(b.chunks),
	)
	return nil
}

func (b *BaseIterator) MoreChunks() bool {
	return !b.closed && b.indexed && b.chunk < len(b.chunks)
}

func (b *BaseIterator) NextChunk(context.Context) error {
	if !b.MoreChunks() {
		return invalidState("no current chunk")
	}
	b.chunk++
	b.sub = -1
	b.loaded = false
	return nil
}

func (b *BaseIterator) Origin(ctx context.Context) error {
	if !b.MoreChunks() {
		return invalidState("no current chunk")
	}
	b.sub = 0
	return b.load(ctx)
}

func (b *BaseIterator) More() bool {
	return b.MoreChunks() && b.loaded
}

func (b *BaseIterator) Next(ctx context.Context) error {
	if !b.More() {
		return invalidState("no current sub-chunk")
	}
	b.sub++
	return b.load(ctx)
}

// Buffer returns the current sub-chunk. After a write the rows are read
// again from storage.
func (b *BaseIterator) Buffer(ctx context.Context) (*buffer.Buffer, error) {
	if !b.More() {
		return nil, invalidState("no current sub-chunk")
	}
	if b.stale {
		if err := b.load(ctx); err != nil {
			return nil, err
		}
	}
	return b.buf, nil
}

func (b *BaseIterator) Position() Position {
	return Position{Chunk: b.chunk, Subchunk: b.sub}
}

func (b *BaseIterator) Schema() storage.Schema { return b.schema.Clone() }

func (b *BaseIterator) CanWrite() bool { return !b.closed && b.table.Writable() }

// WriteColumn writes col for the rows of the current sub-chunk and mirrors
// the written values into the buffer. The next Buffer call re-reads the
// sub-chunk, so layers above start again from the stored rows.
func (b *BaseIterator) WriteColumn(ctx context.Context, col storage.Column, data any) error {
	if !b.More() {
		return invalidState("write outside a sub-chunk")
	}
	if !b.table.Writable() {
		return fmt.Errorf("%w: table opened read-only", Unsupported(BaseName, "writes"))
	}
	if !col.Valid() || slices.Contains(storage.KeyColumns, col) {
		return fmt.Errorf("%w: column %q cannot be written", ErrInvalidArgument, col)
	}
	if err := (&storage.Columns{}).Set(col, data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := b.schema.CheckLen(col, data, b.buf.SpectralWindow); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	rows := b.chunks[b.chunk].subs[b.sub]
	if err := b.table.WriteColumn(ctx, rows, col, data); err != nil {
		if errors.Is(err, storage.ErrReadOnly) {
			return fmt.Errorf("%w: %v", Unsupported(BaseName, "writes"), err)
		}
		return storageError("write "+string(col), err)
	}
	b.mirror(col, data)
	b.stale = true
	return nil
}

// Close releases the buffer reservation and closes the table.
func (b *BaseIterator) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.loaded = false
	b.opts.rc.ReleaseMemory(b.accounted)
	b.accounted = 0
	return storageError("close", b.table.Close())
}

func (b *BaseIterator) load(ctx context.Context) error {
	b.loaded, b.stale = false, false
	ch := b.chunks[b.chunk]
	if b.sub >= len(ch.subs) {
		return nil
	}
	rows := ch.subs[b.sub]

	win, ok := b.schema.Window(ch.spw)
	if !ok {
		return storageError("read", fmt.Errorf("%w: unknown spectral window %d", storage.ErrCorrupt, ch.spw))
	}

	var cols *storage.Columns
	if len(b.cols) > 0 {
		if err := b.opts.rc.AcquireIO(ctx, b.estimate(rows.Len(), win.Channels())); err != nil {
			return storageError("read", err)
		}
		var err error
		if cols, err = b.table.ReadRows(ctx, rows, b.cols...); err != nil {
			return storageError("read", err)
		}
	} else {
		cols = &storage.Columns{Rows: rows}
	}

	if err := b.fill(rows, win, cols); err != nil {
		return storageError("read", err)
	}

	if size := b.buf.SizeBytes(); size > b.accounted {
		if err := b.opts.rc.AcquireMemory(size - b.accounted); err != nil {
			return storageError("read", err)
		}
		b.accounted = size
	}
	b.loaded = true
	return nil
}

func (b *BaseIterator) fill(rows storage.RowRange, win storage.SpectralWindow, cols *storage.Columns) error {
	buf := b.buf
	n := rows.Len()
	nPol := b.schema.NumPol

	buf.Reset(nPol, win.Channels(), n)
	buf.Chunk, buf.Subchunk = b.chunk, b.sub
	copy(buf.Frequencies, win.Frequencies)

	copy(buf.Time, b.keys.Time[rows.Start:rows.End])
	copy(buf.FieldID, b.keys.FieldID[rows.Start:rows.End])
	copy(buf.SpectralWindow, b.keys.SpectralWindow[rows.Start:rows.End])
	for r := range n {
		buf.Meta[r].SourceRow = int64(rows.Start + r)
	}

	for _, col := range b.cols {
		if err := CopyColumn(buf, col, cols.Get(col)); err != nil {
			return err
		}
	}
	return nil
}

// CopyColumn copies a column payload into buf, rejecting payloads whose
// length does not match the buffer shape.
func CopyColumn(buf *buffer.Buffer, col storage.Column, data any) error {
	var ok bool
	switch col {
	case storage.ColInterval:
		ok = copyExact(buf.Interval, data)
	case storage.ColAntenna1:
		ok = copyExact(buf.Antenna1, data)
	case storage.ColAntenna2:
		ok = copyExact(buf.Antenna2, data)
	case storage.ColUVW:
		ok = copyExact(buf.UVW, data)
	case storage.ColWeight:
		ok = copyExact(buf.Weight, data)
	case storage.ColData:
		ok = copyExact(buf.Data, data)
	case storage.ColFlag:
		ok = copyExact(buf.Flags, data)
	case storage.ColFlagRow:
		flags, isBool := data.([]bool)
		ok = isBool && len(flags) == buf.Rows()
		if ok {
			buf.RowFlags.Clear()
			for r, f := range flags {
				if f {
					buf.RowFlags.Add(uint32(r))
				}
			}
		}
	default:
		ok = true
	}
	if !ok {
		return fmt.Errorf("%w: column %s does not match the buffer shape", storage.ErrCorrupt, col)
	}
	return nil
}

func (b *BaseIterator) mirror(col storage.Column, data any) {
	// Layers above may have reshaped the buffer; CopyColumn then refuses
	// the copy and the stored values win on the next read.
	_ = CopyColumn(b.buf, col, data)
}

func (b *BaseIterator) estimate(rows, nChan int) int {
	nPol := b.schema.NumPol
	per := 0
	for _, c := range b.cols {
		switch c.Shape() {
		case storage.Cube:
			if c == storage.ColData {
				per += nPol * nChan * 8
			} else {
				per += nPol * nChan
			}
		case storage.PerPol:
			per += nPol * 4
		case storage.Triple:
			per += 24
		default:
			per += 8
		}
	}
	return rows * per
}

func copyExact[T any](dst []T, data any) bool {
	src, ok := data.([]T)
	if !ok || len(src) != len(dst) {
		return false
	}
	copy(dst, src)
	return true
}
