// Package blobtable implements storage.Storage on top of a blobstore.
//
// A table at path is laid out as
//
//	<path>/table.json            metadata (schema, row count, block layout)
//	<path>/<COLUMN>/<i>.blk      rows [i*RowsPerBlock, (i+1)*RowsPerBlock) of COLUMN
//
// Blocks are checksummed with CRC32C and optionally compressed with LZ4 or
// ZSTD. Columns are decoded in parallel, bounded by the resource controller.
// Handles opened from the same Store share table state, so appends are
// visible to every handle. Writes are serialized per table.
package blobtable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/vistream/blobstore"
	"github.com/hupe1980/vistream/internal/resource"
	"github.com/hupe1980/vistream/storage"
)

// DefaultRowsPerBlock is the default number of rows per column block.
const DefaultRowsPerBlock = 4096

type options struct {
	compression  Compression
	rowsPerBlock int
	rc           *resource.Controller
}

// Option configures a Store.
type Option func(*options)

// WithCompression sets the codec for newly written blocks.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithRowsPerBlock sets the block size of tables created by the store.
func WithRowsPerBlock(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.rowsPerBlock = n
		}
	}
}

// WithResourceController throttles block reads and bounds decode concurrency.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}

// Store is a table store over a BlobStore.
type Store struct {
	blobs blobstore.BlobStore
	opts  options

	mu     sync.Mutex
	tables map[string]*table
}

// New creates a Store.
func New(blobs blobstore.BlobStore, optFns ...Option) *Store {
	opts := options{
		compression:  CompressionZSTD,
		rowsPerBlock: DefaultRowsPerBlock,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{blobs: blobs, opts: opts, tables: make(map[string]*table)}
}

// OpenForRead opens an existing table read-only.
func (s *Store) OpenForRead(ctx context.Context, path string) (storage.Table, error) {
	t, err := s.table(ctx, path)
	if err != nil {
		return nil, err
	}
	return &handle{t: t}, nil
}

// OpenForWrite opens an existing table for reading and writing.
func (s *Store) OpenForWrite(ctx context.Context, path string) (storage.Table, error) {
	t, err := s.table(ctx, path)
	if err != nil {
		return nil, err
	}
	return &handle{t: t, writable: true}, nil
}

// Create writes the metadata of an empty table and opens it for writing.
func (s *Store) Create(ctx context.Context, path string, schema storage.Schema) (storage.Table, error) {
	path = clean(path)
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[path]; ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrExists, path)
	}
	b, err := s.blobs.Open(ctx, metaName(path))
	if err == nil {
		_ = b.Close()
		return nil, fmt.Errorf("%w: %s", storage.ErrExists, path)
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return nil, err
	}

	meta := &tableMeta{
		Version:      metaVersion,
		Schema:       schema.Clone(),
		RowsPerBlock: s.opts.rowsPerBlock,
		Compression:  s.opts.compression.String(),
	}
	data, err := encodeMeta(meta)
	if err != nil {
		return nil, err
	}
	if err := s.blobs.Put(ctx, metaName(path), data); err != nil {
		return nil, err
	}

	t := &table{store: s, path: path, lay: layout{meta: *meta, cubeOff: []int{0}}}
	s.tables[path] = t
	return &handle{t: t, writable: true}, nil
}

// Delete removes every blob of the table.
func (s *Store) Delete(ctx context.Context, path string) error {
	path = clean(path)

	s.mu.Lock()
	t := s.tables[path]
	delete(s.tables, path)
	s.mu.Unlock()

	if t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
	}

	names, err := s.blobs.List(ctx, path+"/")
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	// metadata first so a partial delete never looks like a valid table
	if err := s.blobs.Delete(ctx, metaName(path)); err != nil {
		return err
	}
	for _, name := range names {
		if err := s.blobs.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) table(ctx context.Context, path string) (*table, error) {
	path = clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tables[path]; ok {
		return t, nil
	}
	t, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}
	s.tables[path] = t
	return t, nil
}

func (s *Store) load(ctx context.Context, path string) (*table, error) {
	data, err := blobstore.Get(ctx, s.blobs, metaName(path))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, err
	}
	meta, err := decodeMeta(data)
	if err != nil {
		return nil, err
	}

	t := &table{store: s, path: path, lay: layout{meta: *meta}}
	spw, err := t.readColumn(ctx, storage.ColSpectralWindow, storage.RowRange{End: meta.NumRows})
	if err != nil {
		return nil, err
	}
	t.lay.cubeOff, err = cubeOffsets(meta.Schema, []int{0}, spw.([]int32))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	return t, nil
}

func cubeOffsets(schema storage.Schema, base []int, spws []int32) ([]int, error) {
	out := append(make([]int, 0, len(base)+len(spws)), base...)
	off := out[len(out)-1]
	for _, spw := range spws {
		n, err := schema.CubeLen(spw)
		if err != nil {
			return nil, err
		}
		off += n
		out = append(out, off)
	}
	return out, nil
}

func clean(path string) string {
	return strings.Trim(path, "/")
}
