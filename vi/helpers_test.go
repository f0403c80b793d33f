package vi

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/storage/memtable"
	"github.com/hupe1980/vistream/testutil"
	"github.com/stretchr/testify/require"
)

func populate(t *testing.T, spec testutil.TableSpec) *memtable.Store {
	t.Helper()
	st := memtable.New()
	_, _, err := testutil.Populate(context.Background(), st, "obs", spec, testutil.NewRNG(42))
	require.NoError(t, err)
	return st
}

func newBase(t *testing.T, spec testutil.TableSpec, opts ...BaseOption) (*memtable.Store, *BaseIterator) {
	t.Helper()
	st := populate(t, spec)
	b, err := OpenBase(context.Background(), st, "obs", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return st, b
}

// traverse visits every sub-chunk of it and returns the number of rows seen.
func traverse(t *testing.T, it Iterator, fn func(buf *buffer.Buffer)) int {
	t.Helper()
	ctx := context.Background()
	rows := 0
	require.NoError(t, it.OriginChunks(ctx))
	for it.MoreChunks() {
		require.NoError(t, it.Origin(ctx))
		for it.More() {
			buf, err := it.Buffer(ctx)
			require.NoError(t, err)
			rows += buf.Rows()
			if fn != nil {
				fn(buf)
			}
			require.NoError(t, it.Next(ctx))
		}
		require.NoError(t, it.NextChunk(ctx))
	}
	return rows
}

var errBoom = errors.New("boom")

// flakyTable fails ReadRows once reads reaches failAt.
type flakyTable struct {
	storage.Table
	reads  int
	failAt int
}

func (f *flakyTable) ReadRows(ctx context.Context, rows storage.RowRange, cols ...storage.Column) (*storage.Columns, error) {
	f.reads++
	if f.reads >= f.failAt {
		return nil, errBoom
	}
	return f.Table.ReadRows(ctx, rows, cols...)
}
