package vi

import (
	"context"
	"testing"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/internal/resource"
	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseIterator_Traversal(t *testing.T) {
	spec := testutil.TableSpec{}

	tests := []struct {
		name      string
		opts      []BaseOption
		chunks    int
		subchunks int
	}{
		{name: "chunk per time", chunks: 4, subchunks: 4},
		{name: "single chunk", opts: []BaseOption{WithChunkInterval(100)}, chunks: 1, subchunks: 4},
		{name: "row cap", opts: []BaseOption{WithChunkInterval(100), WithMaxSubchunkRows(4)}, chunks: 1, subchunks: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, b := newBase(t, spec, tt.opts...)
			chunks := map[int]bool{}
			subs := 0
			rows := traverse(t, b, func(buf *buffer.Buffer) {
				chunks[buf.Chunk] = true
				subs++
				require.NoError(t, buf.Validate())
			})
			assert.Equal(t, spec.Rows(), rows)
			assert.Len(t, chunks, tt.chunks)
			assert.Equal(t, tt.subchunks, subs)
		})
	}
}

func TestBaseIterator_BufferMatchesStorage(t *testing.T) {
	spec := testutil.TableSpec{FlagFraction: 0.3}
	_, cols := testutil.NewRNG(42).Generate(spec)
	_, b := newBase(t, spec)

	traverse(t, b, func(buf *buffer.Buffer) {
		for r := range buf.Rows() {
			src := int(buf.Meta[r].SourceRow)
			stride := buf.RowStride()
			assert.Equal(t, cols.Data[src*stride:(src+1)*stride], buf.DataRow(r))
			assert.Equal(t, cols.Flag[src*stride:(src+1)*stride], buf.FlagsRow(r))
			assert.Equal(t, cols.Antenna1[src], buf.Antenna1[r])
			assert.Equal(t, cols.Time[src], buf.Time[r])
		}
		assert.InDelta(t, 1e9, buf.Frequencies[0], 1)
	})
}

func TestBaseIterator_InvalidState(t *testing.T) {
	ctx := context.Background()
	_, b := newBase(t, testutil.TableSpec{Times: 1})

	_, err := b.Buffer(ctx)
	assert.ErrorIs(t, err, ErrInvalidState, "buffer before OriginChunks")
	assert.ErrorIs(t, b.Origin(ctx), ErrInvalidState)

	require.NoError(t, b.OriginChunks(ctx))
	_, err = b.Buffer(ctx)
	assert.ErrorIs(t, err, ErrInvalidState, "buffer before Origin")

	require.NoError(t, b.Origin(ctx))
	require.NoError(t, b.Next(ctx))
	assert.False(t, b.More())
	assert.ErrorIs(t, b.Next(ctx), ErrInvalidState)

	require.NoError(t, b.NextChunk(ctx))
	assert.False(t, b.MoreChunks())
	assert.ErrorIs(t, b.NextChunk(ctx), ErrInvalidState)
}

func TestBaseIterator_Write(t *testing.T) {
	ctx := context.Background()
	st, b := newBase(t, testutil.TableSpec{}, WithWritable(true))
	require.True(t, b.CanWrite())

	require.NoError(t, b.OriginChunks(ctx))
	require.NoError(t, b.Origin(ctx))
	buf, err := b.Buffer(ctx)
	require.NoError(t, err)

	flags := make([]bool, len(buf.Flags))
	for i := range flags {
		flags[i] = true
	}
	require.NoError(t, b.WriteColumn(ctx, storage.ColFlag, flags))
	assert.Equal(t, flags, buf.Flags, "buffer mirrors the write")

	require.NoError(t, b.WriteColumn(ctx, storage.ColFlagRow, []bool{true, false, false, false, false, true}))
	assert.True(t, buf.RowFlags.Contains(0))
	assert.True(t, buf.RowFlags.Contains(5))

	written, err := st.Written("obs")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), written.GetCardinality())

	assert.ErrorIs(t, b.WriteColumn(ctx, storage.ColFlag, flags[:3]), ErrInvalidArgument)
	assert.ErrorIs(t, b.WriteColumn(ctx, storage.ColFlag, []float64{1}), ErrInvalidArgument)
	assert.ErrorIs(t, b.WriteColumn(ctx, storage.ColTime, make([]float64, 6)), ErrInvalidArgument)
}

func TestBaseIterator_ReadOnlyWrite(t *testing.T) {
	ctx := context.Background()
	_, b := newBase(t, testutil.TableSpec{})
	assert.False(t, b.CanWrite())

	require.NoError(t, b.OriginChunks(ctx))
	require.NoError(t, b.Origin(ctx))
	err := b.WriteColumn(ctx, storage.ColFlag, make([]bool, 6*16))
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestBaseIterator_StorageFailure(t *testing.T) {
	ctx := context.Background()
	st := populate(t, testutil.TableSpec{})
	tbl, err := st.OpenForRead(ctx, "obs")
	require.NoError(t, err)

	// read 1 is the index, read 2 the first sub-chunk
	b := NewBaseIterator(&flakyTable{Table: tbl, failAt: 3})
	defer b.Close()

	require.NoError(t, b.OriginChunks(ctx))
	require.NoError(t, b.Origin(ctx))
	require.NoError(t, b.NextChunk(ctx))

	err = b.Origin(ctx)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, b.More())

	_, err = b.Buffer(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestBaseIterator_OpenMissing(t *testing.T) {
	st := populate(t, testutil.TableSpec{})
	_, err := OpenBase(context.Background(), st, "missing")
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBaseIterator_Prefetch(t *testing.T) {
	_, b := newBase(t, testutil.TableSpec{}, WithPrefetch(storage.ColAntenna1, storage.ColAntenna2))
	traverse(t, b, func(buf *buffer.Buffer) {
		assert.NotZero(t, buf.Time[0])
		assert.Equal(t, int32(1), buf.Antenna2[0])
		assert.Zero(t, buf.Data[0], "DATA was not prefetched")
	})
}

func TestBaseIterator_MemoryAccounting(t *testing.T) {
	ctx := context.Background()

	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64})
	_, b := newBase(t, testutil.TableSpec{}, WithResourceController(rc))
	require.NoError(t, b.OriginChunks(ctx))
	err := b.Origin(ctx)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)

	rc = resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})
	_, b = newBase(t, testutil.TableSpec{}, WithResourceController(rc))
	traverse(t, b, nil)
	assert.Positive(t, rc.MemoryUsage())
	require.NoError(t, b.Close())
	assert.Zero(t, rc.MemoryUsage())
}

func TestBaseIterator_Close(t *testing.T) {
	ctx := context.Background()
	_, b := newBase(t, testutil.TableSpec{})

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")

	assert.ErrorIs(t, b.OriginChunks(ctx), ErrInvalidState)
	assert.False(t, b.MoreChunks())
	assert.False(t, b.More())
	assert.False(t, b.CanWrite())
}
