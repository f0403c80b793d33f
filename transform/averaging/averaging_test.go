package averaging

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/config"
	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/storage/memtable"
	"github.com/hupe1980/vistream/testutil"
	"github.com/hupe1980/vistream/vi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byTime makes every sample equal to its integration index.
var byTime = testutil.TableSpec{
	Value: func(row, _, _ int) complex64 { return complex(float32(row/6), 0) },
}

func openBase(t *testing.T, spec testutil.TableSpec, opts ...vi.BaseOption) vi.Iterator {
	t.Helper()
	st := memtable.New()
	_, _, err := testutil.Populate(context.Background(), st, "obs", spec, testutil.NewRNG(7))
	require.NoError(t, err)
	b, err := vi.OpenBase(context.Background(), st, "obs", opts...)
	require.NoError(t, err)
	return b
}

func collect(t *testing.T, it vi.Iterator) []*buffer.Buffer {
	t.Helper()
	ctx := context.Background()
	var out []*buffer.Buffer
	require.NoError(t, it.OriginChunks(ctx))
	for it.MoreChunks() {
		require.NoError(t, it.Origin(ctx))
		for it.More() {
			buf, err := it.Buffer(ctx)
			require.NoError(t, err)
			out = append(out, buf.Clone())
			require.NoError(t, it.Next(ctx))
		}
		require.NoError(t, it.NextChunk(ctx))
	}
	return out
}

func TestAverager_MergesAcrossSubchunkBoundaries(t *testing.T) {
	base := openBase(t, byTime, vi.WithChunkInterval(100))
	a, err := New(base, Options{Interval: 20}, vi.Env{})
	require.NoError(t, err)
	defer a.Close()

	bufs := collect(t, a)
	require.Len(t, bufs, 2)

	for w, buf := range bufs {
		assert.Equal(t, 6, buf.Rows())
		assert.Equal(t, w, buf.Subchunk)
		for r := range buf.Rows() {
			assert.InDelta(t, 1005+20*float64(w), buf.Time[r], 1e-9)
			assert.InDelta(t, 20, buf.Interval[r], 1e-9)
			assert.Equal(t, 2, buf.Meta[r].Counts)
			assert.Equal(t, int64(-1), buf.Meta[r].SourceRow)
			assert.InDelta(t, 2, buf.Weight[r*2], 1e-6)
		}
		for _, v := range buf.Data {
			assert.InDelta(t, 0.5+2*float64(w), real(v), 1e-6)
		}
		assert.Equal(t, uint64(0), buf.RowFlags.GetCardinality())
	}

	// Baselines keep their first-appearance order.
	assert.Equal(t, []int32{0, 0, 0, 1, 1, 2}, bufs[0].Antenna1)
	assert.Equal(t, []int32{1, 2, 3, 2, 3, 3}, bufs[0].Antenna2)
}

func TestAverager_WindowLongerThanChunk(t *testing.T) {
	// Windows never span chunks: with exact-time chunking each input row
	// passes through as a single-row average.
	base := openBase(t, testutil.TableSpec{})
	a, err := New(base, Options{Interval: 1e6}, vi.Env{})
	require.NoError(t, err)
	defer a.Close()

	bufs := collect(t, a)
	require.Len(t, bufs, 4)
	for i, buf := range bufs {
		assert.Equal(t, i, buf.Chunk)
		for r := range buf.Rows() {
			assert.Equal(t, 1, buf.Meta[r].Counts)
			assert.Equal(t, int64(i*6+r), buf.Meta[r].SourceRow)
		}
	}
}

func TestAverager_MaxRows(t *testing.T) {
	spec := testutil.TableSpec{}

	base := openBase(t, spec, vi.WithChunkInterval(100), vi.WithMaxSubchunkRows(3))
	a, err := New(base, Options{Interval: 1e6}, vi.Env{})
	require.NoError(t, err)
	bufs := collect(t, a)
	require.NoError(t, a.Close())
	require.Len(t, bufs, 1)
	assert.Equal(t, 6, bufs[0].Rows())
	assert.Equal(t, 4, bufs[0].Meta[0].Counts)

	base = openBase(t, spec, vi.WithChunkInterval(100), vi.WithMaxSubchunkRows(3))
	a, err = New(base, Options{Interval: 1e6, MaxRows: 3}, vi.Env{})
	require.NoError(t, err)
	bufs = collect(t, a)
	require.NoError(t, a.Close())
	require.Len(t, bufs, 8)
	for _, buf := range bufs {
		assert.Equal(t, 3, buf.Rows())
	}
}

func TestAverager_NextWithoutBuffer(t *testing.T) {
	ctx := context.Background()
	base := openBase(t, byTime, vi.WithChunkInterval(100))
	a, err := New(base, Options{Interval: 20}, vi.Env{})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.OriginChunks(ctx))
	require.NoError(t, a.Origin(ctx))
	require.NoError(t, a.Next(ctx))
	assert.Equal(t, vi.Position{Chunk: 0, Subchunk: 1}, a.Position())

	buf, err := a.Buffer(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, real(buf.Data[0]), 1e-6)

	require.NoError(t, a.Next(ctx))
	assert.False(t, a.More())
	assert.ErrorIs(t, a.Next(ctx), vi.ErrInvalidState)
	_, err = a.Buffer(ctx)
	assert.ErrorIs(t, err, vi.ErrInvalidState)
}

func TestAverager_RetryAfterInnerFailure(t *testing.T) {
	want := func() []*buffer.Buffer {
		a, err := New(openBase(t, byTime, vi.WithChunkInterval(100)), Options{Interval: 20}, vi.Env{})
		require.NoError(t, err)
		defer a.Close()
		return collect(t, a)
	}()

	errBoom := errors.New("boom")
	calls := 0
	flaky := vi.NewTransformLayer("flaky", openBase(t, byTime, vi.WithChunkInterval(100)),
		vi.TransformFunc(func(context.Context, *buffer.Buffer) error {
			calls++
			if calls == 2 {
				return errBoom
			}
			return nil
		}), vi.Env{})

	a, err := New(flaky, Options{Interval: 20}, vi.Env{})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.OriginChunks(ctx))
	require.NoError(t, a.Origin(ctx))
	_, err = a.Buffer(ctx)
	require.ErrorIs(t, err, errBoom)
	require.ErrorIs(t, err, vi.ErrTransform)

	buf, err := a.Buffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, want[0].Data, buf.Data)
	assert.Equal(t, want[0].Time, buf.Time)
}

// failAtStart fails every sub-chunk of the first integration (TIME 1000).
func failAtStart(inner vi.Iterator) vi.Iterator {
	return vi.NewTransformLayer("bad", inner, vi.TransformFunc(func(_ context.Context, buf *buffer.Buffer) error {
		if buf.Time[0] == 1000 {
			return errors.New("malformed")
		}
		return nil
	}), vi.Env{})
}

func TestAverager_NextSkipsFailedInput(t *testing.T) {
	ctx := context.Background()
	a, err := New(failAtStart(openBase(t, byTime, vi.WithChunkInterval(100))), Options{Interval: 20}, vi.Env{})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.OriginChunks(ctx))
	require.NoError(t, a.Origin(ctx))
	_, err = a.Buffer(ctx)
	require.ErrorIs(t, err, vi.ErrTransform)
	_, err = a.Buffer(ctx)
	require.ErrorIs(t, err, vi.ErrTransform, "retry hits the same input")

	require.NoError(t, a.Next(ctx))
	require.True(t, a.More())
	assert.Equal(t, 1, a.Position().Subchunk)

	// the next window starts after the skipped integration
	buf, err := a.Buffer(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, buf.Rows())
	assert.InDelta(t, 1015, buf.Time[0], 1e-9)
	assert.Equal(t, 2, buf.Meta[0].Counts)
	assert.InDelta(t, 1.5, real(buf.Data[0]), 1e-6)

	require.NoError(t, a.Next(ctx))
	buf, err = a.Buffer(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1030, buf.Time[0], 1e-9)
	assert.Equal(t, 1, buf.Meta[0].Counts)

	require.NoError(t, a.Next(ctx))
	assert.False(t, a.More())
}

func TestAverager_NextWithoutBufferReportsThenSkips(t *testing.T) {
	ctx := context.Background()
	a, err := New(failAtStart(openBase(t, byTime, vi.WithChunkInterval(100))), Options{Interval: 20}, vi.Env{})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.OriginChunks(ctx))
	require.NoError(t, a.Origin(ctx))
	require.ErrorIs(t, a.Next(ctx), vi.ErrTransform)
	assert.Equal(t, 0, a.Position().Subchunk)

	require.NoError(t, a.Next(ctx))
	assert.Equal(t, 1, a.Position().Subchunk)
	assert.True(t, a.More())
}

func TestAverager_MaxUvwDistance(t *testing.T) {
	// testutil moves W by one meter per integration
	base := func() vi.Iterator { return openBase(t, byTime, vi.WithChunkInterval(100)) }

	a, err := New(base(), Options{Interval: 1e6, MaxUvwDistance: 1.5}, vi.Env{})
	require.NoError(t, err)
	bufs := collect(t, a)
	require.NoError(t, a.Close())
	require.Len(t, bufs, 1)

	buf := bufs[0]
	require.Equal(t, 12, buf.Rows(), "each baseline split into two runs")
	for r := range 6 {
		assert.Equal(t, buf.Antenna1[r], buf.Antenna1[r+6])
		assert.Equal(t, buf.Antenna2[r], buf.Antenna2[r+6])
		assert.Equal(t, 2, buf.Meta[r].Counts)
		assert.InDelta(t, 1005, buf.Time[r], 1e-9)
		assert.InDelta(t, 1025, buf.Time[r+6], 1e-9)
		assert.InDelta(t, 0.5, buf.UVW[3*r+2], 1e-9)
		assert.InDelta(t, 2.5, buf.UVW[3*(r+6)+2], 1e-9)
	}

	// the split runs count against MaxRows
	a, err = New(base(), Options{Interval: 1e6, MaxUvwDistance: 1.5, MaxRows: 6}, vi.Env{})
	require.NoError(t, err)
	bufs = collect(t, a)
	require.NoError(t, a.Close())
	require.Len(t, bufs, 2)
	assert.Equal(t, 6, bufs[0].Rows())
	assert.Equal(t, 6, bufs[1].Rows())
}

func TestAverager_Writes(t *testing.T) {
	ctx := context.Background()
	a, err := New(openBase(t, byTime), Options{Interval: 20}, vi.Env{})
	require.NoError(t, err)

	assert.False(t, a.CanWrite())
	require.NoError(t, a.OriginChunks(ctx))
	require.NoError(t, a.Origin(ctx))
	err = a.WriteColumn(ctx, storage.ColFlag, []bool{})
	assert.ErrorIs(t, err, vi.ErrUnsupportedOperation)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.False(t, a.MoreChunks())
	assert.ErrorIs(t, a.Origin(ctx), vi.ErrInvalidState)
}

func sampleBuffer(tm float64, weight float32, value complex64, flags ...bool) *buffer.Buffer {
	buf := buffer.New()
	buf.Reset(1, len(flags), 1)
	buf.Time[0] = tm
	buf.Interval[0] = 1
	buf.Antenna2[0] = 1
	buf.Weight[0] = weight
	for c := range flags {
		buf.Data[c] = value
		buf.Flags[c] = flags[c]
	}
	buf.Meta[0].SourceRow = int64(tm)
	return buf
}

func TestWindow_FlaggedSamples(t *testing.T) {
	var w window
	opts := Options{Interval: 10, Weighting: ByWeight}

	require.NoError(t, w.add(sampleBuffer(0, 1, 1, false, false, true), opts))
	require.NoError(t, w.add(sampleBuffer(1, 3, 5, false, true, true), opts))

	out := buffer.New()
	w.emit(out, 0, 0)
	require.Equal(t, 1, out.Rows())

	assert.InDelta(t, 4, real(out.Data[0]), 1e-6, "weighted mean")
	assert.InDelta(t, 1, real(out.Data[1]), 1e-6, "only the first sample is valid")
	assert.InDelta(t, 3, real(out.Data[2]), 1e-6, "all flagged: plain mean")
	assert.Equal(t, []bool{false, false, true}, out.Flags)
	assert.InDelta(t, 4, out.Weight[0], 1e-6)
	assert.InDelta(t, 0.5, out.Time[0], 1e-9)
	assert.InDelta(t, 2, out.Interval[0], 1e-9)
}

func TestWindow_TimeIsCentreOfSpan(t *testing.T) {
	var w window
	opts := Options{Interval: 10, Weighting: ByWeight}
	for _, tm := range []float64{0, 1, 5} {
		require.NoError(t, w.add(sampleBuffer(tm, 1, 1, false), opts))
	}

	out := buffer.New()
	w.emit(out, 0, 0)
	assert.InDelta(t, 2.5, out.Time[0], 1e-9)
	assert.InDelta(t, 6, out.Interval[0], 1e-9)
}

func TestWindow_UvwSplit(t *testing.T) {
	var w window
	opts := Options{Interval: 10, Weighting: ByWeight, MaxUvwDistance: 5}
	for i, u := range []float64{0, 3, 6, 9} {
		buf := sampleBuffer(float64(i), 1, complex(float32(i), 0), false)
		buf.UVW[0] = u
		require.True(t, w.accepts(buf, opts))
		require.NoError(t, w.add(buf, opts))
	}

	out := buffer.New()
	w.emit(out, 0, 0)
	require.Equal(t, 2, out.Rows())
	assert.Equal(t, []int32{1, 1}, out.Antenna2)
	assert.InDelta(t, 0.5, real(out.Data[0]), 1e-6)
	assert.InDelta(t, 2.5, real(out.Data[1]), 1e-6)
	assert.InDelta(t, 1.5, out.UVW[0], 1e-9)
	assert.InDelta(t, 7.5, out.UVW[3], 1e-9)
	assert.Equal(t, 2, out.Meta[1].Counts)
}

func TestWindow_Unweighted(t *testing.T) {
	var w window
	opts := Options{Interval: 10, Weighting: Unweighted}

	require.NoError(t, w.add(sampleBuffer(0, 1, 1, false), opts))
	require.NoError(t, w.add(sampleBuffer(1, 3, 5, false), opts))

	out := buffer.New()
	w.emit(out, 0, 0)
	assert.InDelta(t, 3, real(out.Data[0]), 1e-6)
	assert.InDelta(t, 4, out.Weight[0], 1e-6)
}

func TestWindow_ZeroWeights(t *testing.T) {
	var w window
	opts := Options{Interval: 10, Weighting: ByWeight}

	require.NoError(t, w.add(sampleBuffer(0, 0, 2, false), opts))
	require.NoError(t, w.add(sampleBuffer(1, 0, 4, false), opts))

	out := buffer.New()
	w.emit(out, 0, 0)
	assert.InDelta(t, 3, real(out.Data[0]), 1e-6)
	assert.False(t, out.Flags[0])
}

func TestWindow_RowFlags(t *testing.T) {
	var w window
	opts := Options{Interval: 10, Weighting: ByWeight}

	flagged := sampleBuffer(0, 1, 2, false)
	flagged.RowFlags.Add(0)
	require.NoError(t, w.add(flagged, opts))

	out := buffer.New()
	w.emit(out, 0, 0)
	assert.True(t, out.RowFlags.Contains(0))
	assert.True(t, out.Flags[0], "a flagged row contributes no valid samples")
	assert.Equal(t, int64(0), out.Meta[0].SourceRow)

	require.NoError(t, w.add(sampleBuffer(1, 1, 4, false), opts))
	w.emit(out, 0, 0)
	assert.False(t, out.RowFlags.Contains(0))
	assert.InDelta(t, 4, real(out.Data[0]), 1e-6)
}

func TestWindow_ShapeChange(t *testing.T) {
	var w window
	opts := Options{Interval: 10, Weighting: ByWeight}
	require.NoError(t, w.add(sampleBuffer(0, 1, 1, false, false), opts))
	assert.Error(t, w.add(sampleBuffer(1, 1, 1, false), opts))

	out := buffer.New()
	w.emit(out, 0, 0)
	assert.Equal(t, 1, out.Meta[0].Counts)
}

func TestNew_InvalidOptions(t *testing.T) {
	for _, opts := range []Options{
		{},
		{Interval: -1},
		{Interval: 1, Weighting: "median"},
		{Interval: 1, MaxRows: -1},
		{Interval: 1, MaxUvwDistance: -1},
	} {
		_, err := New(nil, opts, vi.Env{})
		assert.ErrorIs(t, err, vi.ErrInvalidArgument, "%+v", opts)
	}
}

func TestFactory(t *testing.T) {
	f := Factory()

	rec, err := f.Validate(0, config.Record{"interval": 30})
	require.NoError(t, err)
	assert.Equal(t, "weight", rec.String("weighting"))
	assert.Equal(t, 0, rec.Int("maxRows"))
	assert.Zero(t, rec.Float("maxUvwDistance"))

	for _, bad := range []config.Record{
		{},
		{"interval": 0},
		{"interval": 10, "weighting": "median"},
		{"interval": 10, "maxRows": -2},
		{"interval": 10, "maxUvwDistance": -0.5},
	} {
		_, err := f.Validate(0, bad)
		assert.ErrorIs(t, err, vi.ErrConfiguration, "%v", bad)
	}

	it, err := f.Create(context.Background(), openBase(t, byTime, vi.WithChunkInterval(100)), rec, vi.Env{})
	require.NoError(t, err)
	defer it.Close()
	assert.Len(t, collect(t, it), 2)
}
