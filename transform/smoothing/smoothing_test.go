package smoothing

import (
	"context"
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

func rowBuffer(values ...complex64) *buffer.Buffer {
	buf := buffer.New()
	buf.Reset(1, len(values), 1)
	copy(buf.Data, values)
	return buf
}

func TestCoefficients(t *testing.T) {
	h, err := Hanning.Coefficients(3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 1, 0.5}, h, 1e-12)

	h, err = Boxcar.Coefficients(5)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1, 1}, h)

	for _, w := range []int{1, 4, 1027} {
		_, err := Hanning.Coefficients(w)
		assert.Error(t, err, "width %d", w)
	}
	_, err = Kernel("gauss").Coefficients(3)
	assert.Error(t, err)
}

func TestSmoother_ConstantSignal(t *testing.T) {
	for _, policy := range []buffer.EdgePolicy{buffer.EdgeCopy, buffer.EdgeTruncate} {
		t.Run(policy.String(), func(t *testing.T) {
			s, err := New(Hanning, 5, policy)
			require.NoError(t, err)

			buf := rowBuffer(3+1i, 3+1i, 3+1i, 3+1i, 3+1i, 3+1i, 3+1i, 3+1i)
			buf.Flags[3] = true
			require.NoError(t, s.Transform(context.Background(), buf))

			for c, v := range buf.Data {
				if !buf.Flags[c] {
					assert.InDelta(t, 3, real(v), 1e-6, "channel %d", c)
					assert.InDelta(t, 1, imag(v), 1e-6, "channel %d", c)
				}
			}
		})
	}
}

func TestSmoother_CopyEdges(t *testing.T) {
	s, err := New(Boxcar, 3, buffer.EdgeCopy)
	require.NoError(t, err)

	buf := rowBuffer(1, 2, 3, 4, 5)
	require.NoError(t, s.Transform(context.Background(), buf))

	assert.Equal(t, []complex64{1, 2, 3, 4, 5}, buf.Data, "interior of a linear ramp is unchanged by a boxcar")
	assert.Equal(t, []bool{true, false, false, false, true}, buf.Flags)
	assert.Equal(t, buffer.EdgeCopy, buf.Meta[0].Edge)
	assert.Equal(t, 1, buf.Meta[0].EdgeWidth)
	assert.True(t, buf.IsEdgeChannel(0, 0))
	assert.False(t, buf.IsEdgeChannel(2, 0))
}

func TestSmoother_TruncateEdges(t *testing.T) {
	s, err := New(Hanning, 3, buffer.EdgeTruncate)
	require.NoError(t, err)

	buf := rowBuffer(1, 2, 3)
	require.NoError(t, s.Transform(context.Background(), buf))

	assert.InDelta(t, 4.0/3.0, real(buf.Data[0]), 1e-6)
	assert.InDelta(t, 2, real(buf.Data[1]), 1e-6)
	assert.InDelta(t, 8.0/3.0, real(buf.Data[2]), 1e-6)
	assert.Equal(t, []bool{false, false, false}, buf.Flags)
	assert.Equal(t, buffer.EdgeTruncate, buf.Meta[0].Edge)
}

func TestSmoother_FlaggedSupport(t *testing.T) {
	s, err := New(Boxcar, 3, buffer.EdgeTruncate)
	require.NoError(t, err)

	buf := rowBuffer(1, 100, 3, 7, 9, 11)
	buf.Flags[1] = true
	buf.Flags[3], buf.Flags[4], buf.Flags[5] = true, true, true
	require.NoError(t, s.Transform(context.Background(), buf))

	assert.InDelta(t, 2, real(buf.Data[1]), 1e-6, "flagged input excluded")
	assert.False(t, buf.Flags[1], "unflagged support remains")
	assert.True(t, buf.Flags[4], "all-flagged support is flagged")
	assert.Equal(t, complex64(9), buf.Data[4], "value kept")
}

func TestSmoother_NarrowWindow(t *testing.T) {
	s, err := New(Boxcar, 5, buffer.EdgeCopy)
	require.NoError(t, err)

	buf := rowBuffer(1, 2)
	require.NoError(t, s.Transform(context.Background(), buf))
	assert.Equal(t, []bool{true, true}, buf.Flags)
	assert.Equal(t, 2, buf.Meta[0].EdgeWidth)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Hanning, 3, buffer.EdgeNone)
	assert.Error(t, err)
	_, err = New(Hanning, 6, buffer.EdgeCopy)
	assert.Error(t, err)
}

func TestFactory_Validation(t *testing.T) {
	f := Factory()

	tests := []struct {
		name string
		cfg  config.Record
		key  string
	}{
		{name: "missing edge policy", cfg: config.Record{"kernelWidth": 5}, key: "edgePolicy"},
		{name: "bad edge policy", cfg: config.Record{"edgePolicy": "mirror"}, key: "edgePolicy"},
		{name: "even width", cfg: config.Record{"edgePolicy": "copy", "kernelWidth": 4}, key: "kernelWidth"},
		{name: "too wide", cfg: config.Record{"edgePolicy": "copy", "kernelWidth": 2001}, key: "kernelWidth"},
		{name: "unknown key", cfg: config.Record{"edgePolicy": "copy", "mode": 1}, key: "mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Validate(0, tt.cfg)
			var ce *vi.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.key, ce.Key)
		})
	}

	rec, err := f.Validate(0, config.Record{"edgePolicy": "truncate"})
	require.NoError(t, err)
	assert.Equal(t, "hanning", rec.String("kernel"))
	assert.Equal(t, 3, rec.Int("kernelWidth"))
}

func TestLayer_PreservesRowsAndWrites(t *testing.T) {
	ctx := context.Background()
	st := memtable.New()
	spec := testutil.TableSpec{FlagFraction: 0.1}
	_, n, err := testutil.Populate(ctx, st, "obs", spec, testutil.NewRNG(3))
	require.NoError(t, err)

	it, err := vi.Chain(ctx, vi.Base(st, "obs", vi.WithWritable(true)),
		[]vi.LayerFactory{Factory()},
		[]config.Record{{"edgePolicy": "copy", "kernelWidth": 3}},
		vi.Env{},
	)
	require.NoError(t, err)
	defer it.Close()
	assert.True(t, it.CanWrite())

	rows := 0
	require.NoError(t, it.OriginChunks(ctx))
	for it.MoreChunks() {
		require.NoError(t, it.Origin(ctx))
		for it.More() {
			buf, err := it.Buffer(ctx)
			require.NoError(t, err)
			rows += buf.Rows()

			assert.ErrorIs(t, it.WriteColumn(ctx, storage.ColData, buf.Data), vi.ErrUnsupportedOperation)
			require.NoError(t, it.WriteColumn(ctx, storage.ColFlag, buf.Flags))
			require.NoError(t, it.Next(ctx))
		}
		require.NoError(t, it.NextChunk(ctx))
	}
	assert.Equal(t, n, rows)

	written, err := st.Written("obs")
	require.NoError(t, err)
	assert.Equal(t, uint64(n), written.GetCardinality())
}
