package vistream_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/hupe1980/vistream"
	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/config"
	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/storage/memtable"
	"github.com/hupe1980/vistream/testutil"
	"github.com/hupe1980/vistream/transform/calibration"
	"github.com/hupe1980/vistream/transform/smoothing"
	"github.com/hupe1980/vistream/vi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts table opens.
type countingStore struct {
	*memtable.Store
	opens int
}

func (s *countingStore) OpenForRead(ctx context.Context, path string) (storage.Table, error) {
	s.opens++
	return s.Store.OpenForRead(ctx, path)
}

func registry() *vistream.Registry {
	return vistream.StandardRegistry(map[string]calibration.Source{"unity": calibration.Unity{}}, nil)
}

const pipelineYAML = `
base:
  table: obs
  maxSubchunkRows: 4
layers:
  - type: smoothing
    config: {kernelWidth: 3, edgePolicy: truncate}
  - type: calibration
    config: {source: unity}
`

func TestBuildFromYAML(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, testutil.TableSpec{})

	h, err := vistream.BuildFromYAML(ctx, st, registry(), strings.NewReader(pipelineYAML))
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, []string{"base", "smoothing", "calibration"}, h.Layers())
	bufs := collect(t, h)
	assert.Len(t, bufs, 8, "sub-chunks of 6 rows split at 4")
	assert.Equal(t, 24, rows(bufs))
}

func TestBuildFromYAML_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		yaml  string
		layer string
		index int
		key   string
	}{
		{
			name:  "unknown layer type",
			yaml:  "base: {table: obs}\nlayers:\n  - type: tapering\n",
			layer: "tapering",
			index: 0,
		},
		{
			name:  "missing edge policy",
			yaml:  "base: {table: obs}\nlayers:\n  - type: smoothing\n    config: {kernelWidth: 5}\n",
			layer: "smoothing",
			index: 0,
			key:   "edgePolicy",
		},
		{
			name:  "even kernel width",
			yaml:  "base: {table: obs}\nlayers:\n  - type: calibration\n    config: {source: unity}\n  - type: smoothing\n    config: {kernelWidth: 4, edgePolicy: copy}\n",
			layer: "smoothing",
			index: 1,
			key:   "kernelWidth",
		},
		{
			name:  "unknown key",
			yaml:  "base: {table: obs}\nlayers:\n  - type: regridding\n    config: {targetGrid: [1.0e9], spline: true}\n",
			layer: "regridding",
			index: 0,
			key:   "spline",
		},
		{
			name:  "unknown calibration source",
			yaml:  "base: {table: obs}\nlayers:\n  - type: calibration\n    config: {source: bandpass}\n",
			layer: "calibration",
			index: 0,
			key:   "source",
		},
		{
			name:  "bad prefetch column",
			yaml:  "base: {table: obs, prefetch: [TIME, MODEL_DATA]}\n",
			index: -1,
			key:   "prefetch",
		},
		{
			name:  "missing table",
			yaml:  "layers: []\n",
			index: -1,
		},
		{
			name:  "unknown top-level key",
			yaml:  "base: {table: obs}\nsinks: []\n",
			index: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &countingStore{Store: newStore(t, testutil.TableSpec{})}
			h, err := vistream.BuildFromYAML(ctx, st, registry(), strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Nil(t, h)
			assert.ErrorIs(t, err, vistream.ErrConfiguration)
			assert.Zero(t, st.opens, "no table is opened for an invalid pipeline")

			var ce *vistream.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.layer, ce.Layer)
			assert.Equal(t, tt.index, ce.Index)
			assert.Equal(t, tt.key, ce.Key)
		})
	}
}

func TestBuild_MissingTable(t *testing.T) {
	_, err := vistream.NewPipeline(memtable.New(), "nope").Build(context.Background())
	assert.ErrorIs(t, err, vistream.ErrStorage)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBuild_CountMismatch(t *testing.T) {
	st := newStore(t, testutil.TableSpec{})
	_, err := vistream.Build(context.Background(), vi.Base(st, "obs"), []vi.LayerFactory{smoothing.Factory()}, nil)
	assert.ErrorIs(t, err, vistream.ErrConfiguration)
}

func TestBuild_ConstructionFailureClosesStack(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, testutil.TableSpec{})

	var closed []string
	tracking := func(name string) vi.LayerFactory {
		return vi.LayerFactory{
			Name: name,
			Create: func(_ context.Context, inner vi.Iterator, _ config.Record, env vi.Env) (vi.Iterator, error) {
				return vi.NewTransformLayer(name, inner, closer{name: name, closed: &closed}, env), nil
			},
		}
	}
	broken := vi.LayerFactory{
		Name: "broken",
		Create: func(context.Context, vi.Iterator, config.Record, vi.Env) (vi.Iterator, error) {
			return nil, errors.New("no luck")
		},
	}

	_, err := vistream.Build(ctx, vi.Base(st, "obs"),
		[]vi.LayerFactory{tracking("a"), tracking("b"), broken},
		[]config.Record{{}, {}, {}})
	require.Error(t, err)
	assert.Equal(t, []string{"b", "a"}, closed)
}

type closer struct {
	name   string
	closed *[]string
}

func (closer) Transform(context.Context, *buffer.Buffer) error { return nil }

func (c closer) Close() error {
	*c.closed = append(*c.closed, c.name)
	return nil
}

func TestRegistry(t *testing.T) {
	r, err := vistream.NewRegistry(smoothing.Factory())
	require.NoError(t, err)

	assert.Error(t, r.Register(smoothing.Factory()), "duplicate")
	assert.Error(t, r.Register(vi.LayerFactory{}), "no name")
	assert.Error(t, r.Register(vi.LayerFactory{Name: "x"}), "no constructor")

	_, ok := r.Lookup("smoothing")
	assert.True(t, ok)
	_, ok = r.Lookup("regridding")
	assert.False(t, ok)
	assert.Equal(t, []string{"smoothing"}, r.Names())

	std := vistream.StandardRegistry(nil, memtable.New())
	assert.Equal(t, []string{"averaging", "calibration", "materialize", "regridding", "smoothing"}, std.Names())
	assert.NotContains(t, vistream.StandardRegistry(nil, nil).Names(), "materialize")
}

func TestMetricsAndLogging(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, testutil.TableSpec{})

	var logs bytes.Buffer
	metrics := &vistream.BasicMetricsCollector{}
	h, err := vistream.BuildFromYAML(ctx, st, registry(), strings.NewReader(pipelineYAML),
		vistream.WithMetricsCollector(metrics),
		vistream.WithLogger(vistream.NewLogger(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	)
	require.NoError(t, err)

	for buf, err := range h.All(ctx) {
		require.NoError(t, err)
		_, err = h.Buffer(ctx) // cached, not counted again
		require.NoError(t, err)
		_ = h.WriteFlagRow(ctx, make([]bool, buf.Rows()))
	}
	require.NoError(t, h.Close())

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.BuildCount)
	assert.Equal(t, int64(8), stats.SubchunkCount)
	assert.Equal(t, int64(24), stats.RowCount)
	assert.Equal(t, int64(16), stats.TransformCount)
	assert.Equal(t, int64(8), stats.Layers["smoothing"].Count)
	assert.Equal(t, int64(8), stats.Layers["calibration"].Count)
	assert.Equal(t, int64(8), stats.WriteCount)
	assert.Equal(t, int64(8), stats.WriteErrors)

	out := logs.String()
	assert.Contains(t, out, `"msg":"pipeline built"`)
	assert.Contains(t, out, `"msg":"sub-chunk delivered"`)
	assert.Contains(t, out, `"msg":"write failed"`)
	assert.Contains(t, out, `"msg":"handle closed"`)
	assert.Contains(t, out, `"table":"obs"`)
	assert.Contains(t, out, `"layer":"base"`)
}

func TestBuild_LayerLoggers(t *testing.T) {
	ctx := context.Background()
	bad := vi.LayerFactory{
		Name: "bad",
		Create: func(_ context.Context, inner vi.Iterator, _ config.Record, env vi.Env) (vi.Iterator, error) {
			return vi.NewTransformLayer("bad", inner, vi.TransformFunc(func(context.Context, *buffer.Buffer) error {
				return errors.New("malformed")
			}), env), nil
		},
	}

	var logs bytes.Buffer
	h, err := vistream.NewPipeline(newStore(t, testutil.TableSpec{}), "obs").
		Layer(bad, config.Record{}).
		Options(vistream.WithLogger(vistream.NewLogger(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))).
		Build(ctx)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.OriginChunks(ctx))
	require.NoError(t, h.Origin(ctx))
	_, err = h.Buffer(ctx)
	require.ErrorIs(t, err, vistream.ErrTransform)

	var failed map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["msg"] == "transform failed" {
			failed = rec
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "bad", failed["layer"])
	assert.Equal(t, "obs", failed["table"])
}
