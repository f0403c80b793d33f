package vistream

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/vi"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordBuild is called after each Build. layers is the number of
	// transform layers requested.
	RecordBuild(layers int, duration time.Duration, err error)

	// RecordTransform is called after each buffer rewrite of a layer.
	RecordTransform(layer string, duration time.Duration, err error)

	// RecordSubchunk is called once per delivered sub-chunk.
	RecordSubchunk(rows int)

	// RecordWrite is called after each write through a handle.
	RecordWrite(col storage.Column, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordTransform(string, time.Duration, error) {}
func (NoopMetricsCollector) RecordSubchunk(int)                           {}
func (NoopMetricsCollector) RecordWrite(storage.Column, error)            {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	BuildCount          atomic.Int64
	BuildErrors         atomic.Int64
	TransformCount      atomic.Int64
	TransformErrors     atomic.Int64
	TransformTotalNanos atomic.Int64
	SubchunkCount       atomic.Int64
	RowCount            atomic.Int64
	WriteCount          atomic.Int64
	WriteErrors         atomic.Int64

	mu     sync.Mutex
	layers map[string]LayerStats
}

// LayerStats aggregates the transforms of one layer.
type LayerStats struct {
	Count      int64
	Errors     int64
	TotalNanos int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(_ int, _ time.Duration, err error) {
	b.BuildCount.Add(1)
	if err != nil {
		b.BuildErrors.Add(1)
	}
}

// RecordTransform implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTransform(layer string, duration time.Duration, err error) {
	b.TransformCount.Add(1)
	b.TransformTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.TransformErrors.Add(1)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.layers == nil {
		b.layers = make(map[string]LayerStats)
	}
	s := b.layers[layer]
	s.Count++
	s.TotalNanos += duration.Nanoseconds()
	if err != nil {
		s.Errors++
	}
	b.layers[layer] = s
}

// RecordSubchunk implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSubchunk(rows int) {
	b.SubchunkCount.Add(1)
	b.RowCount.Add(int64(rows))
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(_ storage.Column, err error) {
	b.WriteCount.Add(1)
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	b.mu.Lock()
	layers := maps.Clone(b.layers)
	b.mu.Unlock()

	return BasicMetricsStats{
		BuildCount:        b.BuildCount.Load(),
		BuildErrors:       b.BuildErrors.Load(),
		TransformCount:    b.TransformCount.Load(),
		TransformErrors:   b.TransformErrors.Load(),
		TransformAvgNanos: b.getAvgTransformNanos(),
		SubchunkCount:     b.SubchunkCount.Load(),
		RowCount:          b.RowCount.Load(),
		WriteCount:        b.WriteCount.Load(),
		WriteErrors:       b.WriteErrors.Load(),
		Layers:            layers,
	}
}

func (b *BasicMetricsCollector) getAvgTransformNanos() int64 {
	count := b.TransformCount.Load()
	if count == 0 {
		return 0
	}
	return b.TransformTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	BuildCount        int64
	BuildErrors       int64
	TransformCount    int64
	TransformErrors   int64
	TransformAvgNanos int64
	SubchunkCount     int64
	RowCount          int64
	WriteCount        int64
	WriteErrors       int64
	Layers            map[string]LayerStats
}

// observer feeds layer transform timings into a MetricsCollector.
type observer struct {
	mc MetricsCollector
}

var _ vi.Observer = observer{}

func (o observer) ObserveTransform(layer string, d time.Duration, err error) {
	o.mc.RecordTransform(layer, d, err)
}
