package vistream

import (
	"context"
	"slices"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/config"
	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/transform/averaging"
	"github.com/hupe1980/vistream/transform/calibration"
	"github.com/hupe1980/vistream/transform/materialize"
	"github.com/hupe1980/vistream/transform/regridding"
	"github.com/hupe1980/vistream/transform/smoothing"
	"github.com/hupe1980/vistream/vi"
)

// Pipeline is an immutable fluent builder for stacks over one table.
// Each method returns a new builder with the updated configuration.
//
// Example:
//
//	h, err := vistream.NewPipeline(store, "obs/main").
//	    ChunkInterval(60).
//	    Smooth(smoothing.Hanning, 5, buffer.EdgeCopy).
//	    Calibrate(gains).
//	    Build(ctx)
type Pipeline struct {
	st       storage.Storage
	path     string
	baseOpts []vi.BaseOption
	layers   []vi.LayerFactory
	configs  []config.Record
	opts     []Option
}

// NewPipeline starts a pipeline reading path from st.
func NewPipeline(st storage.Storage, path string) Pipeline {
	return Pipeline{st: st, path: path}
}

func (p Pipeline) withBase(o vi.BaseOption) Pipeline {
	p.baseOpts = append(slices.Clip(p.baseOpts), o)
	return p
}

// ChunkInterval sets the chunk time bin in seconds.
// Default: 0 (one chunk per distinct TIME).
func (p Pipeline) ChunkInterval(seconds float64) Pipeline {
	return p.withBase(vi.WithChunkInterval(seconds))
}

// MaxSubchunkRows caps the rows per sub-chunk. Default: unbounded.
func (p Pipeline) MaxSubchunkRows(n int) Pipeline {
	return p.withBase(vi.WithMaxSubchunkRows(n))
}

// Prefetch restricts the columns read per sub-chunk.
func (p Pipeline) Prefetch(cols ...storage.Column) Pipeline {
	return p.withBase(vi.WithPrefetch(cols...))
}

// Writable opens the table for writing.
func (p Pipeline) Writable() Pipeline {
	return p.withBase(vi.WithWritable(true))
}

// Layer appends a layer of any type.
func (p Pipeline) Layer(f vi.LayerFactory, cfg config.Record) Pipeline {
	p.layers = append(slices.Clip(p.layers), f)
	p.configs = append(slices.Clip(p.configs), cfg)
	return p
}

// Smooth appends a smoothing layer.
func (p Pipeline) Smooth(kernel smoothing.Kernel, width int, edge buffer.EdgePolicy) Pipeline {
	return p.Layer(smoothing.Factory(), config.Record{
		"kernel":      string(kernel),
		"kernelWidth": width,
		"edgePolicy":  edge.String(),
	})
}

// Regrid appends a regridding layer onto grid.
func (p Pipeline) Regrid(grid []float64, interp regridding.Interpolation) Pipeline {
	return p.Layer(regridding.Factory(), config.Record{
		"targetGrid":    slices.Clone(grid),
		"interpolation": string(interp),
	})
}

// Calibrate appends a calibration layer applying src.
func (p Pipeline) Calibrate(src calibration.Source) Pipeline {
	return p.Layer(calibration.Factory(nil), config.Record{"source": src})
}

// Average appends a time-averaging layer.
func (p Pipeline) Average(opts averaging.Options) Pipeline {
	cfg := config.Record{
		"interval":       opts.Interval,
		"maxRows":        opts.MaxRows,
		"maxUvwDistance": opts.MaxUvwDistance,
	}
	if opts.Weighting != "" {
		cfg["weighting"] = string(opts.Weighting)
	}
	return p.Layer(averaging.Factory(), cfg)
}

// Materialize appends a terminal writer creating path in out.
func (p Pipeline) Materialize(out storage.Storage, path string) Pipeline {
	return p.Layer(materialize.Factory(out), config.Record{"path": path})
}

// Options appends handle options (logger, metrics, limits).
func (p Pipeline) Options(opts ...Option) Pipeline {
	p.opts = append(slices.Clip(p.opts), opts...)
	return p
}

// Build assembles the stack.
func (p Pipeline) Build(ctx context.Context) (*Handle, error) {
	opts := append(slices.Clip(p.opts), withTable(p.path))
	return Build(ctx, vi.Base(p.st, p.path, p.baseOpts...), p.layers, p.configs, opts...)
}
