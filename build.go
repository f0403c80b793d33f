package vistream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/hupe1980/vistream/config"
	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/vi"
)

// Build assembles a stack: every configuration is validated, then the base
// is created and layers[i] wraps the result of layers[i-1] with configs[i].
// The order is kept exactly as given. On failure nothing escapes: the
// partially built stack is closed.
func Build(ctx context.Context, base vi.BaseFactory, layers []vi.LayerFactory, configs []config.Record, optFns ...Option) (*Handle, error) {
	o := applyOptions(optFns)
	env := vi.Env{
		Logger:    o.logger.Logger,
		Observer:  observer{mc: o.metricsCollector},
		Resources: o.controller(),
	}
	base, layers = o.tagLayers(base, layers)

	names := make([]string, 0, len(layers)+1)
	names = append(names, vi.BaseName)
	for _, f := range layers {
		names = append(names, f.Name)
	}

	start := time.Now()
	it, err := vi.Chain(ctx, base, layers, configs, env)
	o.metricsCollector.RecordBuild(len(layers), time.Since(start), err)
	o.logger.LogBuild(ctx, names, err)
	if err != nil {
		return nil, err
	}
	return newHandle(it, names, o), nil
}

// tagLayers gives the base and every layer a logger carrying its name.
func (o options) tagLayers(base vi.BaseFactory, layers []vi.LayerFactory) (vi.BaseFactory, []vi.LayerFactory) {
	if base != nil {
		create := base
		logger := o.logger.WithLayer(vi.BaseName).Logger
		base = func(ctx context.Context, env vi.Env) (vi.Iterator, error) {
			env.Logger = logger
			return create(ctx, env)
		}
	}
	tagged := slices.Clone(layers)
	for i, f := range tagged {
		if f.Create == nil {
			continue
		}
		create := f.Create
		logger := o.logger.WithLayer(f.Name).Logger
		tagged[i].Create = func(ctx context.Context, inner vi.Iterator, cfg config.Record, env vi.Env) (vi.Iterator, error) {
			env.Logger = logger
			return create(ctx, inner, cfg, env)
		}
	}
	return base, tagged
}

// BuildFromConfig builds the stack described by p over the table p.Base.Table
// in st. Layer types are resolved in reg.
func BuildFromConfig(ctx context.Context, st storage.Storage, reg *Registry, p *config.Pipeline, optFns ...Option) (*Handle, error) {
	if p == nil {
		return nil, &ConfigError{Index: -1, Err: errors.New("no pipeline")}
	}
	if err := p.Validate(); err != nil {
		return nil, &ConfigError{Index: -1, Err: err}
	}

	baseOpts := []vi.BaseOption{
		vi.WithChunkInterval(p.Base.ChunkInterval),
		vi.WithMaxSubchunkRows(p.Base.MaxSubchunkRows),
		vi.WithWritable(p.Base.Writable),
	}
	if len(p.Base.Prefetch) > 0 {
		cols := make([]storage.Column, len(p.Base.Prefetch))
		for i, name := range p.Base.Prefetch {
			cols[i] = storage.Column(name)
			if !cols[i].Valid() {
				return nil, &ConfigError{Index: -1, Key: "prefetch", Err: fmt.Errorf("unknown column %q", name)}
			}
		}
		baseOpts = append(baseOpts, vi.WithPrefetch(cols...))
	}

	layers := make([]vi.LayerFactory, len(p.Layers))
	var errs []error
	for i, l := range p.Layers {
		f, ok := reg.Lookup(l.Type)
		if !ok {
			errs = append(errs, &ConfigError{Layer: l.Type, Index: i, Err: fmt.Errorf("unknown layer type (have %v)", reg.Names())})
			continue
		}
		layers[i] = f
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	optFns = append(slices.Clip(optFns), withTable(p.Base.Table))
	return Build(ctx, vi.Base(st, p.Base.Table, baseOpts...), layers, p.Configs(), optFns...)
}

// BuildFromYAML parses a YAML pipeline description from r and builds it.
// See config.Pipeline for the format.
func BuildFromYAML(ctx context.Context, st storage.Storage, reg *Registry, r io.Reader, optFns ...Option) (*Handle, error) {
	p, err := config.ParsePipeline(r)
	if err != nil {
		return nil, &ConfigError{Index: -1, Err: err}
	}
	return BuildFromConfig(ctx, st, reg, p, optFns...)
}
