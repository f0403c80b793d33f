package vi

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vistream/config"
	"github.com/hupe1980/vistream/storage"
)

// BaseFactory creates the innermost iterator of a stack.
type BaseFactory func(ctx context.Context, env Env) (Iterator, error)

// Base returns a BaseFactory that opens path in st. The stack's resource
// controller and logger are used unless opts override them.
func Base(st storage.Storage, path string, opts ...BaseOption) BaseFactory {
	return func(ctx context.Context, env Env) (Iterator, error) {
		all := append([]BaseOption{
			WithResourceController(env.Resources),
			WithBaseLogger(env.Log()),
		}, opts...)
		return OpenBase(ctx, st, path, all...)
	}
}

// LayerFactory describes one layer type: its configuration schema and its
// constructor.
type LayerFactory struct {
	// Name is the layer type, used in errors and as the layer's name.
	Name string

	// Schema lists the recognized configuration keys.
	Schema config.Schema

	// Check validates the normalized record beyond per-field rules.
	Check func(cfg config.Record) error

	// Create wraps inner. cfg has been validated. On error Create must not
	// close inner; the caller owns it.
	Create func(ctx context.Context, inner Iterator, cfg config.Record, env Env) (Iterator, error)
}

// Validate checks cfg for the layer at position index and returns the
// normalized record.
func (f LayerFactory) Validate(index int, cfg config.Record) (config.Record, error) {
	if f.Create == nil {
		return nil, &ConfigError{Layer: f.Name, Index: index, Err: errors.New("layer factory has no constructor")}
	}
	rec, err := f.Schema.Validate(cfg)
	if err != nil {
		return nil, &ConfigError{Layer: f.Name, Index: index, Key: firstKey(err), Err: err}
	}
	if f.Check != nil {
		if err := f.Check(rec); err != nil {
			return nil, &ConfigError{Layer: f.Name, Index: index, Key: firstKey(err), Err: err}
		}
	}
	return rec, nil
}

func firstKey(err error) string {
	var fe *config.FieldError
	if errors.As(err, &fe) {
		return fe.Key
	}
	return ""
}

// Chain builds a stack: every configuration is validated first, then the
// base is created and each layer wraps the previous result, in the order
// given. On failure the partially built stack is closed and nothing is
// returned.
func Chain(ctx context.Context, base BaseFactory, layers []LayerFactory, configs []config.Record, env Env) (Iterator, error) {
	if base == nil {
		return nil, &ConfigError{Index: -1, Err: errors.New("no base factory")}
	}
	if len(layers) != len(configs) {
		return nil, &ConfigError{Index: -1, Err: fmt.Errorf("%d layers but %d configuration records", len(layers), len(configs))}
	}

	validated := make([]config.Record, len(layers))
	var errs []error
	for i, f := range layers {
		rec, err := f.Validate(i, configs[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		validated[i] = rec
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	it, err := base(ctx, env)
	if err != nil {
		return nil, err
	}
	for i, f := range layers {
		next, err := f.Create(ctx, it, validated[i], env)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("create layer %d (%s): %w", i, f.Name, err), it.Close())
		}
		it = next
	}
	return it, nil
}
