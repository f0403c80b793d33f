package vistream

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/transform/averaging"
	"github.com/hupe1980/vistream/transform/calibration"
	"github.com/hupe1980/vistream/transform/materialize"
	"github.com/hupe1980/vistream/transform/regridding"
	"github.com/hupe1980/vistream/transform/smoothing"
	"github.com/hupe1980/vistream/vi"
)

// Registry maps layer type names to factories. Registries are explicit
// values passed to BuildFromConfig; there is no global registry.
type Registry struct {
	factories map[string]vi.LayerFactory
}

// NewRegistry creates a registry holding factories.
func NewRegistry(factories ...vi.LayerFactory) (*Registry, error) {
	r := &Registry{factories: make(map[string]vi.LayerFactory, len(factories))}
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds f under f.Name.
func (r *Registry) Register(f vi.LayerFactory) error {
	if f.Name == "" {
		return errors.New("layer factory has no name")
	}
	if f.Create == nil {
		return fmt.Errorf("layer factory %q has no constructor", f.Name)
	}
	if _, ok := r.factories[f.Name]; ok {
		return fmt.Errorf("layer type %q already registered", f.Name)
	}
	r.factories[f.Name] = f
	return nil
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (vi.LayerFactory, bool) {
	if r == nil {
		return vi.LayerFactory{}, false
	}
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered layer types, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.factories))
}

// StandardRegistry registers the built-in layers: smoothing, regridding,
// calibration (resolving named sources in sources), averaging and, when out
// is not nil, materialize (creating output tables in out).
func StandardRegistry(sources map[string]calibration.Source, out storage.Storage) *Registry {
	fs := []vi.LayerFactory{
		smoothing.Factory(),
		regridding.Factory(),
		calibration.Factory(sources),
		averaging.Factory(),
	}
	if out != nil {
		fs = append(fs, materialize.Factory(out))
	}
	r := &Registry{factories: make(map[string]vi.LayerFactory, len(fs))}
	for _, f := range fs {
		r.factories[f.Name] = f
	}
	return r
}
