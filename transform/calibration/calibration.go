// Package calibration applies per-sample correction factors from a
// calibration Source.
//
// Every sample of row r and channel c is multiplied by the factor for
// (baseline, TIME[r], frequency[c]). A sample without an available factor
// is flagged and keeps its value, so uncorrected data never passes through
// unmarked. Calibration is one-directional: writes through the layer are
// rejected.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/config"
	"github.com/hupe1980/vistream/vi"
)

// Name is the layer type name.
const Name = "calibration"

// Applier is the calibration Transformer.
type Applier struct {
	vi.ReadOnly

	src Source

	data  []complex64
	flags []bool
}

// New creates an Applier over src.
func New(src Source) (*Applier, error) {
	if src == nil {
		return nil, errors.New("calibration source is nil")
	}
	return &Applier{src: src}, nil
}

// Transform applies the corrections to buf.
func (a *Applier) Transform(ctx context.Context, buf *buffer.Buffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	nPol, nChan, nRows := buf.Shape()
	a.data = append(a.data[:0], buf.Data...)
	a.flags = append(a.flags[:0], buf.Flags...)

	for r := range nRows {
		bl := Baseline{Antenna1: buf.Antenna1[r], Antenna2: buf.Antenna2[r]}
		for c := range nChan {
			factor, ok, err := a.src.Lookup(ctx, bl, buf.Time[r], buf.Frequencies[c])
			if err != nil {
				return fmt.Errorf("lookup baseline %s: %w", bl, err)
			}
			for p := range nPol {
				i := buf.Index(p, c, r)
				if ok {
					a.data[i] *= factor
				} else {
					a.flags[i] = true
				}
			}
		}
	}

	copy(buf.Data, a.data)
	copy(buf.Flags, a.flags)
	return nil
}

// Schema is the configuration schema of the layer. source is either a
// Source value or the name of a source passed to Factory.
var Schema = config.Schema{
	config.Any("source").Required().Check(func(v any) error {
		switch v.(type) {
		case Source, string:
			return nil
		}
		return fmt.Errorf("expected a calibration source or source name, got %T", v)
	}),
}

// Factory returns the layer factory. Named sources are resolved in sources.
func Factory(sources map[string]Source) vi.LayerFactory {
	return vi.LayerFactory{
		Name:   Name,
		Schema: Schema,
		Check: func(cfg config.Record) error {
			_, err := resolve(sources, cfg.Value("source"))
			return err
		},
		Create: func(_ context.Context, inner vi.Iterator, cfg config.Record, env vi.Env) (vi.Iterator, error) {
			src, err := resolve(sources, cfg.Value("source"))
			if err != nil {
				return nil, err
			}
			a, err := New(src)
			if err != nil {
				return nil, err
			}
			return vi.NewTransformLayer(Name, inner, a, env), nil
		},
	}
}

func resolve(sources map[string]Source, v any) (Source, error) {
	switch s := v.(type) {
	case Source:
		return s, nil
	case string:
		if src, ok := sources[s]; ok {
			return src, nil
		}
		names := make([]string, 0, len(sources))
		for n := range sources {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, &config.FieldError{Key: "source", Reason: fmt.Sprintf("unknown source %q (have %v)", s, names)}
	}
	return nil, &config.FieldError{Key: "source", Reason: fmt.Sprintf("unsupported value %T", v)}
}
