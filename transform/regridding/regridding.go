// Package regridding resamples the channel axis onto a fixed frequency grid.
//
// The row and polarization axes are unchanged. Flagged input samples never
// contribute; an output channel without valid support is flagged. Writes
// through the layer are rejected.
package regridding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/config"
	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/vi"
)

// Name is the layer type name.
const Name = "regridding"

// Interpolation selects how output channels are computed.
type Interpolation string

const (
	Linear  Interpolation = "linear"
	Nearest Interpolation = "nearest"
)

// relTol is the relative tolerance for treating two frequencies as equal.
const relTol = 1e-9

// Regridder is the regridding Transformer.
type Regridder struct {
	vi.ReadOnly

	grid   []float64
	interp Interpolation

	taps  []tap
	data  []complex64
	flags []bool
}

// tap maps one output channel onto at most two input channels.
type tap struct {
	lo, hi int     // input channels; hi == lo for a single source, lo < 0 for none
	w      float64 // weight of hi
}

// New creates a Regridder onto grid, which must be non-empty and strictly
// increasing.
func New(grid []float64, interp Interpolation) (*Regridder, error) {
	if err := checkGrid(grid); err != nil {
		return nil, err
	}
	if interp != Linear && interp != Nearest {
		return nil, fmt.Errorf("unknown interpolation %q", interp)
	}
	return &Regridder{grid: slices.Clone(grid), interp: interp}, nil
}

func checkGrid(grid []float64) error {
	if len(grid) == 0 {
		return errors.New("grid is empty")
	}
	for i := 1; i < len(grid); i++ {
		if !(grid[i] > grid[i-1]) {
			return fmt.Errorf("grid is not strictly increasing at index %d", i)
		}
	}
	return nil
}

// Transform resamples buf onto the target grid.
func (g *Regridder) Transform(_ context.Context, buf *buffer.Buffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if err := checkGrid(buf.Frequencies); err != nil {
		return fmt.Errorf("input frequencies: %w", err)
	}
	g.plan(buf.Frequencies)

	nPol, _, nRows := buf.Shape()
	nOut := len(g.grid)
	n := nPol * nOut * nRows
	g.data = resize(g.data, n)
	g.flags = resize(g.flags, n)

	for r := range nRows {
		for c, tp := range g.taps {
			for p := range nPol {
				i := (r*nOut+c)*nPol + p
				g.data[i], g.flags[i] = sample(buf, tp, p, r)
			}
		}
	}

	buf.ReshapeChannels(nOut)
	copy(buf.Data, g.data)
	copy(buf.Flags, g.flags)
	copy(buf.Frequencies, g.grid)
	for r := range nRows {
		buf.Meta[r].Edge, buf.Meta[r].EdgeWidth = buffer.EdgeNone, 0
	}
	return nil
}

func sample(buf *buffer.Buffer, tp tap, p, r int) (complex64, bool) {
	if tp.lo < 0 {
		return 0, true
	}
	lo := buf.Index(p, tp.lo, r)
	if tp.hi == tp.lo {
		return buf.Data[lo], buf.Flags[lo]
	}
	hi := buf.Index(p, tp.hi, r)
	switch loOK, hiOK := !buf.Flags[lo], !buf.Flags[hi]; {
	case loOK && hiOK:
		w := float32(tp.w)
		return buf.Data[lo]*complex(1-w, 0) + buf.Data[hi]*complex(w, 0), false
	case loOK:
		return buf.Data[lo], false
	case hiOK:
		return buf.Data[hi], false
	}
	return 0, true
}

// plan computes the taps for the input grid in.
func (g *Regridder) plan(in []float64) {
	g.taps = resize(g.taps, len(g.grid))
	for c, f := range g.grid {
		if g.interp == Nearest {
			g.taps[c] = nearestTap(in, f)
		} else {
			g.taps[c] = linearTap(in, f)
		}
	}
}

func linearTap(in []float64, f float64) tap {
	j, _ := slices.BinarySearch(in, f)
	for _, k := range []int{j - 1, j} {
		if k >= 0 && k < len(in) && equal(in[k], f) {
			return tap{lo: k, hi: k}
		}
	}
	if j == 0 || j == len(in) {
		return tap{lo: -1}
	}
	return tap{lo: j - 1, hi: j, w: (f - in[j-1]) / (in[j] - in[j-1])}
}

func nearestTap(in []float64, f float64) tap {
	j, _ := slices.BinarySearch(in, f)
	best := -1
	for _, k := range []int{j - 1, j} {
		if k >= 0 && k < len(in) && (best < 0 || math.Abs(in[k]-f) < math.Abs(in[best]-f)) {
			best = k
		}
	}
	if equal(in[best], f) {
		return tap{lo: best, hi: best}
	}
	// half a channel spacing beyond either edge of the input range
	if len(in) == 1 {
		return tap{lo: -1}
	}
	if f < in[0]-(in[1]-in[0])/2 || f > in[len(in)-1]+(in[len(in)-1]-in[len(in)-2])/2 {
		return tap{lo: -1}
	}
	return tap{lo: best, hi: best}
}

func equal(a, b float64) bool {
	return math.Abs(a-b) <= relTol*math.Max(math.Abs(a), math.Abs(b))
}

// MapSchema reports the target grid for every spectral window.
func (g *Regridder) MapSchema(s storage.Schema) storage.Schema {
	s = s.Clone()
	for i := range s.SpectralWindows {
		s.SpectralWindows[i].Frequencies = slices.Clone(g.grid)
	}
	return s
}

// Schema is the configuration schema of the layer.
var Schema = config.Schema{
	config.Floats("targetGrid").Required().Check(func(v any) error {
		return checkGrid(v.([]float64))
	}),
	config.String("interpolation").Default(string(Linear)).OneOf(string(Linear), string(Nearest)),
}

// Factory returns the layer factory.
func Factory() vi.LayerFactory {
	return vi.LayerFactory{
		Name:   Name,
		Schema: Schema,
		Create: func(_ context.Context, inner vi.Iterator, cfg config.Record, env vi.Env) (vi.Iterator, error) {
			g, err := New(cfg.Floats("targetGrid"), Interpolation(cfg.String("interpolation")))
			if err != nil {
				return nil, err
			}
			return vi.NewTransformLayer(Name, inner, g, env), nil
		},
	}
}

func resize[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}
