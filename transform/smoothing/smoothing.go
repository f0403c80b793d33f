// Package smoothing implements a spectral smoothing layer: a fixed-width
// FIR kernel applied along the channel axis of every row and polarization.
//
// Flagged samples contribute no weight and the kernel is renormalized by
// the weight of the unflagged contributors. An output channel whose support
// is entirely flagged is flagged and keeps its input value.
//
// Channels within half the kernel width of either spectral edge are handled
// by an explicit policy with no default:
//
//   - copy: the input value is kept and the channel is flagged
//   - truncate: the kernel is truncated at the edge and renormalized
//
// The policy and the edge width are recorded in each row's RowMeta.
package smoothing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/config"
	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/vi"
)

// Name is the layer type name.
const Name = "smoothing"

// Kernel selects the kernel shape.
type Kernel string

const (
	Hanning Kernel = "hanning"
	Boxcar  Kernel = "boxcar"
)

const (
	minWidth = 3
	maxWidth = 1025
)

// Coefficients returns the unnormalized kernel of the given odd width.
func (k Kernel) Coefficients(width int) ([]float64, error) {
	if width < minWidth || width > maxWidth || width%2 == 0 {
		return nil, fmt.Errorf("kernel width %d must be odd and in [%d, %d]", width, minWidth, maxWidth)
	}
	h := make([]float64, width)
	switch k {
	case Hanning:
		for i := range h {
			h[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i+1)/float64(width+1)))
		}
	case Boxcar:
		for i := range h {
			h[i] = 1
		}
	default:
		return nil, fmt.Errorf("unknown kernel %q", k)
	}
	return h, nil
}

// ParseEdgePolicy parses "copy" or "truncate".
func ParseEdgePolicy(s string) (buffer.EdgePolicy, error) {
	switch s {
	case "copy":
		return buffer.EdgeCopy, nil
	case "truncate":
		return buffer.EdgeTruncate, nil
	}
	return buffer.EdgeNone, fmt.Errorf("unknown edge policy %q", s)
}

// Smoother is the smoothing Transformer.
type Smoother struct {
	kernel []float64
	half   int
	policy buffer.EdgePolicy

	data  []complex64
	flags []bool
}

// New creates a Smoother. policy must be EdgeCopy or EdgeTruncate.
func New(k Kernel, width int, policy buffer.EdgePolicy) (*Smoother, error) {
	h, err := k.Coefficients(width)
	if err != nil {
		return nil, err
	}
	if policy != buffer.EdgeCopy && policy != buffer.EdgeTruncate {
		return nil, errors.New("edge policy must be copy or truncate")
	}
	return &Smoother{kernel: h, half: width / 2, policy: policy}, nil
}

// Transform smooths buf in place.
func (s *Smoother) Transform(_ context.Context, buf *buffer.Buffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	nPol, nChan, nRows := buf.Shape()
	n := len(buf.Data)
	s.data = grow(s.data, n)
	s.flags = grow(s.flags, n)

	for r := range nRows {
		for p := range nPol {
			for c := range nChan {
				i := buf.Index(p, c, r)
				s.data[i], s.flags[i] = s.smooth(buf, p, c, r)
			}
		}
	}

	copy(buf.Data, s.data[:n])
	copy(buf.Flags, s.flags[:n])
	for r := range nRows {
		buf.Meta[r].Edge = s.policy
		buf.Meta[r].EdgeWidth = min(s.half, nChan)
	}
	return nil
}

func (s *Smoother) smooth(buf *buffer.Buffer, p, c, r int) (complex64, bool) {
	nChan := buf.Channels()
	in := buf.Data[buf.Index(p, c, r)]

	edge := c < s.half || c >= nChan-s.half
	if edge && s.policy == buffer.EdgeCopy {
		return in, true
	}

	var sum complex128
	var weight float64
	for k, h := range s.kernel {
		j := c + k - s.half
		if j < 0 || j >= nChan {
			continue
		}
		idx := buf.Index(p, j, r)
		if buf.Flags[idx] {
			continue
		}
		sum += complex(h, 0) * complex128(buf.Data[idx])
		weight += h
	}
	if weight == 0 {
		return in, true
	}
	return complex64(sum / complex(weight, 0)), false
}

// HandleWrite forwards flag, weight and row-flag writes. Smoothed data
// cannot be inverted, so data writes are rejected.
func (s *Smoother) HandleWrite(ctx context.Context, inner vi.Iterator, col storage.Column, data any) error {
	if col == storage.ColData {
		return vi.ErrUnsupportedOperation
	}
	return inner.WriteColumn(ctx, col, data)
}

// CanWrite is the inner capability.
func (s *Smoother) CanWrite(inner bool) bool { return inner }

// Schema is the configuration schema of the layer.
var Schema = config.Schema{
	config.String("kernel").Default(string(Hanning)).OneOf(string(Hanning), string(Boxcar)),
	config.Int("kernelWidth").Default(minWidth).Range(minWidth, maxWidth).Check(func(v any) error {
		if v.(int)%2 == 0 {
			return errors.New("must be odd")
		}
		return nil
	}),
	config.String("edgePolicy").Required().OneOf("copy", "truncate"),
}

// Factory returns the layer factory.
func Factory() vi.LayerFactory {
	return vi.LayerFactory{
		Name:   Name,
		Schema: Schema,
		Create: func(_ context.Context, inner vi.Iterator, cfg config.Record, env vi.Env) (vi.Iterator, error) {
			policy, err := ParseEdgePolicy(cfg.String("edgePolicy"))
			if err != nil {
				return nil, err
			}
			s, err := New(Kernel(cfg.String("kernel")), cfg.Int("kernelWidth"), policy)
			if err != nil {
				return nil, err
			}
			return vi.NewTransformLayer(Name, inner, s, env), nil
		},
	}
}

func grow[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}
