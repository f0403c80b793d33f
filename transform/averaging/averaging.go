// Package averaging implements a time-averaging layer. Consecutive input
// sub-chunks of a chunk are merged into windows of a fixed time span, and
// the rows of each baseline within a window are averaged into one output
// row.
//
// Unlike the other layers the averager changes the number of sub-chunks and
// rows, so it is a standalone iterator rather than a vi.TransformLayer.
// Chunks are forwarded unchanged.
//
// Within a window:
//
//   - DATA is the weighted mean of the unflagged samples; a sample whose
//     input samples were all flagged gets their plain mean and is flagged
//   - WEIGHT is the sum over rows with an unflagged sample in that
//     polarization
//   - TIME is the centre of the input times, INTERVAL the span covered,
//     UVW the weighted mean
//   - FLAG_ROW is the logical AND of the input row flags
//
// With MaxUvwDistance set, a baseline whose UVW moves too far from the
// first row of its run is split into several output rows of the window.
//
// A failing input sub-chunk can be retried through Buffer. Next after a
// failure skips it: the inner iterator moves past the failed sub-chunk, the
// partial window is dropped and the next window starts after it.
package averaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/config"
	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/vi"
)

// Name is the layer type name.
const Name = "averaging"

// Weighting selects how samples contribute to the mean.
type Weighting string

const (
	// ByWeight weights each sample by its polarization's WEIGHT.
	ByWeight Weighting = "weight"
	// Unweighted gives every unflagged sample the same weight.
	Unweighted Weighting = "none"
)

// Options configures an Averager.
type Options struct {
	// Interval is the window span in seconds. A window starts at the TIME
	// of its first sub-chunk and accepts sub-chunks starting before
	// start+Interval.
	Interval float64

	Weighting Weighting

	// MaxRows caps the output rows of a window. A window closes before a
	// sub-chunk that would add baselines beyond the cap; the first
	// sub-chunk is always accepted. Zero means unbounded.
	MaxRows int

	// MaxUvwDistance, in meters, closes a baseline's run once its UVW is
	// farther than this from the run's first row. Zero disables it.
	MaxUvwDistance float64
}

func (o Options) validate() error {
	if !(o.Interval > 0) {
		return fmt.Errorf("%w: averaging interval %v must be positive", vi.ErrInvalidArgument, o.Interval)
	}
	switch o.Weighting {
	case ByWeight, Unweighted:
	default:
		return fmt.Errorf("%w: unknown weighting %q", vi.ErrInvalidArgument, o.Weighting)
	}
	if o.MaxRows < 0 {
		return fmt.Errorf("%w: maxRows %d is negative", vi.ErrInvalidArgument, o.MaxRows)
	}
	if !(o.MaxUvwDistance >= 0) {
		return fmt.Errorf("%w: maxUvwDistance %v is negative", vi.ErrInvalidArgument, o.MaxUvwDistance)
	}
	return nil
}

var _ vi.Iterator = (*Averager)(nil)

// Averager is the time-averaging iterator.
type Averager struct {
	inner vi.Iterator
	opts  Options
	env   vi.Env

	win   window
	out   *buffer.Buffer
	sub   int
	valid  bool
	built  bool
	failed bool // building the current window returned a transform error

	closed bool
}

// New wraps inner. The averager owns inner and closes it.
func New(inner vi.Iterator, opts Options, env vi.Env) (*Averager, error) {
	if opts.Weighting == "" {
		opts.Weighting = ByWeight
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Averager{inner: inner, opts: opts, env: env, out: buffer.New(), sub: -1}, nil
}

func (a *Averager) Name() string { return Name }

func (a *Averager) OriginChunks(ctx context.Context) error {
	if a.closed {
		return errClosed()
	}
	a.restart(-1)
	a.valid = false
	return a.inner.OriginChunks(ctx)
}

func (a *Averager) MoreChunks() bool { return !a.closed && a.inner.MoreChunks() }

func (a *Averager) NextChunk(ctx context.Context) error {
	if a.closed {
		return errClosed()
	}
	a.restart(-1)
	a.valid = false
	return a.inner.NextChunk(ctx)
}

func (a *Averager) Origin(ctx context.Context) error {
	if a.closed {
		return errClosed()
	}
	a.restart(0)
	a.valid = false
	if err := a.inner.Origin(ctx); err != nil {
		return err
	}
	a.valid = a.inner.More()
	return nil
}

func (a *Averager) More() bool { return !a.closed && a.valid }

// Next advances past the current window. The window is consumed from the
// inner iterator first if Buffer was not called for it. If building the
// window already failed with a transform error, Next skips the failed input
// sub-chunk instead.
func (a *Averager) Next(ctx context.Context) error {
	if a.closed {
		return errClosed()
	}
	if !a.valid {
		return fmt.Errorf("%w: no current sub-chunk", vi.ErrInvalidState)
	}
	switch {
	case a.failed:
		if err := a.skip(ctx); err != nil {
			return err
		}
	case !a.built:
		if err := a.build(ctx); err != nil {
			return err
		}
	}
	a.restart(a.sub + 1)
	a.valid = a.inner.More()
	return nil
}

// Buffer returns the averaged rows of the current window. The buffer is
// owned by the averager and is valid until the next navigation call.
func (a *Averager) Buffer(ctx context.Context) (*buffer.Buffer, error) {
	if a.closed {
		return nil, errClosed()
	}
	if !a.valid {
		return nil, fmt.Errorf("%w: no current sub-chunk", vi.ErrInvalidState)
	}
	if !a.built {
		if err := a.build(ctx); err != nil {
			return nil, err
		}
	}
	return a.out, nil
}

// WriteColumn is unsupported: averaged rows have no single storage row.
func (a *Averager) WriteColumn(context.Context, storage.Column, any) error {
	if a.closed {
		return errClosed()
	}
	return vi.Unsupported(Name, "writes")
}

func (a *Averager) CanWrite() bool { return false }

func (a *Averager) Schema() storage.Schema { return a.inner.Schema() }

func (a *Averager) Position() vi.Position {
	return vi.Position{Chunk: a.inner.Position().Chunk, Subchunk: a.sub}
}

func (a *Averager) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.valid = false
	return a.inner.Close()
}

func (a *Averager) restart(sub int) {
	a.sub = sub
	a.built = false
	a.failed = false
	a.win.reset()
}

// skip moves the inner iterator past the input sub-chunk that failed.
func (a *Averager) skip(ctx context.Context) error {
	pos := a.inner.Position()
	a.env.Log().WarnContext(ctx, "skipping input sub-chunk",
		"chunk", pos.Chunk,
		"subchunk", pos.Subchunk,
		"dropped_rows", len(a.win.rows),
	)
	if !a.inner.More() {
		return nil
	}
	return a.inner.Next(ctx)
}

// build consumes input sub-chunks until the window closes. On failure the
// rows accumulated so far are kept and the next call resumes at the failed
// sub-chunk.
func (a *Averager) build(ctx context.Context) error {
	start := time.Now()
	consumed, err := a.fill(ctx)
	a.env.Observe(Name, time.Since(start), err)
	if err != nil {
		a.failed = errors.Is(err, vi.ErrTransform)
		return err
	}
	a.win.emit(a.out, a.inner.Position().Chunk, a.sub)
	a.built = true

	a.env.Log().DebugContext(ctx, "window averaged",
		"chunk", a.out.Chunk,
		"subchunk", a.sub,
		"inputs", consumed,
		"rows", a.out.Rows(),
	)
	return nil
}

func (a *Averager) fill(ctx context.Context) (int, error) {
	consumed := 0
	for a.inner.More() {
		buf, err := a.inner.Buffer(ctx)
		if err != nil {
			return consumed, err
		}
		if buf.Rows() > 0 {
			if !a.win.accepts(buf, a.opts) {
				return consumed, nil
			}
			if err := a.win.add(buf, a.opts); err != nil {
				return consumed, &vi.TransformError{Layer: Name, Position: a.Position(), Err: err}
			}
		}
		consumed++
		if err := a.inner.Next(ctx); err != nil {
			return consumed, err
		}
	}
	return consumed, nil
}

func errClosed() error {
	return fmt.Errorf("%w: layer %s closed", vi.ErrInvalidState, Name)
}

// Schema is the configuration schema of the layer.
var Schema = config.Schema{
	config.Float("interval").Required().Check(func(v any) error {
		if !(v.(float64) > 0) {
			return errors.New("must be positive")
		}
		return nil
	}),
	config.String("weighting").Default(string(ByWeight)).OneOf(string(ByWeight), string(Unweighted)),
	config.Int("maxRows").Default(0).Min(0),
	config.Float("maxUvwDistance").Default(0.0).Min(0),
}

// Factory returns the layer factory.
func Factory() vi.LayerFactory {
	return vi.LayerFactory{
		Name:   Name,
		Schema: Schema,
		Create: func(_ context.Context, inner vi.Iterator, cfg config.Record, env vi.Env) (vi.Iterator, error) {
			a, err := New(inner, Options{
				Interval:       cfg.Float("interval"),
				Weighting:      Weighting(cfg.String("weighting")),
				MaxRows:        cfg.Int("maxRows"),
				MaxUvwDistance: cfg.Float("maxUvwDistance"),
			}, env)
			if err != nil {
				return nil, err
			}
			return a, nil
		},
	}
}
