package vi

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/storage"
)

// Transformer is the buffer-rewrite hook of a TransformLayer.
//
// Transform mutates buf in place. It must leave buf unchanged when it
// returns an error, so that a retry starts from the same input.
type Transformer interface {
	Transform(ctx context.Context, buf *buffer.Buffer) error
}

// TransformFunc adapts a function to Transformer.
type TransformFunc func(ctx context.Context, buf *buffer.Buffer) error

func (f TransformFunc) Transform(ctx context.Context, buf *buffer.Buffer) error { return f(ctx, buf) }

// WriteHandler is implemented by transformers that intercept writes. A
// transformer without one forwards every write to the inner iterator.
type WriteHandler interface {
	// HandleWrite rejects, rewrites-and-forwards or consumes a write.
	HandleWrite(ctx context.Context, inner Iterator, col storage.Column, data any) error
	// CanWrite reports the layer's capability given the inner one.
	CanWrite(inner bool) bool
}

// SchemaMapper is implemented by transformers that change the buffer shape.
type SchemaMapper interface {
	MapSchema(inner storage.Schema) storage.Schema
}

// ReadOnly is a WriteHandler that rejects every write. Embed it in
// transformers whose rewrite cannot be inverted.
type ReadOnly struct{}

func (ReadOnly) HandleWrite(context.Context, Iterator, storage.Column, any) error {
	return ErrUnsupportedOperation
}

func (ReadOnly) CanWrite(bool) bool { return false }

// TransformLayer decorates an inner iterator with a Transformer. Navigation
// is forwarded unchanged; Buffer runs the transform at most once per
// position, and again on the next call if it failed.
type TransformLayer struct {
	name  string
	inner Iterator
	t     Transformer
	env   Env

	clean  bool
	closed bool
}

// NewTransformLayer wraps inner. The layer owns inner and closes it.
func NewTransformLayer(name string, inner Iterator, t Transformer, env Env) *TransformLayer {
	return &TransformLayer{name: name, inner: inner, t: t, env: env}
}

func (l *TransformLayer) Name() string { return l.name }

func (l *TransformLayer) OriginChunks(ctx context.Context) error {
	if l.closed {
		return invalidState("layer %s closed", l.name)
	}
	l.clean = false
	return l.inner.OriginChunks(ctx)
}

func (l *TransformLayer) MoreChunks() bool { return !l.closed && l.inner.MoreChunks() }

func (l *TransformLayer) NextChunk(ctx context.Context) error {
	if l.closed {
		return invalidState("layer %s closed", l.name)
	}
	l.clean = false
	return l.inner.NextChunk(ctx)
}

func (l *TransformLayer) Origin(ctx context.Context) error {
	if l.closed {
		return invalidState("layer %s closed", l.name)
	}
	l.clean = false
	return l.inner.Origin(ctx)
}

func (l *TransformLayer) More() bool { return !l.closed && l.inner.More() }

func (l *TransformLayer) Next(ctx context.Context) error {
	if l.closed {
		return invalidState("layer %s closed", l.name)
	}
	l.clean = false
	return l.inner.Next(ctx)
}

// Buffer returns the inner buffer, transformed by this layer.
func (l *TransformLayer) Buffer(ctx context.Context) (*buffer.Buffer, error) {
	if l.closed {
		return nil, invalidState("layer %s closed", l.name)
	}
	buf, err := l.inner.Buffer(ctx)
	if err != nil {
		return nil, err
	}
	if l.clean {
		return buf, nil
	}

	start := time.Now()
	err = l.t.Transform(ctx, buf)
	l.env.Observe(l.name, time.Since(start), err)
	if err != nil {
		pos := l.inner.Position()
		l.env.Log().DebugContext(ctx, "transform failed",
			"chunk", pos.Chunk,
			"subchunk", pos.Subchunk,
			"error", err,
		)
		return nil, &TransformError{Layer: l.name, Position: pos, Err: err}
	}
	l.clean = true
	return buf, nil
}

func (l *TransformLayer) WriteColumn(ctx context.Context, col storage.Column, data any) error {
	if l.closed {
		return invalidState("layer %s closed", l.name)
	}
	var err error
	if h, ok := l.t.(WriteHandler); !ok {
		err = l.inner.WriteColumn(ctx, col, data)
	} else if !h.CanWrite(l.inner.CanWrite()) {
		return Unsupported(l.name, "writes")
	} else {
		err = h.HandleWrite(ctx, l.inner, col, data)
		if err == ErrUnsupportedOperation { //nolint:errorlint // bare sentinel gets the layer name
			return Unsupported(l.name, "writes of "+string(col))
		}
	}
	if err != nil {
		return err
	}
	// the inner buffer may hold the written values now
	l.clean = false
	return nil
}

func (l *TransformLayer) CanWrite() bool {
	if l.closed {
		return false
	}
	if h, ok := l.t.(WriteHandler); ok {
		return h.CanWrite(l.inner.CanWrite())
	}
	return l.inner.CanWrite()
}

func (l *TransformLayer) Schema() storage.Schema {
	s := l.inner.Schema()
	if m, ok := l.t.(SchemaMapper); ok {
		return m.MapSchema(s)
	}
	return s
}

func (l *TransformLayer) Position() Position { return l.inner.Position() }

// Close closes the transformer, if it is an io.Closer, and then the inner
// iterator.
func (l *TransformLayer) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	var errs []error
	if c, ok := l.t.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, l.inner.Close())
	return errors.Join(errs...)
}
