package vi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/internal/resource"
	"github.com/hupe1980/vistream/storage"
)

// Iterator is the navigation and buffer-access contract shared by the base
// iterator and every layer above it.
//
// Navigation follows a two-level loop:
//
//	for err := it.OriginChunks(ctx); err == nil && it.MoreChunks(); err = it.NextChunk(ctx) {
//		for err = it.Origin(ctx); err == nil && it.More(); err = it.Next(ctx) {
//			buf, err := it.Buffer(ctx)
//			...
//		}
//	}
//
// OriginChunks positions the iterator at the first chunk; MoreChunks reports
// whether the current chunk is valid. Origin positions it at the first
// sub-chunk of the current chunk and More reports whether the current
// sub-chunk is valid. NextChunk and Next return ErrInvalidState when the
// matching More method is false.
//
// Iterators are not safe for concurrent use.
type Iterator interface {
	// Name identifies the layer in errors and logs.
	Name() string

	OriginChunks(ctx context.Context) error
	MoreChunks() bool
	NextChunk(ctx context.Context) error

	Origin(ctx context.Context) error
	More() bool
	Next(ctx context.Context) error

	// Buffer returns the buffer of the current sub-chunk. It is reused in
	// place by the next advance.
	Buffer(ctx context.Context) (*buffer.Buffer, error)

	// WriteColumn writes col for the rows of the current sub-chunk. After
	// a successful write the next Buffer call at the same position shows
	// the written rows as seen through every layer.
	WriteColumn(ctx context.Context, col storage.Column, data any) error

	// CanWrite reports whether writes through this iterator can succeed.
	CanWrite() bool

	// Schema describes the shape of the buffers produced at this level.
	Schema() storage.Schema

	// Position returns the current chunk and sub-chunk indices.
	Position() Position

	Close() error
}

// Position identifies a sub-chunk. Subchunk is -1 before Origin.
type Position struct {
	Chunk    int
	Subchunk int
}

func (p Position) String() string {
	return fmt.Sprintf("chunk %d/sub-chunk %d", p.Chunk, p.Subchunk)
}

// Observer receives the duration and outcome of every transform run.
type Observer interface {
	ObserveTransform(layer string, d time.Duration, err error)
}

// NoopObserver discards observations.
type NoopObserver struct{}

func (NoopObserver) ObserveTransform(string, time.Duration, error) {}

// Env carries the collaborators shared by every component of one stack.
// The zero value is usable.
type Env struct {
	Logger    *slog.Logger
	Observer  Observer
	Resources *resource.Controller
}

// Log returns the logger, or a discarding logger if none is set.
func (e Env) Log() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

// Observe reports a transform run to the observer, if any.
func (e Env) Observe(layer string, d time.Duration, err error) {
	if e.Observer != nil {
		e.Observer.ObserveTransform(layer, d, err)
	}
}
