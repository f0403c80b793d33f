package vistream

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/vi"
)

// State is the lifecycle state of a Handle.
type State uint8

const (
	// StateBeforeChunks is the state after Build, before OriginChunks.
	StateBeforeChunks State = iota
	// StateBeforeRows is positioned on a chunk, before Origin.
	StateBeforeRows
	// StateInRow is positioned on a sub-chunk; data access is allowed.
	StateInRow
	// StateChunkExhausted has visited every sub-chunk of the current chunk.
	StateChunkExhausted
	// StateDone has no more chunks, or a storage failure ended the traversal.
	StateDone
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBeforeChunks:
		return "BeforeChunks"
	case StateBeforeRows:
		return "BeforeRows"
	case StateInRow:
		return "InRow"
	case StateChunkExhausted:
		return "ChunkExhausted"
	case StateDone:
		return "Done"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// inChunk reports whether s is one of the InChunk states.
func (s State) inChunk() bool {
	return s == StateBeforeRows || s == StateInRow || s == StateChunkExhausted
}

// Handle is the facade over an assembled stack. It enforces the lifecycle
// state machine and forwards calls to the outermost layer.
//
// A Handle is not safe for concurrent use.
type Handle struct {
	it      vi.Iterator
	layers  []string
	state   State
	logger  *Logger
	metrics MetricsCollector

	delivered bool // current sub-chunk recorded in metrics
	failed    bool // a storage error ended the traversal
}

func newHandle(it vi.Iterator, layers []string, o options) *Handle {
	return &Handle{
		it:      it,
		layers:  layers,
		state:   StateBeforeChunks,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}
}

// State returns the lifecycle state.
func (h *Handle) State() State { return h.state }

// Layers returns the names of the stack's components, innermost first.
func (h *Handle) Layers() []string { return append([]string(nil), h.layers...) }

// Iterator returns the outermost layer.
func (h *Handle) Iterator() vi.Iterator { return h.it }

// Position returns the current position of the outermost layer.
func (h *Handle) Position() vi.Position { return h.it.Position() }

// Schema returns the schema reported by the outermost layer. It is the zero
// schema once the handle is closed.
func (h *Handle) Schema() storage.Schema {
	if h.state == StateClosed {
		return storage.Schema{}
	}
	return h.it.Schema()
}

// OriginChunks positions the handle on the first chunk. It restarts the
// traversal from any state except Closed and a Done reached through a
// storage error.
func (h *Handle) OriginChunks(ctx context.Context) error {
	if h.state == StateClosed || h.failed {
		return h.invalid("OriginChunks")
	}
	h.delivered = false
	if err := h.it.OriginChunks(ctx); err != nil {
		return h.fail(err)
	}
	h.settleChunk()
	return nil
}

// MoreChunks reports whether the handle is positioned on a chunk.
func (h *Handle) MoreChunks() bool {
	return h.state.inChunk() && h.it.MoreChunks()
}

// NextChunk advances to the next chunk.
func (h *Handle) NextChunk(ctx context.Context) error {
	if !h.state.inChunk() {
		return h.invalid("NextChunk")
	}
	h.delivered = false
	if err := h.it.NextChunk(ctx); err != nil {
		return h.fail(err)
	}
	h.settleChunk()
	return nil
}

// Origin positions the handle on the first sub-chunk of the current chunk.
func (h *Handle) Origin(ctx context.Context) error {
	if !h.state.inChunk() {
		return h.invalid("Origin")
	}
	h.delivered = false
	if err := h.it.Origin(ctx); err != nil {
		return h.fail(err)
	}
	h.settleRow()
	return nil
}

// More reports whether the handle is positioned on a sub-chunk.
func (h *Handle) More() bool {
	return h.state == StateInRow && h.it.More()
}

// Next advances to the next sub-chunk of the current chunk.
func (h *Handle) Next(ctx context.Context) error {
	if h.state != StateInRow {
		return h.invalid("Next")
	}
	h.delivered = false
	if err := h.it.Next(ctx); err != nil {
		return h.fail(err)
	}
	h.settleRow()
	return nil
}

// Buffer returns the current sub-chunk as seen through every layer. The
// buffer is reused by the next navigation call and must not be retained.
func (h *Handle) Buffer(ctx context.Context) (*buffer.Buffer, error) {
	if h.state != StateInRow {
		return nil, h.invalid("Buffer")
	}
	buf, err := h.it.Buffer(ctx)
	if err != nil {
		return nil, h.fail(err)
	}
	if !h.delivered {
		h.delivered = true
		h.metrics.RecordSubchunk(buf.Rows())
		h.logger.LogChunk(ctx, h.it.Position(), buf.Rows())
	}
	return buf, nil
}

// All returns a sequence over every sub-chunk, starting from the first
// chunk. The sequence is lazy and can be ranged over once; each step
// invalidates the previous buffer. An error is yielded once and ends the
// sequence.
func (h *Handle) All(ctx context.Context) iter.Seq2[*buffer.Buffer, error] {
	used := false
	return func(yield func(*buffer.Buffer, error) bool) {
		if used {
			yield(nil, fmt.Errorf("%w: sequence already consumed", ErrInvalidState))
			return
		}
		used = true

		if err := h.OriginChunks(ctx); err != nil {
			yield(nil, err)
			return
		}
		for h.MoreChunks() {
			if err := h.Origin(ctx); err != nil {
				yield(nil, err)
				return
			}
			for h.More() {
				buf, err := h.Buffer(ctx)
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(buf, nil) {
					return
				}
				if err := h.Next(ctx); err != nil {
					yield(nil, err)
					return
				}
			}
			if err := h.NextChunk(ctx); err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// WriteFlags writes the FLAG cube of the current sub-chunk.
func (h *Handle) WriteFlags(ctx context.Context, flags []bool) error {
	return h.write(ctx, storage.ColFlag, flags)
}

// WriteData writes the DATA cube of the current sub-chunk.
func (h *Handle) WriteData(ctx context.Context, data []complex64) error {
	return h.write(ctx, storage.ColData, data)
}

// WriteWeights writes the WEIGHT column (P values per row) of the current
// sub-chunk.
func (h *Handle) WriteWeights(ctx context.Context, weights []float32) error {
	return h.write(ctx, storage.ColWeight, weights)
}

// WriteFlagRow writes the FLAG_ROW column of the current sub-chunk.
func (h *Handle) WriteFlagRow(ctx context.Context, flags []bool) error {
	return h.write(ctx, storage.ColFlagRow, flags)
}

// CanWrite reports whether the stack accepts writes.
func (h *Handle) CanWrite() bool {
	return h.state != StateClosed && h.it.CanWrite()
}

// Close releases every layer in reverse construction order. Close is
// idempotent.
func (h *Handle) Close() error {
	if h.state == StateClosed {
		return nil
	}
	h.state = StateClosed
	err := h.it.Close()
	h.logger.LogClose(context.Background(), err)
	return err
}

func (h *Handle) write(ctx context.Context, col storage.Column, data any) error {
	if h.state != StateInRow {
		return h.invalid("Write " + string(col))
	}
	err := h.it.WriteColumn(ctx, col, data)
	h.metrics.RecordWrite(col, err)
	h.logger.LogWrite(ctx, h.it.Position(), col, err)
	if err != nil {
		return h.fail(err)
	}
	return nil
}

func (h *Handle) settleChunk() {
	if h.it.MoreChunks() {
		h.state = StateBeforeRows
	} else {
		h.state = StateDone
	}
}

func (h *Handle) settleRow() {
	if h.it.More() {
		h.state = StateInRow
	} else {
		h.state = StateChunkExhausted
	}
}

// fail moves the handle to Done on storage failures and returns err.
func (h *Handle) fail(err error) error {
	if errors.Is(err, ErrStorage) {
		h.state = StateDone
		h.failed = true
	}
	return err
}

func (h *Handle) invalid(op string) error {
	if h.failed {
		return fmt.Errorf("%w: %s after storage failure", ErrInvalidState, op)
	}
	return fmt.Errorf("%w: %s in state %s", ErrInvalidState, op, h.state)
}
