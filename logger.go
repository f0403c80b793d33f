package vistream

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/vistream/storage"
	"github.com/hupe1980/vistream/vi"
)

// Logger wraps slog.Logger with vistream-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithTable adds the table path to the logger.
func (l *Logger) WithTable(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", path),
	}
}

// WithLayer adds a layer name field to the logger.
func (l *Logger) WithLayer(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("layer", name),
	}
}

// LogBuild logs the construction of a stack. layers are listed innermost
// first.
func (l *Logger) LogBuild(ctx context.Context, layers []string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"layers", layers,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "pipeline built",
			"layers", layers,
		)
	}
}

// LogChunk logs the delivery of a sub-chunk.
func (l *Logger) LogChunk(ctx context.Context, pos vi.Position, rows int) {
	l.DebugContext(ctx, "sub-chunk delivered",
		"chunk", pos.Chunk,
		"subchunk", pos.Subchunk,
		"rows", rows,
	)
}

// LogWrite logs a write through the stack.
func (l *Logger) LogWrite(ctx context.Context, pos vi.Position, col storage.Column, err error) {
	if err != nil {
		l.WarnContext(ctx, "write failed",
			"chunk", pos.Chunk,
			"subchunk", pos.Subchunk,
			"column", string(col),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "write completed",
			"chunk", pos.Chunk,
			"subchunk", pos.Subchunk,
			"column", string(col),
		)
	}
}

// LogClose logs the release of a stack.
func (l *Logger) LogClose(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "close failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "handle closed")
	}
}
