package vi

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage is matched by I/O failures of the underlying table. A storage
	// error is fatal to the iterator that returned it.
	ErrStorage = errors.New("storage error")

	// ErrConfiguration is matched by invalid layer options. It is only
	// returned while a stack is being built.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrTransform is matched by failures of a layer's transform hook. The
	// iterator position stays valid; the caller may retry or skip.
	ErrTransform = errors.New("transform failed")

	// ErrUnsupportedOperation is returned by writes through a layer or stack
	// that does not support them.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrInvalidState is returned when a method is called outside the
	// lifecycle state it requires.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidArgument is returned when a write payload has the wrong type or
	// length for the current sub-chunk.
	ErrInvalidArgument = errors.New("invalid argument")
)

// TransformError reports a failed transform at a position.
type TransformError struct {
	Layer    string
	Position Position
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("layer %s at %s: transform failed: %v", e.Layer, e.Position, e.Err)
}

func (e *TransformError) Unwrap() []error { return []error{ErrTransform, e.Err} }

// ConfigError reports an invalid configuration record. Index is the layer's
// position in the build order, or -1 for errors that concern the whole
// stack.
type ConfigError struct {
	Layer string
	Index int
	Key   string
	Err   error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	case e.Key != "":
		return fmt.Sprintf("layer %d (%s): invalid configuration key %q: %v", e.Index, e.Layer, e.Key, e.Err)
	default:
		return fmt.Sprintf("layer %d (%s): invalid configuration: %v", e.Index, e.Layer, e.Err)
	}
}

func (e *ConfigError) Unwrap() []error { return []error{ErrConfiguration, e.Err} }

// StorageError wraps a failure of the underlying table.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// storageError wraps err unless it is already a storage error.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Unsupported returns an ErrUnsupportedOperation naming the layer and operation.
func Unsupported(layer, op string) error {
	return fmt.Errorf("%w: layer %s does not support %s", ErrUnsupportedOperation, layer, op)
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
