package vistream

import "github.com/hupe1980/vistream/vi"

// Error kinds, matched with errors.Is. They are the vi sentinels.
var (
	// ErrStorage reports an I/O failure. It is fatal to the handle.
	ErrStorage = vi.ErrStorage
	// ErrConfiguration reports invalid layer options, detected by Build.
	ErrConfiguration = vi.ErrConfiguration
	// ErrTransform reports a failed buffer rewrite. The position stays
	// valid and the caller may retry or skip.
	ErrTransform = vi.ErrTransform
	// ErrUnsupportedOperation reports a write through a stack that cannot
	// write.
	ErrUnsupportedOperation = vi.ErrUnsupportedOperation
	// ErrInvalidState reports a call outside the required lifecycle state.
	ErrInvalidState = vi.ErrInvalidState
	// ErrInvalidArgument reports a wrongly shaped write payload.
	ErrInvalidArgument = vi.ErrInvalidArgument
)

// Typed errors, matched with errors.As.
type (
	TransformError = vi.TransformError
	ConfigError    = vi.ConfigError
	StorageError   = vi.StorageError
)
