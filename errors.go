package sketch

import (
	"errors"
	"fmt"
)

// Engine error taxonomy. Sub-packages return these sentinels directly or
// wrapped in one of the typed errors below; match with errors.Is.
var (
	// ErrInvalidStrokeState is returned when a stroke id is unknown,
	// already ended or cancelled.
	ErrInvalidStrokeState = errors.New("sketch: invalid stroke state")

	// ErrOutOfOrderSample is returned when a sample timestamp is not
	// strictly greater than the previous sample of the same stroke.
	ErrOutOfOrderSample = errors.New("sketch: out-of-order sample")

	// ErrRenderContextLost is returned when the render backend lost its
	// device or surface. The pipeline must be rebuilt.
	ErrRenderContextLost = errors.New("sketch: render context lost")

	// ErrTilePersistFailed is returned when a tile could not be written to
	// the backing store after all retries.
	ErrTilePersistFailed = errors.New("sketch: tile persist failed")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("sketch: invalid config")
)

// StrokeError reports a rejected stroke operation.
type StrokeError struct {
	Op     string // "append", "end", "cancel", ...
	Stroke string
	Err    error
}

func (e *StrokeError) Error() string {
	return fmt.Sprintf("%s stroke %s: %v", e.Op, e.Stroke, e.Err)
}

func (e *StrokeError) Unwrap() error { return e.Err }

// RenderContextLostError reports backend device or surface loss.
type RenderContextLostError struct {
	Backend string
	Cause   error
}

func (e *RenderContextLostError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sketch: render context lost (%s): %v", e.Backend, e.Cause)
	}
	return fmt.Sprintf("sketch: render context lost (%s)", e.Backend)
}

// Unwrap exposes both the sentinel and the backend cause.
func (e *RenderContextLostError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrRenderContextLost}
	}
	return []error{ErrRenderContextLost, e.Cause}
}

// TilePersistError reports a tile that failed to persist. The tile stays
// resident until a later flush succeeds.
type TilePersistError struct {
	Layer    uint32
	X, Y     int
	Revision uint64
	Attempts int
	Cause    error
}

func (e *TilePersistError) Error() string {
	return fmt.Sprintf("sketch: persist tile %d/%d,%d rev %d failed after %d attempts: %v",
		e.Layer, e.X, e.Y, e.Revision, e.Attempts, e.Cause)
}

// Unwrap exposes both the sentinel and the store cause.
func (e *TilePersistError) Unwrap() []error {
	return []error{ErrTilePersistFailed, e.Cause}
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sketch: config %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }
