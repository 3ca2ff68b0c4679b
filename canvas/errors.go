package canvas

import "errors"

var (
	// ErrClosed is returned by operations on a closed engine or surface.
	ErrClosed = errors.New("canvas: closed")

	// ErrUnknownLayer is returned for a layer id the engine does not know.
	ErrUnknownLayer = errors.New("canvas: unknown layer")

	// ErrStrokesPending is returned while ended strokes wait for Recover.
	ErrStrokesPending = errors.New("canvas: strokes waiting for Recover")

	// ErrNilProvider is returned when a nil DeviceProvider is passed.
	ErrNilProvider = errors.New("canvas: nil DeviceProvider")

	// ErrInvalidDimensions is returned when width or height is invalid.
	ErrInvalidDimensions = errors.New("canvas: invalid dimensions")

	// ErrInvalidRenderer is returned when the draw context's renderer
	// cannot create textures.
	ErrInvalidRenderer = errors.New("canvas: renderer must implement NewTextureFromRGBA")
)
