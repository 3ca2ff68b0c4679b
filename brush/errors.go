package brush

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPreset is returned for presets that fail validation or
	// were never validated.
	ErrInvalidPreset = errors.New("brush: invalid preset")

	// ErrInvalidSample is returned for samples with non-finite values.
	ErrInvalidSample = errors.New("brush: invalid sample")
)

// PresetError describes one invalid preset field.
type PresetError struct {
	Preset string
	Field  string
	Reason string
}

func (e *PresetError) Error() string {
	return fmt.Sprintf("brush: preset %q: %s %s", e.Preset, e.Field, e.Reason)
}

func (e *PresetError) Unwrap() error { return ErrInvalidPreset }
