package sketch

import "fmt"

// BlendMode selects how stroke coverage is combined with layer pixels.
type BlendMode uint8

const (
	// BlendNormal is Porter-Duff source-over.
	BlendNormal BlendMode = iota
	// BlendMultiply multiplies source and backdrop.
	BlendMultiply
	// BlendScreen inverts, multiplies and inverts again.
	BlendScreen
	// BlendDarken keeps the darker of source and backdrop.
	BlendDarken
	// BlendLighten keeps the lighter of source and backdrop.
	BlendLighten
	// BlendErase removes backdrop alpha in proportion to coverage
	// (destination-out).
	BlendErase
)

var blendNames = [...]string{
	BlendNormal:   "normal",
	BlendMultiply: "multiply",
	BlendScreen:   "screen",
	BlendDarken:   "darken",
	BlendLighten:  "lighten",
	BlendErase:    "erase",
}

// String returns the lower-case name of the mode.
func (m BlendMode) String() string {
	if int(m) < len(blendNames) {
		return blendNames[m]
	}
	return fmt.Sprintf("BlendMode(%d)", uint8(m))
}

// ParseBlendMode returns the mode with the given name.
func ParseBlendMode(s string) (BlendMode, error) {
	for i, n := range blendNames {
		if n == s {
			return BlendMode(i), nil
		}
	}
	return 0, fmt.Errorf("sketch: unknown blend mode %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *BlendMode) UnmarshalText(b []byte) error {
	v, err := ParseBlendMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (m BlendMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
