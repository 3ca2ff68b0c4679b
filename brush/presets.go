package brush

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/sketch"
)

// presetFile is the TOML layout of a preset collection:
//
//	[[preset]]
//	name = "ink"
//	kind = "marker"
//	size = 10
//	color = "#202020"
//	[preset.marker]
//	tip_aspect = 0.5
//
// Unset fields take the value of the built-in preset of the same kind.
type presetFile struct {
	Preset []presetDoc `toml:"preset"`
}

type presetDoc struct {
	Name      string            `toml:"name"`
	Kind      string            `toml:"kind"`
	Size      *float64          `toml:"size"`
	MinSize   *float64          `toml:"min_size"`
	Opacity   *float64          `toml:"opacity"`
	Flow      *float64          `toml:"flow"`
	Spacing   *float64          `toml:"spacing"`
	Scatter   *float64          `toml:"scatter"`
	Smoothing *float64          `toml:"smoothing"`
	Hardness  *float64          `toml:"hardness"`
	Blend     *sketch.BlendMode `toml:"blend"`
	Texture   *string           `toml:"texture"`
	Color     *sketch.Color     `toml:"color"`
	Dynamics  *Dynamics         `toml:"dynamics"`

	Pencil     *PencilParams     `toml:"pencil"`
	Marker     *MarkerParams     `toml:"marker"`
	Watercolor *WatercolorParams `toml:"watercolor"`
	Airbrush   *AirbrushParams   `toml:"airbrush"`
}

func (d presetDoc) preset() (Preset, error) {
	kind, err := ParseKind(d.Kind)
	if err != nil {
		return Preset{}, fmt.Errorf("preset %q: %w", d.Name, err)
	}
	p := builtinFor(kind)
	p.validated = false
	p.Name = d.Name

	setf := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setf(&p.Size, d.Size)
	setf(&p.MinSize, d.MinSize)
	setf(&p.Opacity, d.Opacity)
	setf(&p.Flow, d.Flow)
	setf(&p.Spacing, d.Spacing)
	setf(&p.Scatter, d.Scatter)
	setf(&p.Smoothing, d.Smoothing)
	setf(&p.Hardness, d.Hardness)
	if d.Blend != nil {
		p.Blend = *d.Blend
	}
	if d.Texture != nil {
		p.Texture = *d.Texture
	}
	if d.Color != nil {
		p.Color = *d.Color
	}
	if d.Dynamics != nil {
		p.Dynamics = *d.Dynamics
	}

	switch kind {
	case KindPencil:
		if d.Pencil != nil {
			p.Params = *d.Pencil
		}
	case KindMarker:
		if d.Marker != nil {
			p.Params = *d.Marker
		}
	case KindWatercolor:
		if d.Watercolor != nil {
			p.Params = *d.Watercolor
		}
	case KindAirbrush:
		if d.Airbrush != nil {
			p.Params = *d.Airbrush
		}
	}
	return p.Validate()
}

// ParsePresets decodes and validates a TOML preset collection. Names must
// be unique.
func ParsePresets(source string, data []byte) ([]Preset, error) {
	var f presetFile
	if err := toml.Unmarshal(data, &f); err != nil {
		pe := &sketch.ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			pe.Line, pe.Column = derr.Position()
		}
		return nil, pe
	}

	seen := make(map[string]bool, len(f.Preset))
	out := make([]Preset, 0, len(f.Preset))
	var errs []error
	for _, d := range f.Preset {
		if seen[d.Name] {
			errs = append(errs, &PresetError{Preset: d.Name, Field: "name", Reason: "is duplicated"})
			continue
		}
		seen[d.Name] = true
		p, err := d.preset()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return out, nil
}

// LoadPresets reads a TOML preset file.
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading presets %s: %w", path, err)
	}
	return ParsePresets(path, data)
}
