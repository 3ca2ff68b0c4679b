package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
)

// scenarioFile is the YAML layout of a scenario collection:
//
//	scenarios:
//	  - name: storm
//	    config: {canvas_width: 2048, canvas_height: 2048, budget: 67108864}
//	    presets_file: presets.toml
//	    frame_every: 4
//	    generate: {strokes: 200, seed: 7, preset: pencil}
//	    strokes:
//	      - preset: marker
//	        color: "#d03030"
//	        from: [10, 10]
//	        to: [400, 300]
//	      - preset: pencil
//	        cancel_after: 10
//	        points: [[10, 10, 0.5], [20, 12, 0.6], [30, 15, 0.7]]
//
// Generated strokes come before scripted ones.
type scenarioFile struct {
	Scenarios []scenarioDoc `yaml:"scenarios"`
}

type scenarioDoc struct {
	Name        string       `yaml:"name"`
	ConfigFile  string       `yaml:"config_file"`
	Config      configDoc    `yaml:"config"`
	PresetsFile string       `yaml:"presets_file"`
	Layers      int          `yaml:"layers"`
	FrameEvery  int          `yaml:"frame_every"`
	Generate    *generateDoc `yaml:"generate"`
	Strokes     []strokeDoc  `yaml:"strokes"`
}

type configDoc struct {
	CanvasWidth        *int     `yaml:"canvas_width"`
	CanvasHeight       *int     `yaml:"canvas_height"`
	TileSize           *int     `yaml:"tile_size"`
	ResidentByteBudget *int64   `yaml:"budget"`
	LowWaterMarkRatio  *float64 `yaml:"low_water_mark_ratio"`
	CompressionLevel   *int     `yaml:"compression_level"`
	StrokeLogLimit     *int     `yaml:"stroke_log_limit"`
	PressureInterval   string   `yaml:"pressure_interval"`
}

type generateDoc struct {
	Strokes     int     `yaml:"strokes"`
	Seed        int64   `yaml:"seed"`
	Preset      string  `yaml:"preset"`
	Length      float64 `yaml:"length"`
	CancelEvery int     `yaml:"cancel_every"`
}

type strokeDoc struct {
	Preset      string      `yaml:"preset"`
	Color       string      `yaml:"color"`
	Layer       int         `yaml:"layer"`
	CancelAfter int         `yaml:"cancel_after"`
	Points      [][]float64 `yaml:"points"`
	From        []float64   `yaml:"from"`
	To          []float64   `yaml:"to"`
	Step        float64     `yaml:"step"`
	Pressure    float64     `yaml:"pressure"`
}

// ParseScenarios decodes a YAML scenario file. Relative config and preset
// paths are resolved against dir.
func ParseScenarios(source, dir string, data []byte) ([]Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f scenarioFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", source, ErrNoScenarios)
		}
		return nil, &sketch.ParseError{Path: source, Message: err.Error(), Err: err}
	}
	if len(f.Scenarios) == 0 {
		return nil, fmt.Errorf("%s: %w", source, ErrNoScenarios)
	}
	out := make([]Scenario, 0, len(f.Scenarios))
	for _, doc := range f.Scenarios {
		sc, err := doc.scenario(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// LoadScenarios reads scenarios from a YAML file or a Lua script, chosen by
// extension. ctx bounds the running time of Lua scripts.
func LoadScenarios(ctx context.Context, path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		sc, err := ParseLuaScenario(ctx, path, dir, string(data))
		if err != nil {
			return nil, err
		}
		return []Scenario{sc}, nil
	case ".yaml", ".yml":
		return ParseScenarios(path, dir, data)
	}
	return nil, fmt.Errorf("%w: %s: unknown file type", ErrInvalidScenario, path)
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// baseScenario loads the config and presets files shared by the YAML and
// Lua front ends.
func baseScenario(name, dir, configFile, presetsFile string) (Scenario, error) {
	sc := Scenario{Name: name, Config: sketch.DefaultConfig()}
	if configFile != "" {
		cfg, err := sketch.LoadConfig(resolve(dir, configFile))
		if err != nil {
			return Scenario{}, &ScenarioError{Scenario: name, Stroke: -1, Err: err}
		}
		sc.Config = cfg
	}
	if presetsFile != "" {
		presets, err := brush.LoadPresets(resolve(dir, presetsFile))
		if err != nil {
			return Scenario{}, &ScenarioError{Scenario: name, Stroke: -1, Err: err}
		}
		sc.Presets = presets
	}
	return sc, nil
}

func (d scenarioDoc) scenario(dir string) (Scenario, error) {
	sc, err := baseScenario(d.Name, dir, d.ConfigFile, d.PresetsFile)
	if err != nil {
		return Scenario{}, err
	}
	if err := d.Config.apply(&sc.Config); err != nil {
		return Scenario{}, &ScenarioError{Scenario: d.Name, Stroke: -1, Err: err}
	}
	sc.Layers = d.Layers
	sc.FrameEvery = d.FrameEvery

	if g := d.Generate; g != nil {
		gen := Generator{Strokes: g.Strokes, Seed: g.Seed, Preset: g.Preset, Length: g.Length, CancelEvery: g.CancelEvery}
		if sc.Strokes, err = gen.generate(sc.Config); err != nil {
			return Scenario{}, &ScenarioError{Scenario: d.Name, Stroke: -1, Err: err}
		}
	}
	for i, s := range d.Strokes {
		st, err := s.stroke()
		if err != nil {
			return Scenario{}, &ScenarioError{Scenario: d.Name, Stroke: len(sc.Strokes), Err: fmt.Errorf("stroke %d: %w", i, err)}
		}
		sc.Strokes = append(sc.Strokes, st)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

func (c configDoc) apply(cfg *sketch.Config) error {
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setInt(&cfg.CanvasWidth, c.CanvasWidth)
	setInt(&cfg.CanvasHeight, c.CanvasHeight)
	setInt(&cfg.TileSize, c.TileSize)
	setInt(&cfg.CompressionLevel, c.CompressionLevel)
	setInt(&cfg.StrokeLogLimit, c.StrokeLogLimit)
	if c.ResidentByteBudget != nil {
		cfg.ResidentByteBudget = *c.ResidentByteBudget
	}
	if c.LowWaterMarkRatio != nil {
		cfg.LowWaterMarkRatio = *c.LowWaterMarkRatio
	}
	if c.PressureInterval != "" {
		d, err := time.ParseDuration(c.PressureInterval)
		if err != nil {
			return fmt.Errorf("%w: pressure_interval: %v", ErrInvalidScenario, err)
		}
		cfg.PressureInterval = sketch.Duration(d)
	}
	return nil
}

func (s strokeDoc) stroke() (StrokeScript, error) {
	st := StrokeScript{Preset: s.Preset, Layer: s.Layer, CancelAfter: s.CancelAfter}
	if s.Color != "" {
		var c sketch.Color
		if err := c.UnmarshalText([]byte(s.Color)); err != nil {
			return StrokeScript{}, err
		}
		st.Color = &c
	}
	pressure := s.Pressure
	if pressure == 0 {
		pressure = 0.5
	}
	switch {
	case len(s.Points) > 0:
		st.Samples = make([]sketch.Sample, len(s.Points))
		for i, p := range s.Points {
			smp, err := pointSample(p, pressure, time.Duration(i)*SampleInterval)
			if err != nil {
				return StrokeScript{}, fmt.Errorf("point %d: %w", i, err)
			}
			st.Samples[i] = smp
		}
	case len(s.From) == 2 && len(s.To) == 2:
		step := s.Step
		if step == 0 {
			step = 4
		}
		st.Samples = Line(sketch.Pt(s.From[0], s.From[1]), sketch.Pt(s.To[0], s.To[1]), step, pressure, 0)
	default:
		return StrokeScript{}, fmt.Errorf("%w: stroke needs points or from/to", ErrInvalidScenario)
	}
	return st, nil
}

// pointSample converts [x, y] or [x, y, pressure].
func pointSample(p []float64, pressure float64, t time.Duration) (sketch.Sample, error) {
	switch len(p) {
	case 3:
		pressure = p[2]
	case 2:
	default:
		return sketch.Sample{}, fmt.Errorf("%w: want [x, y] or [x, y, pressure], got %d values", ErrInvalidScenario, len(p))
	}
	return sketch.Sample{Point: sketch.Pt(p[0], p[1]), Pressure: pressure, Time: t}, nil
}
