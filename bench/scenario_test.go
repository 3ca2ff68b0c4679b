package bench

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/gogpu/sketch"
)

func smallConfig() sketch.Config {
	cfg := sketch.DefaultConfig()
	cfg.CanvasWidth, cfg.CanvasHeight = 256, 256
	cfg.TileSize = 64
	cfg.ResidentByteBudget = 0
	cfg.PressureInterval = 0
	return cfg
}

func TestRandomScenario_Deterministic(t *testing.T) {
	g := Generator{Strokes: 20, Seed: 3, CancelEvery: 5}
	a, err := RandomScenario("a", smallConfig(), g)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RandomScenario("a", smallConfig(), g)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("same generator produced different scenarios")
	}
	cancelled := 0
	for _, st := range a.Strokes {
		if st.Preset != "pencil" {
			t.Errorf("preset = %q", st.Preset)
		}
		if st.CancelAfter > 0 {
			cancelled++
		}
	}
	if cancelled != 4 {
		t.Errorf("cancelled strokes = %d, want 4", cancelled)
	}
	if _, err := RandomScenario("bad", smallConfig(), Generator{}); !errors.Is(err, ErrInvalidScenario) {
		t.Errorf("empty generator err = %v", err)
	}
}

func TestLine(t *testing.T) {
	s := Line(sketch.Pt(0, 0), sketch.Pt(10, 0), 5, 0.7, time.Second)
	if len(s) != 4 {
		t.Fatalf("len = %d, want 4", len(s))
	}
	if s[0].Point != sketch.Pt(0, 0) || s[3].Point != sketch.Pt(10, 0) {
		t.Errorf("endpoints = %v, %v", s[0].Point, s[3].Point)
	}
	if s[1].Time-s[0].Time != SampleInterval || s[0].Time != time.Second || s[2].Pressure != 0.7 {
		t.Errorf("samples = %+v", s)
	}
}

func TestScenario_Validate(t *testing.T) {
	line := Line(sketch.Pt(0, 0), sketch.Pt(20, 20), 4, 0.5, 0)
	tests := []struct {
		name   string
		mutate func(*Scenario)
		want   error
	}{
		{"valid", func(*Scenario) {}, nil},
		{"no name", func(s *Scenario) { s.Name = "" }, ErrInvalidScenario},
		{"bad config", func(s *Scenario) { s.Config.TileSize = 3 }, sketch.ErrInvalidConfig},
		{"unknown preset", func(s *Scenario) { s.Strokes[0].Preset = "crayon" }, ErrUnknownPreset},
		{"layer out of range", func(s *Scenario) { s.Strokes[0].Layer = 1 }, ErrInvalidScenario},
		{"cancel past end", func(s *Scenario) { s.Strokes[0].CancelAfter = 1000 }, ErrInvalidScenario},
		{"tied timestamps", func(s *Scenario) { s.Strokes[0].Samples[2].Time = s.Strokes[0].Samples[1].Time }, ErrInvalidScenario},
		{"empty stroke", func(s *Scenario) { s.Strokes[0].Samples = nil }, ErrInvalidScenario},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := Scenario{
				Name:    "v",
				Config:  smallConfig(),
				Strokes: []StrokeScript{{Preset: "marker", Samples: append([]sketch.Sample(nil), line...)}},
			}
			tt.mutate(&sc)
			err := sc.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate = %v, want %v", err, tt.want)
			}
			var se *ScenarioError
			if !errors.As(err, &se) || se.Scenario != sc.Name {
				t.Errorf("error not located: %v", err)
			}
		})
	}
}

const scenarioYAML = `
scenarios:
  - name: scripted
    config: {canvas_width: 512, canvas_height: 256, tile_size: 64, budget: 0, pressure_interval: 0s}
    presets_file: presets.toml
    layers: 2
    frame_every: 3
    strokes:
      - preset: ink
        from: [10, 10]
        to: [200, 10]
      - preset: marker
        color: "#d03030"
        layer: 1
        cancel_after: 2
        points: [[10, 50], [20, 52, 0.9], [30, 55, 0.2]]
  - name: generated
    config: {canvas_width: 256, canvas_height: 256, tile_size: 64}
    presets_file: presets.toml
    generate: {strokes: 6, seed: 9, preset: ink}
`

const presetsTOML = `
[[preset]]
name = "ink"
kind = "marker"
size = 6
color = "#101010"
`

func hexColor(t *testing.T, s string) sketch.Color {
	t.Helper()
	c, err := sketch.ParseHex(s)
	if err != nil {
		t.Fatal(err)
	}
	return sketch.Direct(c)
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadScenarios_YAML(t *testing.T) {
	dir := writeFiles(t, map[string]string{"s.yaml": scenarioYAML, "presets.toml": presetsTOML})
	scs, err := LoadScenarios(context.Background(), filepath.Join(dir, "s.yaml"))
	if err != nil {
		t.Fatalf("LoadScenarios: %v", err)
	}
	if len(scs) != 2 {
		t.Fatalf("got %d scenarios", len(scs))
	}

	s := scs[0]
	if s.Config.CanvasWidth != 512 || s.Config.TileSize != 64 || s.Layers != 2 || s.FrameEvery != 3 {
		t.Errorf("scenario = %+v", s)
	}
	if len(s.Presets) != 1 || s.Presets[0].Name != "ink" {
		t.Errorf("presets = %+v", s.Presets)
	}
	if len(s.Strokes) != 2 {
		t.Fatalf("strokes = %d", len(s.Strokes))
	}
	m := s.Strokes[1]
	if m.Layer != 1 || m.CancelAfter != 2 || m.Color == nil || *m.Color != hexColor(t, "#d03030") {
		t.Errorf("marker stroke = %+v", m)
	}
	if m.Samples[0].Pressure != 0.5 || m.Samples[1].Pressure != 0.9 || m.Samples[2].Time != 2*SampleInterval {
		t.Errorf("samples = %+v", m.Samples)
	}

	g := scs[1]
	if len(g.Strokes) != 6 || g.Strokes[0].Preset != "ink" {
		t.Errorf("generated = %d strokes", len(g.Strokes))
	}
	if g.Config.ResidentByteBudget != sketch.DefaultConfig().ResidentByteBudget {
		t.Errorf("unset budget = %d, want default", g.Config.ResidentByteBudget)
	}
}

func TestParseScenarios_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"empty", "", ErrNoScenarios},
		{"no scenarios", "scenarios: []\n", ErrNoScenarios},
		{"unknown field", "scenarios:\n  - name: x\n    bogus: 1\n", nil},
		{"bad point", "scenarios:\n  - name: x\n    strokes:\n      - preset: pencil\n        points: [[1]]\n", ErrInvalidScenario},
		{"no geometry", "scenarios:\n  - name: x\n    strokes:\n      - preset: pencil\n", ErrInvalidScenario},
		{"unknown preset", "scenarios:\n  - name: x\n    strokes:\n      - preset: crayon\n        from: [0, 0]\n        to: [9, 9]\n", ErrUnknownPreset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenarios("test.yaml", ".", []byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want == nil {
				var pe *sketch.ParseError
				if !errors.As(err, &pe) {
					t.Errorf("err = %T %v, want *sketch.ParseError", err, err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

const scenarioLua = `
scenario("lua")
config{canvas_width = 256, canvas_height = 256, tile_size = 64, budget = 0}
presets_file("presets.toml")
frame_every(2)
layers(2)
local pts = {}
for i = 0, 9 do
  pts[#pts + 1] = {10 + i * 5, 20, 0.4}
end
stroke("ink", pts, {layer = 1, cancel_after = 4})
line("pencil", 0, 100, 255, 100, {step = 8, color = "#00ff00"})
generate{strokes = 3, seed = 2}
`

func TestParseLuaScenario(t *testing.T) {
	dir := writeFiles(t, map[string]string{"s.lua": scenarioLua, "presets.toml": presetsTOML})
	scs, err := LoadScenarios(context.Background(), filepath.Join(dir, "s.lua"))
	if err != nil {
		t.Fatalf("LoadScenarios: %v", err)
	}
	if len(scs) != 1 {
		t.Fatalf("got %d scenarios", len(scs))
	}
	s := scs[0]
	if s.Name != "lua" || s.Config.CanvasWidth != 256 || s.Config.ResidentByteBudget != 0 || s.FrameEvery != 2 || s.Layers != 2 {
		t.Errorf("scenario = %+v", s)
	}
	if len(s.Strokes) != 5 {
		t.Fatalf("strokes = %d, want 5", len(s.Strokes))
	}
	st := s.Strokes[0]
	if st.Preset != "ink" || st.Layer != 1 || st.CancelAfter != 4 || len(st.Samples) != 10 || st.Samples[9].Point != sketch.Pt(55, 20) {
		t.Errorf("stroke = %+v", st)
	}
	if st.Samples[3].Pressure != 0.4 {
		t.Errorf("pressure = %v", st.Samples[3].Pressure)
	}
	ln := s.Strokes[1]
	if ln.Color == nil || *ln.Color != hexColor(t, "#00ff00") || len(ln.Samples) < 30 {
		t.Errorf("line = %+v", ln)
	}
	if s.Strokes[4].Preset != "pencil" {
		t.Errorf("generated preset = %q", s.Strokes[4].Preset)
	}
}

func TestParseLuaScenario_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		code string
		want error
	}{
		{"missing scenario", `config{canvas_width = 64}`, ErrInvalidScenario},
		{"unknown preset", `scenario("x") line("crayon", 0, 0, 10, 10)`, ErrUnknownPreset},
		{"no sandbox escape", `scenario("x") os.exit(1)`, nil},
		{"bad point", `scenario("x") stroke("pencil", {{1}})`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLuaScenario(ctx, "test.lua", ".", tt.code)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want == nil {
				var pe *sketch.ParseError
				if !errors.As(err, &pe) {
					t.Errorf("err = %T %v, want *sketch.ParseError", err, err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseLuaScenario_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ParseLuaScenario(ctx, "loop.lua", ".", `scenario("x") while true do end`)
	if err == nil {
		t.Fatal("infinite script returned no error")
	}
}
