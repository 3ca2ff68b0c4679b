package bench

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/gogpu/sketch"
)

// luaBuilder accumulates the calls of a scenario script.
type luaBuilder struct {
	name        string
	configFile  string
	presetsFile string
	config      configDoc
	layers      int
	frameEvery  int
	// items produce strokes in call order once the config is known.
	items []func(cfg sketch.Config) ([]StrokeScript, error)
}

// ParseLuaScenario runs a Lua scenario script. The script describes one
// scenario through these globals:
//
//	scenario(name)
//	config{canvas_width = 2048, canvas_height = 2048, budget = 64 * 2^20}
//	config_file(path)
//	presets_file(path)
//	layers(n)
//	frame_every(n)
//	generate{strokes = 100, seed = 1, preset = "pencil", length = 150}
//	stroke(preset, {{x, y, pressure}, ...}, {color = "#ff0000", layer = 0, cancel_after = 10})
//	line(preset, x0, y0, x1, y1, {step = 4, pressure = 0.5})
//
// Only the base, table, string and math libraries are available. The
// script stops when ctx is done.
func ParseLuaScenario(ctx context.Context, source, dir, code string) (Scenario, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetContext(ctx)

	b := &luaBuilder{}
	for name, fn := range b.funcs() {
		L.SetGlobal(name, L.NewFunction(fn))
	}
	if err := L.DoString(code); err != nil {
		return Scenario{}, &sketch.ParseError{Path: source, Message: err.Error(), Err: err}
	}
	if b.name == "" {
		return Scenario{}, fmt.Errorf("%s: %w: scenario() not called", source, ErrInvalidScenario)
	}
	return b.build(dir)
}

func (b *luaBuilder) funcs() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"scenario": func(L *lua.LState) int {
			b.name = L.CheckString(1)
			return 0
		},
		"config_file": func(L *lua.LState) int {
			b.configFile = L.CheckString(1)
			return 0
		},
		"presets_file": func(L *lua.LState) int {
			b.presetsFile = L.CheckString(1)
			return 0
		},
		"layers": func(L *lua.LState) int {
			b.layers = L.CheckInt(1)
			return 0
		},
		"frame_every": func(L *lua.LState) int {
			b.frameEvery = L.CheckInt(1)
			return 0
		},
		"config":   b.luaConfig,
		"generate": b.luaGenerate,
		"stroke":   b.luaStroke,
		"line":     b.luaLine,
	}
}

func optInt(t *lua.LTable, key string) *int {
	if n, ok := t.RawGetString(key).(lua.LNumber); ok {
		v := int(n)
		return &v
	}
	return nil
}

func optFloat(t *lua.LTable, key string, def float64) float64 {
	if n, ok := t.RawGetString(key).(lua.LNumber); ok {
		return float64(n)
	}
	return def
}

func optString(t *lua.LTable, key string) string {
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func (b *luaBuilder) luaConfig(L *lua.LState) int {
	t := L.CheckTable(1)
	c := &b.config
	c.CanvasWidth = optInt(t, "canvas_width")
	c.CanvasHeight = optInt(t, "canvas_height")
	c.TileSize = optInt(t, "tile_size")
	c.CompressionLevel = optInt(t, "compression_level")
	c.StrokeLogLimit = optInt(t, "stroke_log_limit")
	if n, ok := t.RawGetString("budget").(lua.LNumber); ok {
		v := int64(n)
		c.ResidentByteBudget = &v
	}
	if n, ok := t.RawGetString("low_water_mark_ratio").(lua.LNumber); ok {
		v := float64(n)
		c.LowWaterMarkRatio = &v
	}
	c.PressureInterval = optString(t, "pressure_interval")
	return 0
}

func (b *luaBuilder) luaGenerate(L *lua.LState) int {
	t := L.CheckTable(1)
	g := Generator{
		Preset: optString(t, "preset"),
		Length: optFloat(t, "length", 0),
		Seed:   int64(optFloat(t, "seed", 0)),
	}
	if n := optInt(t, "strokes"); n != nil {
		g.Strokes = *n
	}
	if n := optInt(t, "cancel_every"); n != nil {
		g.CancelEvery = *n
	}
	b.items = append(b.items, g.generate)
	return 0
}

// strokeOptions reads the optional options table at index n.
func strokeOptions(L *lua.LState, n int, st *StrokeScript) float64 {
	opts := L.OptTable(n, L.NewTable())
	if s := optString(opts, "color"); s != "" {
		var c sketch.Color
		if err := c.UnmarshalText([]byte(s)); err != nil {
			L.ArgError(n, err.Error())
		}
		st.Color = &c
	}
	if v := optInt(opts, "layer"); v != nil {
		st.Layer = *v
	}
	if v := optInt(opts, "cancel_after"); v != nil {
		st.CancelAfter = *v
	}
	return optFloat(opts, "pressure", 0.5)
}

func (b *luaBuilder) luaStroke(L *lua.LState) int {
	st := StrokeScript{Preset: L.CheckString(1)}
	pts := L.CheckTable(2)
	pressure := strokeOptions(L, 3, &st)

	for i := 1; i <= pts.Len(); i++ {
		pt, ok := pts.RawGetInt(i).(*lua.LTable)
		if !ok {
			L.ArgError(2, fmt.Sprintf("point %d is not a table", i))
		}
		vals := make([]float64, pt.Len())
		for j := range vals {
			n, ok := pt.RawGetInt(j + 1).(lua.LNumber)
			if !ok {
				L.ArgError(2, fmt.Sprintf("point %d: value %d is not a number", i, j+1))
			}
			vals[j] = float64(n)
		}
		s, err := pointSample(vals, pressure, time.Duration(i-1)*SampleInterval)
		if err != nil {
			L.ArgError(2, fmt.Sprintf("point %d: %v", i, err))
		}
		st.Samples = append(st.Samples, s)
	}
	b.items = append(b.items, func(sketch.Config) ([]StrokeScript, error) {
		return []StrokeScript{st}, nil
	})
	return 0
}

func (b *luaBuilder) luaLine(L *lua.LState) int {
	st := StrokeScript{Preset: L.CheckString(1)}
	a := sketch.Pt(float64(L.CheckNumber(2)), float64(L.CheckNumber(3)))
	c := sketch.Pt(float64(L.CheckNumber(4)), float64(L.CheckNumber(5)))
	pressure := strokeOptions(L, 6, &st)
	step := optFloat(L.OptTable(6, L.NewTable()), "step", 4)
	st.Samples = Line(a, c, step, pressure, 0)
	b.items = append(b.items, func(sketch.Config) ([]StrokeScript, error) {
		return []StrokeScript{st}, nil
	})
	return 0
}

func (b *luaBuilder) build(dir string) (Scenario, error) {
	sc, err := baseScenario(b.name, dir, b.configFile, b.presetsFile)
	if err != nil {
		return Scenario{}, err
	}
	if err := b.config.apply(&sc.Config); err != nil {
		return Scenario{}, &ScenarioError{Scenario: b.name, Stroke: -1, Err: err}
	}
	sc.Layers = b.layers
	sc.FrameEvery = b.frameEvery
	for _, item := range b.items {
		strokes, err := item(sc.Config)
		if err != nil {
			return Scenario{}, &ScenarioError{Scenario: b.name, Stroke: len(sc.Strokes), Err: err}
		}
		sc.Strokes = append(sc.Strokes, strokes...)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}
