package sketch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"tile not pow2", func(c *Config) { c.TileSize = 100 }, "tile_size"},
		{"budget below 4 tiles", func(c *Config) { c.ResidentByteBudget = c.TileBytes() }, "resident_byte_budget"},
		{"ratio zero", func(c *Config) { c.LowWaterMarkRatio = 0 }, "low_water_mark_ratio"},
		{"level high", func(c *Config) { c.CompressionLevel = 23 }, "compression_level"},
		{"attempts", func(c *Config) { c.PersistAttempts = 0 }, "persist_attempts"},
		{"canvas", func(c *Config) { c.CanvasWidth = 0 }, "canvas"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate = %v, want ErrInvalidConfig", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Errorf("field = %v, want %s", ce, tt.field)
			}
		})
	}
}

func TestConfig_UnlimitedBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResidentByteBudget = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero budget should be valid: %v", err)
	}
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
resident_byte_budget = 67108864
tile_size = 128
pressure_interval = "50ms"
`)
	cfg, err := ParseConfig("test.toml", data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ResidentByteBudget != 64<<20 || cfg.TileSize != 128 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.PressureInterval.D() != 50*time.Millisecond {
		t.Errorf("PressureInterval = %v", cfg.PressureInterval)
	}
	if cfg.LowWaterMarkRatio != 0.75 {
		t.Errorf("default not kept: %v", cfg.LowWaterMarkRatio)
	}
}

func TestParseConfig_SyntaxError(t *testing.T) {
	_, err := ParseConfig("bad.toml", []byte("tile_size = = 3"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if pe.Path != "bad.toml" {
		t.Errorf("Path = %q", pe.Path)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(filepath.Join(dir, "missing.toml"))
	if err != nil || cfg != DefaultConfig() {
		t.Fatalf("missing file: %v %+v", err, cfg)
	}

	path := filepath.Join(dir, "sketch.toml")
	if err := os.WriteFile(path, []byte("compression_level = 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(path)
	if err != nil || cfg.CompressionLevel != 7 {
		t.Fatalf("LoadConfig: %v %+v", err, cfg)
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &TilePersistError{Layer: 1, X: 2, Y: 3, Revision: 4, Attempts: 3, Cause: cause}
	if !errors.Is(err, ErrTilePersistFailed) || !errors.Is(err, cause) {
		t.Errorf("TilePersistError does not unwrap: %v", err)
	}
	rl := &RenderContextLostError{Backend: "software"}
	if !errors.Is(rl, ErrRenderContextLost) {
		t.Error("RenderContextLostError does not unwrap")
	}
	se := &StrokeError{Op: "append", Stroke: "x", Err: ErrOutOfOrderSample}
	if !errors.Is(se, ErrOutOfOrderSample) {
		t.Error("StrokeError does not unwrap")
	}
}
