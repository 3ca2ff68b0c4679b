package sketch

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds engine-wide tuning knobs. The zero value is not usable; start
// from DefaultConfig and override fields, or load a TOML file with
// LoadConfig.
type Config struct {
	// ResidentByteBudget bounds the bytes of tile pixel data and compressed
	// payloads held in memory. Zero disables the budget.
	ResidentByteBudget int64 `toml:"resident_byte_budget"`

	// LowWaterMarkRatio is the fraction of the budget that pressure
	// eviction targets, in (0, 1].
	LowWaterMarkRatio float64 `toml:"low_water_mark_ratio"`

	// TileSize is the edge length of a square tile in pixels.
	TileSize int `toml:"tile_size"`

	// CompressionLevel is the zstd level, 1..22.
	CompressionLevel int `toml:"compression_level"`

	// PressureInterval is the period of the background pressure check.
	// Zero disables the ticker; NotifyPressure still works.
	PressureInterval Duration `toml:"pressure_interval"`

	// PersistAttempts is the number of store writes tried per tile flush.
	PersistAttempts int `toml:"persist_attempts"`

	// PersistBackoff is the initial retry delay, doubled per attempt.
	PersistBackoff Duration `toml:"persist_backoff"`

	// PersistWorkers is the number of write-behind goroutines.
	PersistWorkers int `toml:"persist_workers"`

	// FlushConcurrency bounds parallel store writes during Flush.
	FlushConcurrency int `toml:"flush_concurrency"`

	// CanvasWidth and CanvasHeight bound the drawable area.
	CanvasWidth  int `toml:"canvas_width"`
	CanvasHeight int `toml:"canvas_height"`

	// StrokeLogLimit caps the strokes remembered per layer for ColorDrop.
	// Older strokes are flattened and can no longer be recolored.
	StrokeLogLimit int `toml:"stroke_log_limit"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ResidentByteBudget: 256 << 20,
		LowWaterMarkRatio:  0.75,
		TileSize:           256,
		CompressionLevel:   3,
		PressureInterval:   Duration(250 * time.Millisecond),
		PersistAttempts:    4,
		PersistBackoff:     Duration(10 * time.Millisecond),
		PersistWorkers:     2,
		FlushConcurrency:   4,
		CanvasWidth:        4096,
		CanvasHeight:       4096,
		StrokeLogLimit:     1024,
	}
}

// TileBytes returns the uncompressed size of one tile (16-bit RGBA).
func (c Config) TileBytes() int64 {
	return int64(c.TileSize) * int64(c.TileSize) * 8
}

// LowWaterMark returns the byte target of pressure eviction.
func (c Config) LowWaterMark() int64 {
	return int64(float64(c.ResidentByteBudget) * c.LowWaterMarkRatio)
}

// Validate checks the configuration and returns all problems joined.
func (c Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.TileSize < 16 || c.TileSize > 4096 || c.TileSize&(c.TileSize-1) != 0 {
		bad("tile_size", "must be a power of two in [16, 4096], got %d", c.TileSize)
	}
	if c.ResidentByteBudget < 0 {
		bad("resident_byte_budget", "must not be negative")
	} else if c.ResidentByteBudget > 0 && c.TileSize > 0 && c.ResidentByteBudget < 4*c.TileBytes() {
		bad("resident_byte_budget", "must hold at least 4 tiles (%d bytes)", 4*c.TileBytes())
	}
	if c.LowWaterMarkRatio <= 0 || c.LowWaterMarkRatio > 1 {
		bad("low_water_mark_ratio", "must be in (0, 1], got %g", c.LowWaterMarkRatio)
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 22 {
		bad("compression_level", "must be in [1, 22], got %d", c.CompressionLevel)
	}
	if c.PressureInterval < 0 {
		bad("pressure_interval", "must not be negative")
	}
	if c.PersistAttempts < 1 {
		bad("persist_attempts", "must be at least 1")
	}
	if c.PersistBackoff < 0 {
		bad("persist_backoff", "must not be negative")
	}
	if c.PersistWorkers < 1 {
		bad("persist_workers", "must be at least 1")
	}
	if c.FlushConcurrency < 1 {
		bad("flush_concurrency", "must be at least 1")
	}
	if c.CanvasWidth < 1 || c.CanvasHeight < 1 {
		bad("canvas", "dimensions must be positive, got %dx%d", c.CanvasWidth, c.CanvasHeight)
	}
	if c.StrokeLogLimit < 0 {
		bad("stroke_log_limit", "must not be negative")
	}
	return errors.Join(errs...)
}

// ParseConfig decodes TOML over DefaultConfig and validates the result.
// Keys absent from data keep their default.
func ParseConfig(source string, data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			pe.Line, pe.Column = derr.Position()
		}
		return Config{}, pe
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a TOML config file. A missing file yields DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return ParseConfig(path, data)
}

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Duration is a time.Duration that decodes from strings such as "250ms".
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
