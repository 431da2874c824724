// Package config provides whiteboard configuration.
//
// Configuration is read from a TOML or YAML file, chosen by extension, and
// then overridden by WHITEBOARD_* environment variables. Every field has a
// default, so an empty or missing file is a valid configuration.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"
)

// Config is the complete whiteboard configuration.
type Config struct {
	History    HistoryConfig    `toml:"history" yaml:"history"`
	Viewport   ViewportConfig   `toml:"viewport" yaml:"viewport"`
	Render     RenderConfig     `toml:"render" yaml:"render"`
	Validation ValidationConfig `toml:"validation" yaml:"validation"`
	Log        LogConfig        `toml:"log" yaml:"log"`
}

// HistoryConfig configures the undo timeline.
type HistoryConfig struct {
	// MergeWindow is how long consecutive pushes with the same merge key
	// coalesce into one entry.
	MergeWindow Duration `toml:"merge_window" yaml:"merge_window"`
	// MaxEntries caps the timeline. Zero means unlimited.
	MaxEntries int `toml:"max_entries" yaml:"max_entries"`
}

// ViewportConfig configures the pan/zoom transform.
type ViewportConfig struct {
	MinScale   float64 `toml:"min_scale" yaml:"min_scale"`
	MaxScale   float64 `toml:"max_scale" yaml:"max_scale"`
	FitPadding float64 `toml:"fit_padding" yaml:"fit_padding"`
	Width      int     `toml:"width" yaml:"width"`
	Height     int     `toml:"height" yaml:"height"`
}

// RenderConfig configures the renderer and painters.
type RenderConfig struct {
	FPS        int     `toml:"fps" yaml:"fps"`
	Background string  `toml:"background" yaml:"background"`
	GridSize   float64 `toml:"grid_size" yaml:"grid_size"`
	ShowGrid   bool    `toml:"show_grid" yaml:"show_grid"`
}

// ValidationConfig configures the validation manager.
type ValidationConfig struct {
	AutoFix       bool     `toml:"auto_fix" yaml:"auto_fix"`
	Debounce      Duration `toml:"debounce" yaml:"debounce"`
	Scripts       []string `toml:"scripts" yaml:"scripts"`
	ScriptTimeout Duration `toml:"script_timeout" yaml:"script_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		History: HistoryConfig{
			MergeWindow: Duration(time.Second),
			MaxEntries:  500,
		},
		Viewport: ViewportConfig{
			MinScale:   0.1,
			MaxScale:   8,
			FitPadding: 40,
			Width:      1280,
			Height:     800,
		},
		Render: RenderConfig{
			FPS:        60,
			Background: "#ffffff",
			GridSize:   20,
			ShowGrid:   true,
		},
		Validation: ValidationConfig{
			AutoFix:       true,
			Debounce:      Duration(250 * time.Millisecond),
			ScriptTimeout: Duration(time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Log formats.
var logFormats = []string{"text", "json"}

// Log levels.
var logLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate checks every field and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.History.MergeWindow < 0 {
		bad("history.merge_window", "must not be negative")
	}
	if c.History.MaxEntries < 0 {
		bad("history.max_entries", "must not be negative")
	}

	if c.Viewport.MinScale <= 0 {
		bad("viewport.min_scale", "must be positive")
	}
	if c.Viewport.MaxScale < c.Viewport.MinScale {
		bad("viewport.max_scale", "must be at least min_scale (%g)", c.Viewport.MinScale)
	}
	if c.Viewport.FitPadding < 0 {
		bad("viewport.fit_padding", "must not be negative")
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		bad("viewport.width", "width and height must be positive")
	}

	if c.Render.FPS <= 0 || c.Render.FPS > 240 {
		bad("render.fps", "must be between 1 and 240")
	}
	if _, err := colorful.Hex(c.Render.Background); err != nil {
		bad("render.background", "%q is not a #rrggbb colour", c.Render.Background)
	}
	if c.Render.GridSize < 0 {
		bad("render.grid_size", "must not be negative")
	}

	if c.Validation.Debounce < 0 {
		bad("validation.debounce", "must not be negative")
	}
	if c.Validation.ScriptTimeout <= 0 {
		bad("validation.script_timeout", "must be positive")
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		bad("log.level", "unknown level %q", c.Log.Level)
	}
	if !slices.Contains(logFormats, strings.ToLower(c.Log.Format)) {
		bad("log.format", "unknown format %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// FieldError reports one invalid setting.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}
