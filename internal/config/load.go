package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WHITEBOARD_"

// Errors.
var (
	ErrUnknownFormat = errors.New("unknown config format")
	ErrInvalidEnv    = errors.New("invalid environment override")
)

// Format is a configuration file syntax.
type Format string

// Formats.
const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// ParseError describes a configuration file that could not be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		format, err := FormatOf(path)
		if err != nil {
			return nil, err
		}
		if err := Decode(cfg, data, format); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges data into cfg. Fields absent from data keep their value;
// unknown keys are errors.
func Decode(cfg *Config, data []byte, format Format) error {
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err := dec.Decode(cfg)
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("line %d, column %d: %w", row, col, err)
		}
		return err
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Encode writes cfg in the given format.
func Encode(cfg *Config, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		return toml.Marshal(cfg)
	case FormatYAML:
		return yaml.Marshal(cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// envSetters maps each override, without EnvPrefix, to the field it sets.
var envSetters = map[string]func(c *Config, v string) error{
	"HISTORY_MERGE_WINDOW": func(c *Config, v string) error { return c.History.MergeWindow.UnmarshalText([]byte(v)) },
	"HISTORY_MAX_ENTRIES":  intSetter(func(c *Config) *int { return &c.History.MaxEntries }),

	"VIEWPORT_MIN_SCALE":   floatSetter(func(c *Config) *float64 { return &c.Viewport.MinScale }),
	"VIEWPORT_MAX_SCALE":   floatSetter(func(c *Config) *float64 { return &c.Viewport.MaxScale }),
	"VIEWPORT_FIT_PADDING": floatSetter(func(c *Config) *float64 { return &c.Viewport.FitPadding }),
	"VIEWPORT_WIDTH":       intSetter(func(c *Config) *int { return &c.Viewport.Width }),
	"VIEWPORT_HEIGHT":      intSetter(func(c *Config) *int { return &c.Viewport.Height }),

	"RENDER_FPS":        intSetter(func(c *Config) *int { return &c.Render.FPS }),
	"RENDER_BACKGROUND": func(c *Config, v string) error { c.Render.Background = v; return nil },
	"RENDER_GRID_SIZE":  floatSetter(func(c *Config) *float64 { return &c.Render.GridSize }),
	"RENDER_SHOW_GRID":  boolSetter(func(c *Config) *bool { return &c.Render.ShowGrid }),

	"VALIDATION_AUTO_FIX":       boolSetter(func(c *Config) *bool { return &c.Validation.AutoFix }),
	"VALIDATION_DEBOUNCE":       func(c *Config, v string) error { return c.Validation.Debounce.UnmarshalText([]byte(v)) },
	"VALIDATION_SCRIPT_TIMEOUT": func(c *Config, v string) error { return c.Validation.ScriptTimeout.UnmarshalText([]byte(v)) },
	"VALIDATION_SCRIPTS": func(c *Config, v string) error {
		c.Validation.Scripts = filepath.SplitList(v)
		return nil
	},

	"LOG_LEVEL":  func(c *Config, v string) error { c.Log.Level = v; return nil },
	"LOG_FORMAT": func(c *Config, v string) error { c.Log.Format = v; return nil },
}

// EnvVars lists every recognized environment variable.
func EnvVars() []string {
	out := make([]string, 0, len(envSetters))
	for k := range envSetters {
		out = append(out, EnvPrefix+k)
	}
	slices.Sort(out)
	return out
}

// ApplyEnv applies overrides found through lookup, which is normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, name := range EnvVars() {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := envSetters[strings.TrimPrefix(name, EnvPrefix)](c, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, name, v, err))
		}
	}
	return errors.Join(errs...)
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func floatSetter(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*field(c) = true
		case "0", "false", "no", "off":
			*field(c) = false
		default:
			return errors.New("not a boolean")
		}
		return nil
	}
}
