package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Viewport.MinScale = 0
	cfg.Render.FPS = 0
	cfg.Render.Background = "blue-ish"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)

	var fields []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var fe *FieldError
		require.True(t, errors.As(e, &fe))
		fields = append(fields, fe.Field)
	}
	assert.Equal(t, []string{"viewport.min_scale", "render.fps", "render.background", "log.level"}, fields)
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path string
		want Format
		err  bool
	}{
		{"a.toml", FormatTOML, false},
		{"A.TOML", FormatTOML, false},
		{"a.yaml", FormatYAML, false},
		{"dir/a.yml", FormatYAML, false},
		{"a.json", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatOf(tt.path)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

const sampleTOML = `
[history]
merge_window = "500ms"
max_entries = 50

[render]
fps = 30
background = "#202020"

[validation]
scripts = ["a.lua", "b.lua"]
`

const sampleYAML = `
history:
  merge_window: 500ms
  max_entries: 50
render:
  fps: 30
  background: "#202020"
validation:
  scripts: [a.lua, b.lua]
`

func TestDecode(t *testing.T) {
	for _, tc := range []struct {
		format Format
		data   string
	}{
		{FormatTOML, sampleTOML},
		{FormatYAML, sampleYAML},
	} {
		t.Run(string(tc.format), func(t *testing.T) {
			cfg := Default()
			require.NoError(t, Decode(cfg, []byte(tc.data), tc.format))

			assert.Equal(t, 500*time.Millisecond, cfg.History.MergeWindow.Std())
			assert.Equal(t, 50, cfg.History.MaxEntries)
			assert.Equal(t, 30, cfg.Render.FPS)
			assert.Equal(t, "#202020", cfg.Render.Background)
			assert.Equal(t, []string{"a.lua", "b.lua"}, cfg.Validation.Scripts)

			// Untouched sections keep defaults.
			assert.Equal(t, Default().Viewport, cfg.Viewport)
			assert.Equal(t, Default().Log, cfg.Log)
			assert.True(t, cfg.Render.ShowGrid)
		})
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	assert.Error(t, Decode(Default(), []byte("[render]\nfsp = 30\n"), FormatTOML))
	assert.Error(t, Decode(Default(), []byte("render:\n  fsp: 30\n"), FormatYAML))
}

func TestDecodeBadDuration(t *testing.T) {
	assert.Error(t, Decode(Default(), []byte("[history]\nmerge_window = \"soon\"\n"), FormatTOML))
	assert.Error(t, Decode(Default(), []byte("history:\n  merge_window: soon\n"), FormatYAML))
}

func TestDecodeEmptyYAML(t *testing.T) {
	cfg := Default()
	require.NoError(t, Decode(cfg, nil, FormatYAML))
	assert.Equal(t, Default(), cfg)
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, f := range []Format{FormatTOML, FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			in := Default()
			in.Validation.Scripts = []string{"x.lua"}
			in.History.MergeWindow = Duration(3 * time.Second)
			data, err := Encode(in, f)
			require.NoError(t, err)

			out := &Config{}
			require.NoError(t, Decode(out, data, f))
			assert.Equal(t, in, out)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"WHITEBOARD_LOG_LEVEL":            "debug",
		"WHITEBOARD_RENDER_FPS":           " 24 ",
		"WHITEBOARD_RENDER_SHOW_GRID":     "off",
		"WHITEBOARD_VIEWPORT_MAX_SCALE":   "4.5",
		"WHITEBOARD_VALIDATION_DEBOUNCE":  "1s",
		"WHITEBOARD_VALIDATION_SCRIPTS":   "a.lua" + string(os.PathListSeparator) + "b.lua",
		"WHITEBOARD_HISTORY_MAX_ENTRIES":  "7",
		"WHITEBOARD_SOMETHING_UNRELATED":  "ignored",
		"WHITEBOARD_VALIDATION_AUTO_FIX":  "no",
		"WHITEBOARD_HISTORY_MERGE_WINDOW": "2s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 24, cfg.Render.FPS)
	assert.False(t, cfg.Render.ShowGrid)
	assert.InDelta(t, 4.5, cfg.Viewport.MaxScale, 1e-9)
	assert.Equal(t, time.Second, cfg.Validation.Debounce.Std())
	assert.Equal(t, []string{"a.lua", "b.lua"}, cfg.Validation.Scripts)
	assert.Equal(t, 7, cfg.History.MaxEntries)
	assert.False(t, cfg.Validation.AutoFix)
	assert.Equal(t, 2*time.Second, cfg.History.MergeWindow.Std())
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"WHITEBOARD_RENDER_FPS":          "fast",
		"WHITEBOARD_RENDER_SHOW_GRID":    "maybe",
		"WHITEBOARD_VALIDATION_DEBOUNCE": "x",
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEnv)
	assert.Len(t, err.(interface{ Unwrap() []error }).Unwrap(), 3)
	assert.Equal(t, 60, cfg.Render.FPS)
}

func TestEnvVarsSorted(t *testing.T) {
	vars := EnvVars()
	assert.Contains(t, vars, "WHITEBOARD_LOG_LEVEL")
	assert.IsNonDecreasing(t, vars)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("toml file", func(t *testing.T) {
		path := filepath.Join(dir, "wb.toml")
		require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o644))
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 30, cfg.Render.FPS)
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := filepath.Join(dir, "wb.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
		t.Setenv("WHITEBOARD_RENDER_FPS", "12")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 12, cfg.Render.FPS)
	})

	t.Run("empty path", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 60, cfg.Render.FPS)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.toml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("parse error", func(t *testing.T) {
		path := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[render\n"), 0o644))
		_, err := Load(path)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, path, pe.Path)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.toml")
		require.NoError(t, os.WriteFile(path, []byte("[render]\nfps = -1\n"), 0o644))
		_, err := Load(path)
		var fe *FieldError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "render.fps", fe.Field)
	})
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wb.toml")
	require.NoError(t, os.WriteFile(path, []byte("[render]\nfps = 30\n"), 0o644))

	got := make(chan *Config, 4)
	errs := make(chan error, 4)
	w, err := Watch(path, func(cfg *Config, err error) {
		if err != nil {
			errs <- err
			return
		}
		got <- cfg
	}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("[render]\nfps = 45\n"), 0o644))
	select {
	case cfg := <-got:
		assert.Equal(t, 45, cfg.Render.FPS)
	case err := <-errs:
		t.Fatalf("reload failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}

	require.NoError(t, os.WriteFile(path, []byte("[render]\nfps = \"x\"\n"), 0o644))
	select {
	case err := <-errs:
		var pe *ParseError
		assert.ErrorAs(t, err, &pe)
	case <-got:
		t.Fatal("invalid file reloaded")
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error")
	}
}

func TestWatchIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	fired := make(chan string, 4)
	w, err := WatchFile(path, func(p string) { fired <- p }, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))
	select {
	case p := <-fired:
		t.Fatalf("unexpected change for %s", p)
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))
	select {
	case p := <-fired:
		assert.Equal(t, w.Path(), p)
	case <-time.After(5 * time.Second):
		t.Fatal("no change")
	}

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
