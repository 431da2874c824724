package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/persist"
	"github.com/dshills/whiteboard/internal/viewport"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeDoc(t *testing.T) string {
	t.Helper()
	rect := element.New(element.KindRectangle, geom.Pt(10, 10))
	rect.ID = "a"
	note := element.New(element.KindStickyNote, geom.Pt(200, 40))
	note.ID = "b"

	path := filepath.Join(t.TempDir(), "board.json")
	require.NoError(t, persist.WriteFile(path, persist.Snapshot{
		Elements: []*element.Element{rect, note},
		Viewport: viewport.DefaultState(),
	}))
	return path
}

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"render", "validate", "info", "config", "view", "revisions"} {
		assert.True(t, names[name], "expected subcommand %q", name)
	}
}

func TestConfigEnvListsOverrides(t *testing.T) {
	out, err := execute(t, "config", "env")
	require.NoError(t, err)
	assert.Contains(t, out, "WHITEBOARD_HISTORY_MERGE_WINDOW")
	assert.Contains(t, out, "WHITEBOARD_LOG_LEVEL")
}

func TestConfigShowYAML(t *testing.T) {
	out, err := execute(t, "config", "show", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "merge_window")
}

func TestInfoSummarizesDocument(t *testing.T) {
	path := writeDoc(t)
	out, err := execute(t, "info", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Elements: 2")
	assert.Contains(t, out, "rectangle")
	assert.Contains(t, out, "sticky-note")
	assert.Contains(t, out, "Format version: 2")
}

func TestRevisionsRoundTrip(t *testing.T) {
	path := writeDoc(t)
	db := filepath.Join(t.TempDir(), "revs.db")

	out, err := execute(t, "revisions", "save", path, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, `Saved revision 1 of "board"`)

	out, err = execute(t, "revisions", "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "board")

	restored := filepath.Join(t.TempDir(), "restored.json")
	_, err = execute(t, "revisions", "load", "1", "--db", db, "-o", restored)
	require.NoError(t, err)

	snap, err := persist.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, []element.ID{"a", "b"}, snap.IDs())
}

func TestInfoMissingDocument(t *testing.T) {
	_, err := execute(t, "info", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
