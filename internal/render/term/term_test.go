package term

import (
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/whiteboard/internal/board"
	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/scene"
	"github.com/dshills/whiteboard/internal/scene/retained"
)

func newScreen(t *testing.T, w, h int) tcell.SimulationScreen {
	t.Helper()
	s := tcell.NewSimulationScreen("UTF-8")
	require.NoError(t, s.Init())
	s.SetSize(w, h)
	t.Cleanup(s.Fini)
	return s
}

func TestFrameSetString(t *testing.T) {
	f := NewFrame(10, 2)
	assert.Equal(t, 4, f.SetString(0, 0, "日本", tcell.ColorWhite, 10))
	assert.Equal(t, "日本      ", f.Text(0))

	// Multi-byte clusters take one column each.
	assert.Equal(t, 3, f.SetString(0, 1, "éab", tcell.ColorWhite, 10))
	assert.Equal(t, "é", f.Cell(0, 1).Text)
	assert.Equal(t, "b", f.Cell(2, 1).Text)

	assert.Equal(t, 2, f.SetString(0, 1, "xyz", tcell.ColorWhite, 2))
}

func TestFrameSyncWritesChangesOnly(t *testing.T) {
	s := newScreen(t, 6, 2)
	f := NewFrame(6, 2)

	assert.Equal(t, 12, f.Sync(s), "first sync writes everything")
	assert.Zero(t, f.Sync(s))

	f.SetRune(2, 1, 'x', tcell.ColorRed)
	assert.Equal(t, 1, f.Sync(s))
	mainc, _, style, _ := s.GetContent(2, 1) //nolint:staticcheck // GetContent reads back what Sync wrote
	assert.Equal(t, 'x', mainc)
	fg, _, _ := style.Decompose()
	assert.Equal(t, tcell.ColorRed, fg)

	f.Invalidate()
	assert.Equal(t, 12, f.Sync(s))
}

func TestFrameResizeAndBounds(t *testing.T) {
	f := NewFrame(2, 2)
	f.Set(5, 5, Cell{Text: "x"})
	assert.Equal(t, Blank, f.Cell(5, 5))
	f.Resize(3, 1)
	w, h := f.Size()
	assert.Equal(t, 3, w)
	assert.Equal(t, 1, h)
	assert.Equal(t, "   ", f.Text(0))
	assert.Empty(t, f.Text(4))
}

func addNode(g *retained.Graph, kind scene.Kind, pos geom.Point, size geom.Size, attrs map[string]any) scene.Node {
	l := g.Layer(scene.LayerMain)
	n := l.NewNode(kind)
	n.SetPosition(pos)
	n.SetSize(size)
	for k, v := range attrs {
		n.SetAttr(k, v)
	}
	l.Root().Add(n)
	return n
}

func TestPaintRect(t *testing.T) {
	g := retained.New()
	addNode(g, scene.KindRect, geom.Pt(0, 0), geom.Size{Width: 80, Height: 48}, map[string]any{
		scene.AttrStroke: "#000000",
		scene.AttrFill:   "#ff0000",
	})
	f := NewFrame(20, 5)
	assert.Equal(t, 1, NewPainter().Paint(f, g))

	assert.Equal(t, "┌────────┐          ", f.Text(0))
	assert.Equal(t, "│        │          ", f.Text(1))
	assert.Equal(t, "└────────┘          ", f.Text(2))
	assert.Equal(t, tcell.NewRGBColor(255, 0, 0), f.Cell(4, 1).Bg)
	assert.Equal(t, tcell.ColorDefault, f.Cell(12, 1).Bg)
}

func TestPaintDashedOutline(t *testing.T) {
	g := retained.New()
	addNode(g, scene.KindRect, geom.Pt(0, 0), geom.Size{Width: 40, Height: 48}, map[string]any{
		scene.AttrStroke: "#1a73e8",
		scene.AttrDash:   []float64{4, 4},
	})
	f := NewFrame(6, 3)
	NewPainter().Paint(f, g)
	assert.Equal(t, "┌╌╌╌┐ ", f.Text(0))
	assert.Equal(t, "╎   ╎ ", f.Text(1))
}

func TestPaintTransformAndText(t *testing.T) {
	g := retained.New()
	addNode(g, scene.KindText, geom.Pt(8, 8), geom.Size{}, map[string]any{
		scene.AttrText: "héllo\nworld",
	})
	g.Layer(scene.LayerMain).SetTransform(scene.Transform{X: 8, Y: 8, Scale: 1})

	f := NewFrame(10, 3)
	NewPainter().Paint(f, g)
	assert.Equal(t, "          ", f.Text(0))
	assert.Equal(t, "  héllo   ", f.Text(1))
	assert.Equal(t, "  world   ", f.Text(2))
}

func TestPaintTextClipsToBox(t *testing.T) {
	g := retained.New()
	addNode(g, scene.KindText, geom.Pt(0, 0), geom.Size{Width: 32, Height: 16}, map[string]any{
		scene.AttrText: "overflowing",
	})
	f := NewFrame(8, 1)
	NewPainter().Paint(f, g)
	assert.Equal(t, "ove…    ", f.Text(0))
}

func TestPaintPath(t *testing.T) {
	g := retained.New()
	n := addNode(g, scene.KindPath, geom.Pt(0, 8), geom.Size{}, map[string]any{
		scene.AttrStroke:      "#000000",
		scene.AttrStrokeWidth: 2.0,
	})
	n.SetAttr(scene.AttrPoints, []geom.Point{{X: 0, Y: 0}, {X: 80, Y: 0}})

	f := NewFrame(12, 1)
	NewPainter().Paint(f, g)
	assert.Equal(t, "••••••••••• ", f.Text(0))
}

func TestPaintHighlighterTintsBackground(t *testing.T) {
	g := retained.New()
	l := g.Layer(scene.LayerHighlighter)
	n := l.NewNode(scene.KindPath)
	n.SetAttr(scene.AttrPoints, []geom.Point{{X: 0, Y: 8}, {X: 16, Y: 8}})
	n.SetAttr(scene.AttrStroke, "#ffeb3b")
	n.SetAttr(scene.AttrBlend, "multiply")
	l.Root().Add(n)

	f := NewFrame(4, 1)
	NewPainter().Paint(f, g)
	assert.Equal(t, tcell.NewRGBColor(0xff, 0xeb, 0x3b), f.Cell(1, 0).Bg)
	assert.Equal(t, "    ", f.Text(0))
}

func TestPaintSkipsBackgroundByDefault(t *testing.T) {
	g := retained.New()
	l := g.Layer(scene.LayerBackground)
	n := l.NewNode(scene.KindLine)
	n.SetAttr(scene.AttrPoints, []geom.Point{{X: 0, Y: 0}, {X: 16, Y: 0}})
	n.SetAttr(scene.AttrStroke, "#e6e6e6")
	l.Root().Add(n)

	f := NewFrame(4, 1)
	assert.Zero(t, NewPainter().Paint(f, g))
	assert.Equal(t, 1, NewPainter(WithLayers(scene.LayerBackground)).Paint(f, g))
}

func TestPaintEllipse(t *testing.T) {
	g := retained.New()
	addNode(g, scene.KindEllipse, geom.Pt(0, 0), geom.Size{Width: 80, Height: 80}, map[string]any{
		scene.AttrFill: "#00ff00",
	})
	f := NewFrame(10, 5)
	NewPainter().Paint(f, g)
	green := tcell.NewRGBColor(0, 255, 0)
	assert.Equal(t, green, f.Cell(5, 2).Bg, "centre is filled")
	assert.NotEqual(t, green, f.Cell(0, 0).Bg, "corner is outside")
}

func newViewer(t *testing.T) (*Viewer, *board.Board, tcell.SimulationScreen) {
	t.Helper()
	b, err := board.New()
	require.NoError(t, err)
	t.Cleanup(b.Close)
	s := newScreen(t, 40, 12)
	return NewViewer(b, s), b, s
}

func rect(x, y, w, h float64) *element.Element {
	el := element.New(element.KindRectangle, geom.Pt(x, y))
	el.Geometry = &element.Shape{Size: geom.Size{Width: w, Height: h}}
	return el
}

func key(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestViewerSizesViewport(t *testing.T) {
	v, b, s := newViewer(t)
	w, h := b.Viewport().Size()
	assert.Equal(t, 320.0, w)
	assert.Equal(t, 176.0, h)

	s.SetSize(60, 21)
	assert.True(t, v.HandleEvent(tcell.NewEventResize(60, 21)))
	w, h = b.Viewport().Size()
	assert.Equal(t, 480.0, w)
	assert.Equal(t, 320.0, h)
}

func TestViewerDrawsBoardAndStatus(t *testing.T) {
	b, err := board.New()
	require.NoError(t, err)
	defer b.Close()
	s := newScreen(t, 80, 12)
	v := NewViewer(b, s)
	_, err = b.Add(rect(16, 16, 80, 48))
	require.NoError(t, err)
	v.Draw()

	f := v.Frame()
	assert.True(t, strings.HasPrefix(f.Text(11), " 1 elements | 1 selected | 100% | undo 1/1 (add rectangle)"), f.Text(11))
	assert.Contains(t, f.Text(1), "┌")

	mainc, _, _, _ := s.GetContent(0, 11) //nolint:staticcheck // reads the simulated cell
	assert.Equal(t, ' ', mainc)
}

func TestViewerCommands(t *testing.T) {
	v, b, _ := newViewer(t)
	a, err := b.Add(rect(16, 16, 80, 48))
	require.NoError(t, err)
	c, err := b.Add(rect(200, 16, 40, 40))
	require.NoError(t, err)

	v.HandleEvent(tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone))
	assert.Equal(t, []element.ID{a}, b.Selection().IDs(), "tab wraps to the first element")
	v.HandleEvent(tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone))
	assert.Equal(t, []element.ID{c}, b.Selection().IDs())
	v.HandleEvent(tcell.NewEventKey(tcell.KeyBacktab, 0, tcell.ModNone))
	assert.Equal(t, []element.ID{a}, b.Selection().IDs())

	v.HandleEvent(key('d'))
	assert.False(t, b.Store().Doc().Has(a))
	v.HandleEvent(key('u'))
	assert.True(t, b.Store().Doc().Has(a))
	v.HandleEvent(key('r'))
	assert.False(t, b.Store().Doc().Has(a))

	v.HandleEvent(key('+'))
	assert.InDelta(t, ZoomFactor, b.Viewport().State().Scale, 1e-9)
	v.HandleEvent(key('0'))
	assert.Equal(t, 1.0, b.Viewport().State().Scale)
	v.HandleEvent(tcell.NewEventKey(tcell.KeyLeft, 0, tcell.ModNone))
	assert.Equal(t, PanStep*DefaultCellWidth, b.Viewport().State().X)

	v.HandleEvent(key('s'))
	assert.Equal(t, "no file to save to", v.Message())

	assert.False(t, v.HandleEvent(key('q')))
	assert.False(t, v.HandleEvent(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)))
}

func TestViewerNudge(t *testing.T) {
	v, b, _ := newViewer(t)
	id, err := b.Add(rect(16, 16, 80, 48))
	require.NoError(t, err)

	v.HandleEvent(key('l'))
	v.HandleEvent(key('j'))
	el, _ := b.Store().Doc().Get(id)
	assert.Equal(t, geom.Pt(16+DefaultCellWidth, 16+DefaultCellHeight), el.Position)
}

func TestViewerMousePick(t *testing.T) {
	v, b, _ := newViewer(t)
	id, err := b.Add(rect(16, 16, 80, 48))
	require.NoError(t, err)
	b.Selection().Clear()

	v.HandleEvent(tcell.NewEventMouse(4, 1, tcell.Button1, tcell.ModNone))
	assert.Equal(t, []element.ID{id}, b.Selection().IDs())

	v.HandleEvent(tcell.NewEventMouse(4, 1, tcell.Button1, tcell.ModShift))
	assert.Empty(t, b.Selection().IDs())

	v.HandleEvent(tcell.NewEventMouse(4, 1, tcell.Button1, tcell.ModNone))
	v.HandleEvent(tcell.NewEventMouse(38, 9, tcell.Button1, tcell.ModNone))
	assert.Empty(t, b.Selection().IDs())
}

func TestViewerSave(t *testing.T) {
	b, err := board.New()
	require.NoError(t, err)
	defer b.Close()
	path := t.TempDir() + "/doc.json"
	v := NewViewer(b, newScreen(t, 20, 6), WithSavePath(path))
	_, err = b.Add(rect(0, 0, 10, 10))
	require.NoError(t, err)

	v.HandleEvent(key('s'))
	assert.Equal(t, "saved", v.Message())

	other, err := board.New()
	require.NoError(t, err)
	defer other.Close()
	require.NoError(t, other.Load(path))
	assert.Equal(t, 1, other.Store().Doc().Len())
}
