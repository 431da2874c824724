package reconcile

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/schedule"
	"github.com/dshills/whiteboard/internal/scene"
	"github.com/dshills/whiteboard/internal/scene/retained"
	"github.com/dshills/whiteboard/internal/selection"
	"github.com/dshills/whiteboard/internal/store"
	"github.com/dshills/whiteboard/internal/viewport"
)

type fixture struct {
	st  *store.Store
	sel *selection.Manager
	vp  *viewport.Viewport
	g   *retained.Graph
	d   *schedule.ManualDriver
	r   *Reconciler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		st: store.New(),
		vp: viewport.New(800, 600),
		g:  retained.New(),
		d:  schedule.NewManualDriver(),
	}
	f.sel = selection.New(f.st)
	f.r = New(f.g, f.d, opts...)
	for _, m := range Defaults(20) {
		f.r.MustRegister(m)
	}
	stop := f.r.Watch(f.st, f.sel, f.vp)
	t.Cleanup(func() {
		stop()
		f.sel.Close()
	})
	f.d.FlushAll(10)
	f.g.ResetStats()
	return f
}

func (f *fixture) main(t *testing.T) *ElementModule {
	t.Helper()
	m, ok := f.r.Module(ModuleMain)
	require.True(t, ok)
	return m.(*ElementModule)
}

func (f *fixture) keys(id scene.LayerID) []string {
	var out []string
	for _, n := range f.g.Layer(id).Root().Children() {
		out = append(out, n.Key())
	}
	return out
}

func rect(id string, x, y float64) *element.Element {
	el := element.New(element.KindRectangle, geom.Pt(x, y))
	el.ID = element.ID(id)
	el.Geometry = &element.Shape{Size: geom.Size{Width: 10, Height: 10}}
	el.Normalize()
	return el
}

func TestElementsKeyedByID(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(rect("a", 0, 0))
	f.st.Upsert(rect("b", 20, 0))
	f.st.Upsert(rect("c", 40, 0))

	assert.Equal(t, []string{"a", "b", "c"}, f.keys(scene.LayerMain))
	assert.Equal(t, 3, f.g.Stats().Created)

	m := f.main(t)
	na, _ := m.Node("a")
	nb, _ := m.Node("b")

	require.NoError(t, f.st.Update("b", element.Patch{Position: element.Ptr(geom.Pt(25, 5))}))

	na2, _ := m.Node("a")
	nb2, _ := m.Node("b")
	assert.Same(t, na, na2)
	assert.Same(t, nb, nb2)
	assert.Equal(t, geom.Pt(25, 5), nb2.Position())
	assert.Equal(t, 3, f.g.Stats().Created, "patch must not create nodes")
	assert.Equal(t, 0, f.g.Stats().Destroyed)
}

func TestRemoveDestroysOnlyThatNode(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(rect("a", 0, 0))
	f.st.Upsert(rect("b", 20, 0))
	f.g.ResetStats()

	f.st.Remove("a")
	assert.Equal(t, []string{"b"}, f.keys(scene.LayerMain))
	assert.Equal(t, 1, f.g.Stats().Destroyed)
	assert.Equal(t, 0, f.g.Stats().Created)

	_, ok := f.main(t).Node("a")
	assert.False(t, ok)
}

func TestReorderMovesNodes(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(rect("a", 0, 0))
	f.st.Upsert(rect("b", 0, 0))
	f.st.Upsert(rect("c", 0, 0))
	f.g.ResetStats()

	require.NoError(t, f.st.BringToFront("a"))
	assert.Equal(t, []string{"b", "c", "a"}, f.keys(scene.LayerMain))
	require.NoError(t, f.st.SendToBack("c"))
	assert.Equal(t, []string{"c", "b", "a"}, f.keys(scene.LayerMain))
	assert.Equal(t, 0, f.g.Stats().Created)
	assert.Equal(t, 0, f.g.Stats().Destroyed)
}

func TestHighlighterOnOwnLayer(t *testing.T) {
	f := newFixture(t)
	hl := element.New(element.KindHighlighter, geom.Pt(0, 0))
	hl.ID = "h"
	hl.Geometry = &element.Stroke{Points: []geom.Point{{X: 0, Y: 0}, {X: 30, Y: 0}}, Width: 16}
	f.st.Upsert(hl)
	f.st.Upsert(rect("a", 0, 0))

	assert.Equal(t, []string{"a"}, f.keys(scene.LayerMain))
	assert.Equal(t, []string{"h"}, f.keys(scene.LayerHighlighter))

	n := f.g.Layer(scene.LayerHighlighter).Root().Children()[0]
	assert.Equal(t, scene.KindPath, n.Kind())
	assert.Equal(t, HighlighterBlendMode, scene.String(n, scene.AttrBlend, ""))
	assert.InDelta(t, HighlighterOpacity, scene.Float(n, scene.AttrOpacity, 0), 1e-9)
}

func TestStickyNoteBuildsGroup(t *testing.T) {
	f := newFixture(t)
	el := element.New(element.KindStickyNote, geom.Pt(5, 5))
	el.ID = "s"
	f.st.Upsert(el)

	n, ok := f.main(t).Node("s")
	require.True(t, ok)
	assert.Equal(t, scene.KindGroup, n.Kind())
	kids := n.Children()
	require.Len(t, kids, 2)
	assert.Equal(t, scene.KindRect, kids[0].Kind())
	assert.Equal(t, DefaultStickyFill, scene.String(kids[0], scene.AttrFill, ""))
	assert.Equal(t, scene.KindText, kids[1].Kind())
}

func TestStyleKeyRemovedFromNode(t *testing.T) {
	f := newFixture(t)
	el := rect("a", 0, 0)
	el.Style = element.Style{element.StyleFill: "#ff0000"}
	f.st.Upsert(el)

	n, _ := f.main(t).Node("a")
	assert.Equal(t, "#ff0000", scene.String(n, scene.AttrFill, ""))

	require.NoError(t, f.st.Update("a", element.Patch{Style: element.Style{element.StyleFill: nil}}))
	_, ok := n.Attr(scene.AttrFill)
	assert.False(t, ok)
}

func TestRedrawsCoalescePerFrame(t *testing.T) {
	f := newFixture(t)
	for i := range 10 {
		f.st.Upsert(rect(fmt.Sprintf("e%d", i), float64(i), 0))
	}
	assert.Equal(t, 1, f.d.Pending())
	assert.Zero(t, f.g.Stats().Redraws[scene.LayerMain], "no redraw before the frame")

	f.d.Flush()
	redraws := f.g.Stats().Redraws
	assert.Equal(t, 1, redraws[scene.LayerMain])
	assert.Zero(t, redraws[scene.LayerBackground])
	assert.Zero(t, redraws[scene.LayerHighlighter])
	assert.Zero(t, redraws[scene.LayerOverlay])
	assert.Zero(t, f.d.Pending())

	// Nothing changed since the frame.
	f.d.Flush()
	assert.Equal(t, 1, f.g.Stats().Redraws[scene.LayerMain])
}

func TestViewportChangeRedrawsEveryLayerOnce(t *testing.T) {
	f := newFixture(t)
	f.vp.PanBy(10, 0)
	f.vp.PanBy(10, 0)
	f.vp.SetScale(2)
	f.d.Flush()

	for _, id := range scene.Layers() {
		assert.Equal(t, 1, f.g.Stats().Redraws[id], id.String())
		assert.InDelta(t, 2.0, f.g.Layer(id).Transform().Scale, 1e-9)
	}
}

func TestSelectionOverlay(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(rect("a", 0, 0))
	f.st.Upsert(rect("b", 50, 0))

	f.sel.Set("a")
	assert.Equal(t, 1+8, f.g.NodeCount(scene.LayerOverlay))

	f.sel.Set("a", "b")
	assert.Equal(t, 2+1+8, f.g.NodeCount(scene.LayerOverlay))

	// Moving an unselected element leaves the overlay alone.
	f.sel.Set("a")
	f.d.Flush()
	f.g.ResetStats()
	require.NoError(t, f.st.Update("b", element.Patch{Position: element.Ptr(geom.Pt(60, 0))}))
	f.d.Flush()
	assert.Zero(t, f.g.Stats().Redraws[scene.LayerOverlay])

	f.st.Remove("a")
	assert.Zero(t, f.g.NodeCount(scene.LayerOverlay))
}

func TestBindingGatesOnEquality(t *testing.T) {
	f := newFixture(t)
	applies := 0
	f.r.MustRegister(BindComparable(Binding[int]{
		Name:   "count",
		Layers: []scene.LayerID{scene.LayerOverlay},
		Select: func(in Input) int { return in.Doc.Len() },
		Apply: func(*Context, int, int) error {
			applies++
			return nil
		},
	}))
	assert.Equal(t, 1, applies, "register applies once")

	f.st.Upsert(rect("a", 0, 0))
	assert.Equal(t, 2, applies)

	require.NoError(t, f.st.Update("a", element.Patch{Position: element.Ptr(geom.Pt(1, 1))}))
	assert.Equal(t, 2, applies, "same slice must not re-apply")

	before := f.r.Stats().Skips
	f.r.Refresh()
	assert.Greater(t, f.r.Stats().Skips, before)
}

func TestModulePanicIsContained(t *testing.T) {
	f := newFixture(t)
	fail := true
	applies := 0
	f.r.MustRegister(BindComparable(Binding[int]{
		Name:   "boom",
		Layers: []scene.LayerID{scene.LayerOverlay},
		Select: func(in Input) int { return in.Doc.Len() },
		Apply: func(*Context, int, int) error {
			if fail {
				panic("broken module")
			}
			applies++
			return nil
		},
	}))

	f.st.Upsert(rect("a", 0, 0))

	assert.Equal(t, []string{"a"}, f.keys(scene.LayerMain), "other modules still run")
	var me *ModuleError
	require.ErrorAs(t, f.r.LastError(), &me)
	assert.Equal(t, "boom", me.Module)
	assert.GreaterOrEqual(t, f.r.Stats().Failures, 1)

	f.d.Flush()
	assert.Equal(t, 1, f.g.Stats().Redraws[scene.LayerMain], "frame is still produced")

	fail = false
	f.st.Upsert(rect("b", 0, 0))
	assert.Equal(t, 1, applies)
}

func TestModuleErrorKeepsPreviousSlice(t *testing.T) {
	f := newFixture(t)
	var seen []int
	fail := false
	f.r.MustRegister(Bind(Binding[int]{
		Name:   "err",
		Layers: []scene.LayerID{scene.LayerOverlay},
		Select: func(in Input) int { return in.Doc.Len() },
		Equal:  func(a, b int) bool { return a == b },
		Apply: func(_ *Context, prev, next int) error {
			if fail {
				return errors.New("apply failed")
			}
			seen = append(seen, prev, next)
			return nil
		},
	}))
	fail = true
	f.st.Upsert(rect("a", 0, 0))
	fail = false
	f.st.Upsert(rect("b", 0, 0))

	// The failed run forced a reset, so prev is the zero value again.
	assert.Equal(t, []int{0, 0, 0, 2}, seen)
}

type flakyBuilder struct {
	NodeBuilder
	fail map[element.ID]string
}

func (b *flakyBuilder) Build(layer scene.Layer, el *element.Element) (scene.Node, error) {
	switch b.fail[el.ID] {
	case "error":
		return nil, errors.New("cannot build")
	case "panic":
		panic("builder exploded")
	}
	return b.NodeBuilder.Build(layer, el)
}

func TestElementFailuresAreIsolated(t *testing.T) {
	st := store.New()
	g := retained.New()
	d := schedule.NewManualDriver()
	r := New(g, d)
	b := &flakyBuilder{fail: map[element.ID]string{"bad": "error", "worse": "panic"}}
	m := NewElementModule("custom", scene.LayerMain, nil, b)
	r.MustRegister(m)
	stop := r.Watch(st, nil, nil)
	defer stop()

	st.Upsert(rect("good", 0, 0))
	st.Upsert(rect("bad", 0, 0))
	st.Upsert(rect("worse", 0, 0))

	_, ok := m.Node("good")
	assert.True(t, ok)
	_, ok = m.Node("bad")
	assert.False(t, ok)
	assert.Equal(t, 3, m.Len())
	require.Error(t, r.LastError())

	delete(b.fail, "bad")
	require.NoError(t, st.Update("bad", element.Patch{Position: element.Ptr(geom.Pt(3, 3))}))
	_, ok = m.Node("bad")
	assert.True(t, ok, "failed element is retried once it changes")
}

func TestDuplicateIdentityLaterClaimantRekeyed(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(rect("a", 0, 0))

	layer := f.g.Layer(scene.LayerMain)
	alien := layer.NewNode(scene.KindRect)
	alien.SetKey("a")
	layer.Root().Add(alien)

	assert.Equal(t, 1, f.r.RecoverIdentities())
	assert.Equal(t, "a~dup1", alien.Key())
	own, _ := f.main(t).Node("a")
	assert.Equal(t, "a", own.Key())
	assert.Equal(t, 1, f.r.Stats().Duplicates)
	assert.True(t, f.r.RedrawPending())

	assert.Zero(t, f.r.RecoverIdentities(), "already resolved")
}

func TestDuplicateIdentityEarlierClaimantAdopted(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(rect("a", 7, 9))

	layer := f.g.Layer(scene.LayerMain)
	alien := layer.NewNode(scene.KindRect)
	alien.SetKey("a")
	layer.Root().Add(alien)
	layer.Root().MoveTo(alien, 0)

	assert.Equal(t, 1, f.r.RecoverIdentities())
	own, _ := f.main(t).Node("a")
	assert.Same(t, alien, own)
	assert.Equal(t, geom.Pt(7, 9), own.Position())
}

func TestPreviewScope(t *testing.T) {
	f := newFixture(t)
	p := f.r.BeginPreview("draw")
	require.NotNil(t, p.Add(scene.KindPath))
	require.NotNil(t, p.Add(scene.KindRect))
	assert.Equal(t, 3, f.g.NodeCount(scene.LayerPreview))
	assert.Equal(t, 1, f.r.Previews())

	p.End()
	p.End()
	assert.Zero(t, f.g.NodeCount(scene.LayerPreview))
	assert.Zero(t, f.r.Previews())
	assert.False(t, p.Active())
	assert.Nil(t, p.Add(scene.KindRect))
}

func TestPreviewEndsOnErrorPath(t *testing.T) {
	f := newFixture(t)
	gesture := func() error {
		p := f.r.BeginPreview("resize")
		defer p.End()
		p.Add(scene.KindRect)
		return errors.New("pointer lost")
	}
	require.Error(t, gesture())
	assert.Zero(t, f.g.NodeCount(scene.LayerPreview))

	f.d.Flush()
	assert.Equal(t, 1, f.g.Stats().Redraws[scene.LayerPreview])
}

func TestPreviewSameOwnerReplaces(t *testing.T) {
	f := newFixture(t)
	p1 := f.r.BeginPreview("draw")
	p1.Add(scene.KindPath)
	p2 := f.r.BeginPreview("draw")
	p2.Add(scene.KindPath)
	f.r.BeginPreview("other").Add(scene.KindRect)

	assert.False(t, p1.Active())
	assert.Equal(t, 2, f.r.Previews())
	assert.Equal(t, 4, f.g.NodeCount(scene.LayerPreview))

	p1.End() // must not end p2
	assert.True(t, p2.Active())

	f.r.ClearPreview()
	assert.Zero(t, f.g.NodeCount(scene.LayerPreview))
	assert.Zero(t, f.r.Previews())
}

func TestFlushRunsPendingFrame(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(rect("a", 0, 0))
	require.True(t, f.r.RedrawPending())

	f.r.Flush()
	assert.False(t, f.r.RedrawPending())
	assert.Equal(t, 1, f.g.Stats().Redraws[scene.LayerMain])
	assert.Zero(t, f.d.Pending())
}

func TestRegisterAndUnregister(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.r.Register(MainModule()), ErrDuplicateModule)
	assert.ErrorIs(t, f.r.Unregister("nope"), ErrUnknownModule)
	assert.Equal(t, []string{ModuleViewport, ModuleGrid, ModuleMain, ModuleHighlighter, ModuleSelection}, f.r.Modules())

	f.st.Upsert(rect("a", 0, 0))
	require.NoError(t, f.r.Unregister(ModuleMain))
	assert.Zero(t, f.g.NodeCount(scene.LayerMain))
	assert.NotContains(t, f.r.Modules(), ModuleMain)
}

func TestInvalidateReappliesEverything(t *testing.T) {
	f := newFixture(t)
	f.st.Upsert(rect("a", 0, 0))
	f.d.Flush()
	f.g.ResetStats()

	f.r.Invalidate()
	f.d.Flush()
	for _, id := range scene.Layers() {
		if id == scene.LayerPreview {
			continue
		}
		assert.Equal(t, 1, f.g.Stats().Redraws[id], id.String())
	}
	assert.Equal(t, []string{"a"}, f.keys(scene.LayerMain))
}

func TestReentrantChangeFromModule(t *testing.T) {
	f := newFixture(t)
	done := false
	f.r.MustRegister(BindComparable(Binding[int]{
		Name:   "reenter",
		Layers: []scene.LayerID{scene.LayerOverlay},
		Select: func(in Input) int { return in.Doc.Len() },
		Apply: func(_ *Context, _, next int) error {
			if next == 1 && !done {
				done = true
				f.st.Upsert(rect("b", 0, 0))
			}
			return nil
		},
	}))
	f.st.Upsert(rect("a", 0, 0))
	assert.Equal(t, []string{"a", "b"}, f.keys(scene.LayerMain))
	assert.Equal(t, 2, f.r.Input().Doc.Len())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	f := newFixture(t, WithMetrics(m))

	redraws := testutil.ToFloat64(m.Redraws.WithLabelValues("main"))
	applies := testutil.ToFloat64(m.Applies.WithLabelValues(ModuleMain))
	creates := testutil.ToFloat64(m.Nodes.WithLabelValues("main", "create"))

	f.st.Upsert(rect("a", 0, 0))
	f.d.Flush()

	assert.InDelta(t, redraws+1, testutil.ToFloat64(m.Redraws.WithLabelValues("main")), 1e-9)
	assert.InDelta(t, applies+1, testutil.ToFloat64(m.Applies.WithLabelValues(ModuleMain)), 1e-9)
	assert.InDelta(t, creates+1, testutil.ToFloat64(m.Nodes.WithLabelValues("main", "create")), 1e-9)

	n, err := testutil.GatherAndCount(reg, "whiteboard_reconcile_updates_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.update()
		m.apply("x")
		m.failure("x")
		m.node(scene.LayerMain, opCreate)
		m.redraw(scene.LayerMain)
		m.duplicate()
	})
}
