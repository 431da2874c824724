package reconcile

import (
	"math"
	"slices"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/scene"
	"github.com/dshills/whiteboard/internal/viewport"
)

// Module names used by the default set.
const (
	ModuleViewport    = "viewport"
	ModuleGrid        = "grid"
	ModuleMain        = "main"
	ModuleHighlighter = "highlighter"
	ModuleSelection   = "selection"
)

// Overlay styling.
const (
	SelectionStroke = "#1a73e8"
	HandleFill      = "#ffffff"
	HandleSize      = 8.0
	GridStroke      = "#e6e6e6"
	MinGridPixels   = 8.0
)

// IsHighlighter accepts highlighter strokes.
func IsHighlighter(el *element.Element) bool {
	return el.Kind == element.KindHighlighter
}

// NotHighlighter accepts every element except highlighter strokes.
func NotHighlighter(el *element.Element) bool {
	return el.Kind != element.KindHighlighter
}

// MainModule draws committed elements other than highlighter strokes.
func MainModule() *ElementModule {
	return NewElementModule(ModuleMain, scene.LayerMain, NotHighlighter, nil)
}

// HighlighterModule draws highlighter strokes on their own layer.
func HighlighterModule() *ElementModule {
	return NewElementModule(ModuleHighlighter, scene.LayerHighlighter, IsHighlighter, nil)
}

// ViewportModule applies the pan/zoom transform to every layer.
func ViewportModule() Module {
	return BindComparable(Binding[viewport.State]{
		Name:   ModuleViewport,
		Layers: scene.Layers(),
		Select: func(in Input) viewport.State { return in.Viewport },
		Apply: func(ctx *Context, _, next viewport.State) error {
			t := scene.Transform{X: next.X, Y: next.Y, Scale: next.Scale}
			for _, id := range scene.Layers() {
				if l := ctx.Layer(id); l != nil {
					l.SetTransform(t)
				}
			}
			return nil
		},
	})
}

// gridSlice is the part of the input the grid depends on: the visible
// world range snapped to whole cells, and the cell size actually drawn.
type gridSlice struct {
	visible geom.Rect
	step    float64
	scale   float64
}

// GridModule draws background grid lines every size world units. When
// cells would be smaller than MinGridPixels on screen the step doubles.
func GridModule(size float64) Module {
	return BindComparable(Binding[gridSlice]{
		Name:   ModuleGrid,
		Layers: []scene.LayerID{scene.LayerBackground},
		Select: func(in Input) gridSlice {
			if size <= 0 || in.Stage.Width <= 0 || in.Stage.Height <= 0 || !(in.Viewport.Scale > 0) {
				return gridSlice{}
			}
			step := size
			for step*in.Viewport.Scale < MinGridPixels {
				step *= 2
			}
			s := in.Viewport
			tl := s.StageToWorld(geom.Point{})
			br := s.StageToWorld(geom.Point{X: in.Stage.Width, Y: in.Stage.Height})
			x0 := math.Floor(tl.X/step) * step
			y0 := math.Floor(tl.Y/step) * step
			x1 := math.Ceil(br.X/step) * step
			y1 := math.Ceil(br.Y/step) * step
			return gridSlice{
				visible: geom.Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0},
				step:    step,
				scale:   s.Scale,
			}
		},
		Apply: func(ctx *Context, _, next gridSlice) error {
			layer := ctx.Layer(scene.LayerBackground)
			root := layer.Root()
			for _, n := range root.Children() {
				n.Destroy()
				ctx.Destroyed(scene.LayerBackground)
			}
			if next.step <= 0 {
				return nil
			}
			v := next.visible
			line := func(a, b geom.Point) {
				n := layer.NewNode(scene.KindLine)
				n.SetAttr(scene.AttrPoints, []geom.Point{a, b})
				n.SetAttr(scene.AttrStroke, GridStroke)
				n.SetAttr(scene.AttrStrokeWidth, 1/next.scale)
				root.Add(n)
				ctx.Created(scene.LayerBackground)
			}
			for x := v.X; x <= v.X+v.Width; x += next.step {
				line(geom.Point{X: x, Y: v.Y}, geom.Point{X: x, Y: v.Y + v.Height})
			}
			for y := v.Y; y <= v.Y+v.Height; y += next.step {
				line(geom.Point{X: v.X, Y: y}, geom.Point{X: v.X + v.Width, Y: y})
			}
			return nil
		},
	})
}

// overlaySlice is what the selection overlay draws: per-element bounds,
// their union, and the scale used to keep handles a constant screen size.
type overlaySlice struct {
	rects []geom.Rect
	union geom.Rect
	scale float64
}

func equalOverlay(a, b overlaySlice) bool {
	return a.union == b.union && a.scale == b.scale && slices.Equal(a.rects, b.rects)
}

// SelectionModule draws selection outlines and resize handles.
func SelectionModule() Module {
	return Bind(Binding[overlaySlice]{
		Name:   ModuleSelection,
		Layers: []scene.LayerID{scene.LayerOverlay},
		Select: func(in Input) overlaySlice {
			var out overlaySlice
			for _, id := range in.Selection {
				if el, ok := in.Doc.Get(id); ok {
					out.rects = append(out.rects, el.Bounds)
				}
			}
			if len(out.rects) == 0 {
				return overlaySlice{}
			}
			out.union, _ = geom.UnionAll(out.rects)
			out.scale = in.Viewport.Scale
			return out
		},
		Equal: equalOverlay,
		Apply: func(ctx *Context, _, next overlaySlice) error {
			layer := ctx.Layer(scene.LayerOverlay)
			root := layer.Root()
			for _, n := range root.Children() {
				if n.Key() == "" {
					n.Destroy()
					ctx.Destroyed(scene.LayerOverlay)
				}
			}
			if len(next.rects) == 0 {
				return nil
			}
			scale := next.scale
			if !(scale > 0) {
				scale = 1
			}
			outline := func(r geom.Rect, dash bool) {
				n := layer.NewNode(scene.KindRect)
				n.SetPosition(r.Min())
				n.SetSize(geom.Size{Width: r.Width, Height: r.Height})
				n.SetAttr(scene.AttrStroke, SelectionStroke)
				n.SetAttr(scene.AttrStrokeWidth, 1/scale)
				if dash {
					n.SetAttr(scene.AttrDash, []float64{4 / scale, 4 / scale})
				}
				root.Add(n)
				ctx.Created(scene.LayerOverlay)
			}
			if len(next.rects) > 1 {
				for _, r := range next.rects {
					outline(r, true)
				}
			}
			outline(next.union, false)

			hs := HandleSize / scale
			for _, p := range handlePoints(next.union) {
				n := layer.NewNode(scene.KindRect)
				n.SetPosition(geom.Point{X: p.X - hs/2, Y: p.Y - hs/2})
				n.SetSize(geom.Size{Width: hs, Height: hs})
				n.SetAttr(scene.AttrFill, HandleFill)
				n.SetAttr(scene.AttrStroke, SelectionStroke)
				n.SetAttr(scene.AttrStrokeWidth, 1/scale)
				root.Add(n)
				ctx.Created(scene.LayerOverlay)
			}
			return nil
		},
	})
}

// handlePoints returns the four corners and four edge midpoints of r.
func handlePoints(r geom.Rect) []geom.Point {
	c := r.Center()
	minP, maxP := r.Min(), r.Max()
	return []geom.Point{
		minP, {X: c.X, Y: minP.Y}, {X: maxP.X, Y: minP.Y},
		{X: maxP.X, Y: c.Y}, maxP, {X: c.X, Y: maxP.Y},
		{X: minP.X, Y: maxP.Y}, {X: minP.X, Y: c.Y},
	}
}

// Defaults returns the standard module set in run order: viewport
// transform, grid, main elements, highlighter strokes, selection overlay.
func Defaults(gridSize float64) []Module {
	return []Module{
		ViewportModule(),
		GridModule(gridSize),
		MainModule(),
		HighlighterModule(),
		SelectionModule(),
	}
}
