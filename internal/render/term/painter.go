// Package term paints a scene graph onto a terminal with tcell and hosts
// an interactive viewer for a board.
//
// One terminal cell covers CellWidth x CellHeight stage pixels. Boxes are
// drawn with box-drawing runes, fills become cell backgrounds, paths are
// sampled along their segments and text is laid out by grapheme cluster.
package term

import (
	"math"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/rivo/uniseg"

	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/render"
	"github.com/dshills/whiteboard/internal/scene"
)

// Default cell metrics in stage pixels.
const (
	DefaultCellWidth  = 8.0
	DefaultCellHeight = 16.0
)

// Runes used for strokes.
const (
	runeH        = '─'
	runeV        = '│'
	runeTL       = '┌'
	runeTR       = '┐'
	runeBL       = '└'
	runeBR       = '┘'
	runeDashH    = '╌'
	runeDashV    = '╎'
	runeDot      = '•'
	runeHandle   = '■'
	runeEllipse  = '·'
	runeOverflow = '…'
)

// Option configures a Painter.
type Option func(*Painter)

// WithCellSize sets the stage pixels one cell covers.
func WithCellSize(w, h float64) Option {
	return func(p *Painter) {
		if w > 0 && h > 0 {
			p.cellW, p.cellH = w, h
		}
	}
}

// WithLayers restricts painting to the given layers. The background grid
// is left out by default; a terminal cell is too coarse for it.
func WithLayers(ids ...scene.LayerID) Option {
	return func(p *Painter) { p.layers = ids }
}

// WithBackground sets the canvas background colour.
func WithBackground(hex string) Option {
	return func(p *Painter) {
		if c, ok := render.ParseColor(hex); ok {
			p.bg = color(c.Color)
		}
	}
}

// Painter draws scene graphs into a Frame.
type Painter struct {
	cellW, cellH float64
	layers       []scene.LayerID
	bg           tcell.Color
}

// NewPainter creates a painter.
func NewPainter(opts ...Option) *Painter {
	p := &Painter{
		cellW:  DefaultCellWidth,
		cellH:  DefaultCellHeight,
		layers: []scene.LayerID{scene.LayerMain, scene.LayerHighlighter, scene.LayerPreview, scene.LayerOverlay},
		bg:     tcell.ColorDefault,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CellSize returns the stage size of one cell.
func (p *Painter) CellSize() (w, h float64) {
	return p.cellW, p.cellH
}

// StageSize returns the stage size covered by cols x rows cells.
func (p *Painter) StageSize(cols, rows int) (w, h float64) {
	return float64(cols) * p.cellW, float64(rows) * p.cellH
}

// CellToStage returns the stage point at the centre of a cell.
func (p *Painter) CellToStage(col, row int) geom.Point {
	return geom.Pt((float64(col)+0.5)*p.cellW, (float64(row)+0.5)*p.cellH)
}

// Paint clears f and draws g into it. It returns the number of nodes
// that produced cells.
func (p *Painter) Paint(f *Frame, g scene.Graph) int {
	f.Clear(p.bg)
	n := 0
	for _, it := range render.Flatten(g, p.layers...) {
		t := g.Layer(it.Layer).Transform()
		if p.paintItem(f, t, it) {
			n++
		}
	}
	return n
}

// cell maps a world point through t to a cell.
func (p *Painter) cell(t scene.Transform, w geom.Point) (int, int) {
	s := t.Apply(w)
	return int(math.Floor(s.X / p.cellW)), int(math.Floor(s.Y / p.cellH))
}

func (p *Painter) paintItem(f *Frame, t scene.Transform, it render.Item) bool {
	n := it.Node
	if it.Opacity() <= 0 {
		return false
	}
	fill, hasFill := render.ParseColor(scene.String(n, scene.AttrFill, ""))
	stroke, hasStroke := render.ParseColor(scene.String(n, scene.AttrStroke, ""))
	if scene.Float(n, scene.AttrStrokeWidth, 1) <= 0 {
		hasStroke = false
	}
	_, dashed := n.Attr(scene.AttrDash)
	blend := scene.String(n, scene.AttrBlend, "")

	switch n.Kind() {
	case scene.KindRect:
		box := rotatedBox(it)
		x0, y0 := p.cell(t, box.Min())
		x1, y1 := p.cell(t, box.Max())
		if x1 <= x0 || y1 <= y0 {
			// Smaller than a cell.
			if hasFill {
				f.SetRune(x0, y0, runeHandle, color(fill.Color))
				return true
			}
			return false
		}
		if hasFill {
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					f.SetBg(x, y, color(fill.Color))
				}
			}
		}
		if hasStroke {
			p.border(f, x0, y0, x1-1, y1-1, color(stroke.Color), dashed)
		}
		return hasFill || hasStroke

	case scene.KindEllipse:
		box := rotatedBox(it)
		x0, y0 := p.cell(t, box.Min())
		x1, y1 := p.cell(t, box.Max())
		cx, cy := float64(x0+x1)/2, float64(y0+y1)/2
		rx, ry := math.Max(float64(x1-x0)/2, 0.5), math.Max(float64(y1-y0)/2, 0.5)
		drawn := false
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				dx, dy := (float64(x)+0.5-cx)/rx, (float64(y)+0.5-cy)/ry
				d := dx*dx + dy*dy
				if d > 1 {
					continue
				}
				if hasFill {
					f.SetBg(x, y, color(fill.Color))
					drawn = true
				}
				edge := 1 - 2/math.Max(math.Min(rx, ry), 1)
				if hasStroke && d >= edge {
					f.SetRune(x, y, runeEllipse, color(stroke.Color))
					drawn = true
				}
			}
		}
		return drawn

	case scene.KindPath, scene.KindLine:
		if !hasStroke {
			return false
		}
		pts := rotatePoints(it.Points(), it.Rotation(), it.Pivot)
		if len(pts) == 0 {
			return false
		}
		c := color(stroke.Color)
		plot := func(x, y int) {
			if blend == "multiply" {
				f.SetBg(x, y, c)
				return
			}
			f.SetRune(x, y, runeDot, c)
		}
		x, y := p.cell(t, pts[0])
		plot(x, y)
		for i := 1; i < len(pts); i++ {
			p.segment(t, pts[i-1], pts[i], plot)
		}
		return true

	case scene.KindText:
		text := scene.String(n, scene.AttrText, "")
		if text == "" {
			return false
		}
		fg := tcell.ColorDefault
		if hasStroke {
			fg = color(stroke.Color)
		}
		x0, y0 := p.cell(t, it.Origin)
		sz := n.Size()
		maxX, _ := p.cell(t, geom.Pt(it.Origin.X+sz.Width, it.Origin.Y))
		if maxX <= x0 {
			maxX = x0 + len(text)
		}
		row := y0
		for _, line := range splitLines(text) {
			used := f.SetString(x0, row, line, fg, maxX)
			if used < displayWidth(line) && maxX > x0 {
				f.SetRune(maxX-1, row, runeOverflow, fg)
			}
			row++
		}
		return true
	}
	return false
}

func (p *Painter) border(f *Frame, x0, y0, x1, y1 int, c tcell.Color, dashed bool) {
	h, v := runeH, runeV
	if dashed {
		h, v = runeDashH, runeDashV
	}
	for x := x0 + 1; x < x1; x++ {
		f.SetRune(x, y0, h, c)
		f.SetRune(x, y1, h, c)
	}
	for y := y0 + 1; y < y1; y++ {
		f.SetRune(x0, y, v, c)
		f.SetRune(x1, y, v, c)
	}
	if x0 == x1 || y0 == y1 {
		f.SetRune(x0, y0, runeHandle, c)
		return
	}
	f.SetRune(x0, y0, runeTL, c)
	f.SetRune(x1, y0, runeTR, c)
	f.SetRune(x0, y1, runeBL, c)
	f.SetRune(x1, y1, runeBR, c)
}

// segment samples a to b at half-cell steps.
func (p *Painter) segment(t scene.Transform, a, b geom.Point, plot func(x, y int)) {
	sa, sb := t.Apply(a), t.Apply(b)
	dx, dy := (sb.X-sa.X)/p.cellW, (sb.Y-sa.Y)/p.cellH
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy)) * 2))
	if steps < 1 {
		steps = 1
	}
	lastX, lastY := math.MinInt, math.MinInt
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		x, y := p.cell(scene.Identity, geom.Pt(sa.X+(sb.X-sa.X)*f, sa.Y+(sb.Y-sa.Y)*f))
		if x == lastX && y == lastY {
			continue
		}
		plot(x, y)
		lastX, lastY = x, y
	}
}

// rotatedBox returns the axis-aligned box around the rotated item.
func rotatedBox(it render.Item) geom.Rect {
	box := it.Box()
	rot := it.Rotation()
	if rot == 0 {
		return box
	}
	c := box.Corners()
	return geom.RectFromPoints(rotatePoints(c[:], rot, it.Pivot)...)
}

func rotatePoints(pts []geom.Point, rot float64, pivot geom.Point) []geom.Point {
	if rot == 0 {
		return pts
	}
	sin, cos := math.Sincos(rot)
	out := make([]geom.Point, len(pts))
	for i, p := range pts {
		dx, dy := p.X-pivot.X, p.Y-pivot.Y
		out[i] = geom.Pt(pivot.X+dx*cos-dy*sin, pivot.Y+dx*sin+dy*cos)
	}
	return out
}

func color(c colorful.Color) tcell.Color {
	r, g, b := c.Clamped().RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

func displayWidth(s string) int {
	return uniseg.StringWidth(s)
}
