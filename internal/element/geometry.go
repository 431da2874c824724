package element

import (
	"math"
	"slices"

	"github.com/dshills/whiteboard/internal/geom"
)

// Kind tags which geometry variant and rendering an element uses.
type Kind string

// Element kinds.
const (
	KindRectangle   Kind = "rectangle"
	KindEllipse     Kind = "ellipse"
	KindCircle      Kind = "circle"
	KindFreehand    Kind = "freehand-stroke"
	KindHighlighter Kind = "highlighter"
	KindText        Kind = "text"
	KindStickyNote  Kind = "sticky-note"
	KindConnector   Kind = "connector"
)

// Kinds lists every known kind.
var Kinds = []Kind{
	KindRectangle, KindEllipse, KindCircle, KindFreehand,
	KindHighlighter, KindText, KindStickyNote, KindConnector,
}

// IsKnown returns true if k is one of Kinds.
func (k Kind) IsKnown() bool {
	return slices.Contains(Kinds, k)
}

// IsPath returns true for kinds whose bounds come from point lists.
func (k Kind) IsPath() bool {
	switch k {
	case KindFreehand, KindHighlighter, KindConnector:
		return true
	default:
		return false
	}
}

// DefaultSize returns the size a freshly created element of kind k gets.
// Path kinds have no intrinsic size.
func (k Kind) DefaultSize() geom.Size {
	switch k {
	case KindRectangle, KindEllipse:
		return geom.Size{Width: 100, Height: 60}
	case KindCircle:
		return geom.Size{Width: 80, Height: 80}
	case KindStickyNote:
		return geom.Size{Width: 200, Height: 200}
	case KindText:
		return MeasureText("", DefaultFontSize)
	default:
		return geom.Size{}
	}
}

// Accepts reports whether g is the geometry variant used by kind k.
func (k Kind) Accepts(g Geometry) bool {
	switch g.(type) {
	case *Shape:
		return k == KindRectangle || k == KindEllipse || k == KindCircle
	case *TextBlock:
		return k == KindText || k == KindStickyNote
	case *Stroke:
		return k == KindFreehand || k == KindHighlighter
	case *Connector:
		return k == KindConnector
	default:
		return false
	}
}

// DefaultGeometry returns the zero-state geometry for kind k. Unknown
// kinds fall back to a rectangle-like shape.
func DefaultGeometry(k Kind) Geometry {
	switch k {
	case KindText, KindStickyNote:
		return &TextBlock{FontSize: DefaultFontSize}
	case KindFreehand:
		return &Stroke{Width: 2}
	case KindHighlighter:
		return &Stroke{Width: 16}
	case KindConnector:
		return &Connector{Width: 2}
	case KindRectangle, KindEllipse, KindCircle:
		return &Shape{Size: k.DefaultSize()}
	default:
		return &Shape{Size: KindRectangle.DefaultSize()}
	}
}

// Geometry is the closed set of per-kind geometry payloads: *Shape,
// *TextBlock, *Stroke and *Connector.
type Geometry interface {
	bounds(pos geom.Point, rotation float64) geom.Rect
	clone() Geometry
}

// Shape is the geometry of box kinds (rectangle, ellipse, circle).
type Shape struct {
	Size geom.Size
}

func (g *Shape) bounds(pos geom.Point, rotation float64) geom.Rect {
	return boxBounds(pos, g.Size, rotation)
}

func (g *Shape) clone() Geometry {
	c := *g
	return &c
}

// TextBlock is the geometry of text and sticky notes.
type TextBlock struct {
	Size     geom.Size
	Text     string
	FontSize float64
}

func (g *TextBlock) bounds(pos geom.Point, rotation float64) geom.Rect {
	return boxBounds(pos, g.Size, rotation)
}

func (g *TextBlock) clone() Geometry {
	c := *g
	return &c
}

// Stroke is a freehand or highlighter path. Points are relative to the
// element position.
type Stroke struct {
	Points []geom.Point
	Width  float64
}

func (g *Stroke) bounds(pos geom.Point, rotation float64) geom.Rect {
	return pathBounds(pos, g.Points, g.Width, rotation)
}

func (g *Stroke) clone() Geometry {
	return &Stroke{Points: slices.Clone(g.Points), Width: g.Width}
}

// Connector is a line between two points, optionally bound to the
// elements it connects. Start and End are relative to the element position.
type Connector struct {
	Start geom.Point
	End   geom.Point
	From  ID
	To    ID
	Width float64
}

func (g *Connector) bounds(pos geom.Point, rotation float64) geom.Rect {
	return pathBounds(pos, []geom.Point{g.Start, g.End}, g.Width, rotation)
}

func (g *Connector) clone() Geometry {
	c := *g
	return &c
}

// boxBounds handles negative sizes produced by dragging past the anchor.
func boxBounds(pos geom.Point, size geom.Size, rotation float64) geom.Rect {
	r := geom.RectFromPoints(pos, geom.Pt(pos.X+size.Width, pos.Y+size.Height))
	return r.Rotated(rotation)
}

func pathBounds(pos geom.Point, pts []geom.Point, width, rotation float64) geom.Rect {
	if len(pts) == 0 {
		return geom.Rect{X: pos.X, Y: pos.Y}
	}
	abs := make([]geom.Point, len(pts))
	for i, p := range pts {
		abs[i] = pos.Add(p)
	}
	if rotation != 0 {
		c := geom.RectFromPoints(abs...).Center()
		sin, cos := math.Sincos(rotation)
		for i, p := range abs {
			dx, dy := p.X-c.X, p.Y-c.Y
			abs[i] = geom.Pt(c.X+dx*cos-dy*sin, c.Y+dx*sin+dy*cos)
		}
	}
	r := geom.RectFromPoints(abs...)
	if width > 0 {
		r = r.Inset(-width / 2)
	}
	return r
}
