// Package element defines the canvas element model: identities, the closed
// set of element kinds, and the per-kind geometry variants that determine
// bounds and default sizes.
//
// Elements are treated as immutable values once handed to the store. Every
// mutation produces a new *Element through Clone or Patch.Apply so that
// downstream consumers can detect changes by pointer comparison.
package element

import (
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/dshills/whiteboard/internal/geom"
)

// ID is the stable identity of an element for its whole lifetime.
type ID string

// NewID returns a fresh random element identity.
func NewID() ID {
	return ID(uuid.NewString())
}

// IsValid returns false for the empty identity.
func (id ID) IsValid() bool {
	return id != ""
}

// Style is an open map of rendering attributes (stroke, fill, opacity, ...).
type Style map[string]any

// Clone returns a shallow copy of the style map.
func (s Style) Clone() Style {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// String returns the string value for key, or def if absent or not a string.
func (s Style) String(key, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

// Float returns the numeric value for key, or def if absent or not numeric.
func (s Style) Float(key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Common style keys.
const (
	StyleStroke      = "stroke"
	StyleFill        = "fill"
	StyleOpacity     = "opacity"
	StyleStrokeWidth = "strokeWidth"
)

// Element is a single document-visible object.
type Element struct {
	ID       ID
	Kind     Kind
	Position geom.Point
	Rotation float64
	Visible  bool
	Locked   bool

	// Bounds is derived by Normalize and must never be set by callers.
	Bounds geom.Rect

	Style    Style
	Geometry Geometry
}

// New creates a visible element of the given kind at pos with the kind's
// default geometry. The returned element is already normalized.
func New(kind Kind, pos geom.Point) *Element {
	el := &Element{
		ID:       NewID(),
		Kind:     kind,
		Position: pos,
		Visible:  true,
		Geometry: DefaultGeometry(kind),
	}
	el.Normalize()
	return el
}

// Clone returns a deep copy of the element.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	out := *e
	out.Style = e.Style.Clone()
	if e.Geometry != nil {
		out.Geometry = e.Geometry.clone()
	}
	return &out
}

// Size returns the element's box size. Path-like kinds report their
// bounds size.
func (e *Element) Size() geom.Size {
	switch g := e.Geometry.(type) {
	case *Shape:
		return g.Size
	case *TextBlock:
		return g.Size
	default:
		return geom.Size{Width: e.Bounds.Width, Height: e.Bounds.Height}
	}
}

// Normalize fills in missing geometry, applies per-kind size rules and
// recomputes Bounds from the true geometry.
func (e *Element) Normalize() {
	if e.Geometry == nil || !e.Kind.Accepts(e.Geometry) {
		e.Geometry = DefaultGeometry(e.Kind)
	}
	switch g := e.Geometry.(type) {
	case *Shape:
		if g.Size.IsZero() {
			g.Size = e.Kind.DefaultSize()
		}
		if e.Kind == KindCircle {
			side := max(g.Size.Width, g.Size.Height)
			g.Size = geom.Size{Width: side, Height: side}
		}
	case *TextBlock:
		if g.FontSize <= 0 {
			g.FontSize = DefaultFontSize
		}
		if g.Size.IsZero() {
			if e.Kind == KindStickyNote {
				g.Size = e.Kind.DefaultSize()
			} else {
				g.Size = MeasureText(g.Text, g.FontSize)
			}
		}
	}
	e.Bounds = e.Geometry.bounds(e.Position, e.Rotation)
}

// String returns a short description for logs.
func (e *Element) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.ID)
}
