package element

import (
	"slices"

	"github.com/dshills/whiteboard/internal/geom"
)

// Patch is a partial update. Nil fields are left unchanged. Style entries
// are merged; a nil value removes the key.
type Patch struct {
	Position *geom.Point
	Size     *geom.Size
	Rotation *float64
	Visible  *bool
	Locked   *bool
	Style    Style

	// Text applies to text and sticky-note kinds.
	Text     *string
	FontSize *float64

	// Points replaces the point list of stroke kinds.
	Points []geom.Point
	// StrokeWidth applies to stroke and connector kinds.
	StrokeWidth *float64

	// Start and End apply to connectors.
	Start *geom.Point
	End   *geom.Point
	From  *ID
	To    *ID
}

// IsEmpty returns true if the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Position == nil && p.Size == nil && p.Rotation == nil &&
		p.Visible == nil && p.Locked == nil && len(p.Style) == 0 &&
		p.Text == nil && p.FontSize == nil && p.Points == nil &&
		p.StrokeWidth == nil && p.Start == nil && p.End == nil &&
		p.From == nil && p.To == nil
}

// Apply returns a normalized copy of el with the patch merged in. Fields
// that do not apply to the element's geometry variant are ignored.
func (p Patch) Apply(el *Element) *Element {
	out := el.Clone()
	if p.Position != nil {
		out.Position = *p.Position
	}
	if p.Rotation != nil {
		out.Rotation = *p.Rotation
	}
	if p.Visible != nil {
		out.Visible = *p.Visible
	}
	if p.Locked != nil {
		out.Locked = *p.Locked
	}
	if len(p.Style) > 0 {
		if out.Style == nil {
			out.Style = make(Style, len(p.Style))
		}
		for k, v := range p.Style {
			if v == nil {
				delete(out.Style, k)
				continue
			}
			out.Style[k] = v
		}
	}

	switch g := out.Geometry.(type) {
	case *Shape:
		if p.Size != nil {
			g.Size = *p.Size
		}
	case *TextBlock:
		if p.FontSize != nil {
			g.FontSize = *p.FontSize
		}
		if p.Text != nil {
			g.Text = *p.Text
			if out.Kind == KindText && p.Size == nil {
				g.Size = MeasureText(g.Text, g.FontSize)
			}
		}
		if p.Size != nil {
			g.Size = *p.Size
		}
	case *Stroke:
		if p.Points != nil {
			g.Points = slices.Clone(p.Points)
		}
		if p.StrokeWidth != nil {
			g.Width = *p.StrokeWidth
		}
	case *Connector:
		if p.Start != nil {
			g.Start = *p.Start
		}
		if p.End != nil {
			g.End = *p.End
		}
		if p.From != nil {
			g.From = *p.From
		}
		if p.To != nil {
			g.To = *p.To
		}
		if p.StrokeWidth != nil {
			g.Width = *p.StrokeWidth
		}
	}

	out.Normalize()
	return out
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T {
	return &v
}
