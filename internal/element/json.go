package element

import (
	"encoding/json"
	"fmt"

	"github.com/dshills/whiteboard/internal/geom"
)

// wireElement is the flat serialized form. Geometry fields are present
// only for the variants that use them.
type wireElement struct {
	ID       ID         `json:"id"`
	Kind     Kind       `json:"kind"`
	Position geom.Point `json:"position"`
	Size     *geom.Size `json:"size,omitempty"`
	Rotation float64    `json:"rotation,omitempty"`
	Visible  bool       `json:"visible"`
	Locked   bool       `json:"locked,omitempty"`
	Bounds   geom.Rect  `json:"bounds"`
	Style    Style      `json:"style,omitempty"`
	Data     *wireData  `json:"data,omitempty"`
}

type wireData struct {
	Text        string       `json:"text,omitempty"`
	FontSize    float64      `json:"fontSize,omitempty"`
	Points      []geom.Point `json:"points,omitempty"`
	StrokeWidth float64      `json:"strokeWidth,omitempty"`
	Start       *geom.Point  `json:"start,omitempty"`
	End         *geom.Point  `json:"end,omitempty"`
	From        ID           `json:"from,omitempty"`
	To          ID           `json:"to,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Element) MarshalJSON() ([]byte, error) {
	w := wireElement{
		ID:       e.ID,
		Kind:     e.Kind,
		Position: e.Position,
		Rotation: e.Rotation,
		Visible:  e.Visible,
		Locked:   e.Locked,
		Bounds:   e.Bounds,
		Style:    e.Style,
	}
	switch g := e.Geometry.(type) {
	case *Shape:
		w.Size = &g.Size
	case *TextBlock:
		w.Size = &g.Size
		w.Data = &wireData{Text: g.Text, FontSize: g.FontSize}
	case *Stroke:
		w.Data = &wireData{Points: g.Points, StrokeWidth: g.Width}
	case *Connector:
		w.Data = &wireData{
			Start:       &g.Start,
			End:         &g.End,
			From:        g.From,
			To:          g.To,
			StrokeWidth: g.Width,
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. The decoded element is
// normalized, so stored bounds are recomputed rather than trusted.
func (e *Element) UnmarshalJSON(data []byte) error {
	var w wireElement
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Kind.IsKnown() {
		return fmt.Errorf("element %q: unknown kind %q", w.ID, w.Kind)
	}

	*e = Element{
		ID:       w.ID,
		Kind:     w.Kind,
		Position: w.Position,
		Rotation: w.Rotation,
		Visible:  w.Visible,
		Locked:   w.Locked,
		Style:    w.Style,
		Geometry: DefaultGeometry(w.Kind),
	}
	d := w.Data
	if d == nil {
		d = &wireData{}
	}
	switch g := e.Geometry.(type) {
	case *Shape:
		if w.Size != nil {
			g.Size = *w.Size
		}
	case *TextBlock:
		if w.Size != nil {
			g.Size = *w.Size
		}
		g.Text = d.Text
		if d.FontSize > 0 {
			g.FontSize = d.FontSize
		}
	case *Stroke:
		g.Points = d.Points
		if d.StrokeWidth > 0 {
			g.Width = d.StrokeWidth
		}
	case *Connector:
		if d.Start != nil {
			g.Start = *d.Start
		}
		if d.End != nil {
			g.End = *d.End
		}
		g.From, g.To = d.From, d.To
		if d.StrokeWidth > 0 {
			g.Width = d.StrokeWidth
		}
	}
	e.Normalize()
	return nil
}
