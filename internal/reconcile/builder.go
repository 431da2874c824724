package reconcile

import (
	"fmt"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/scene"
)

// Builder creates and patches the scene node for one element. Patch is
// given the element the node was last built or patched from.
type Builder interface {
	Build(layer scene.Layer, el *element.Element) (scene.Node, error)
	Patch(node scene.Node, prev, next *element.Element) error
}

// Default style values applied when an element does not set them.
const (
	DefaultStroke        = "#1e1e1e"
	DefaultStickyFill    = "#fff59d"
	DefaultHighlighter   = "#ffeb3b"
	HighlighterOpacity   = 0.4
	HighlighterBlendMode = "multiply"
)

// NodeBuilder is the default Builder for every element kind.
type NodeBuilder struct{}

var _ Builder = NodeBuilder{}

// Build creates a detached node for el.
func (b NodeBuilder) Build(layer scene.Layer, el *element.Element) (scene.Node, error) {
	var n scene.Node
	switch el.Kind {
	case element.KindRectangle:
		n = layer.NewNode(scene.KindRect)
	case element.KindEllipse, element.KindCircle:
		n = layer.NewNode(scene.KindEllipse)
	case element.KindFreehand, element.KindHighlighter:
		n = layer.NewNode(scene.KindPath)
	case element.KindText:
		n = layer.NewNode(scene.KindText)
	case element.KindConnector:
		n = layer.NewNode(scene.KindLine)
	case element.KindStickyNote:
		n = layer.NewNode(scene.KindGroup)
		n.Add(layer.NewNode(scene.KindRect))
		n.Add(layer.NewNode(scene.KindText))
	default:
		return nil, fmt.Errorf("no node for kind %q", el.Kind)
	}
	n.SetKey(string(el.ID))
	if err := b.Patch(n, nil, el); err != nil {
		n.Destroy()
		return nil, err
	}
	return n, nil
}

// Patch copies el's fields onto node.
func (b NodeBuilder) Patch(node scene.Node, prev, next *element.Element) error {
	node.SetPosition(next.Position)
	node.SetRotation(next.Rotation)
	node.SetVisible(next.Visible)

	target := node
	if next.Kind == element.KindStickyNote {
		kids := node.Children()
		if len(kids) != 2 {
			return fmt.Errorf("sticky note %s: malformed node", next.ID)
		}
		target = kids[0]
		node.SetSize(next.Size())
	}

	applyStyle(target, prev, next)

	switch g := next.Geometry.(type) {
	case *element.Shape:
		target.SetSize(g.Size)
	case *element.TextBlock:
		text := node
		if next.Kind == element.KindStickyNote {
			target.SetSize(g.Size)
			text = node.Children()[1]
			text.SetPosition(geom.Point{X: 8, Y: 8})
		}
		text.SetSize(g.Size)
		text.SetAttr(scene.AttrText, g.Text)
		text.SetAttr(scene.AttrFontSize, g.FontSize)
	case *element.Stroke:
		target.SetAttr(scene.AttrPoints, append([]geom.Point(nil), g.Points...))
		target.SetAttr(scene.AttrStrokeWidth, g.Width)
		sz := next.Size()
		target.SetSize(sz)
	case *element.Connector:
		target.SetAttr(scene.AttrPoints, []geom.Point{g.Start, g.End})
		target.SetAttr(scene.AttrStrokeWidth, g.Width)
	default:
		return fmt.Errorf("element %s: unsupported geometry %T", next.ID, next.Geometry)
	}
	return nil
}

// applyStyle copies style entries onto n, removes entries dropped since
// prev and fills kind defaults.
func applyStyle(n scene.Node, prev, next *element.Element) {
	if prev != nil {
		for k := range prev.Style {
			if _, ok := next.Style[k]; !ok {
				n.SetAttr(k, nil)
			}
		}
	}
	for k, v := range next.Style {
		n.SetAttr(k, v)
	}

	switch next.Kind {
	case element.KindStickyNote:
		if _, ok := next.Style[element.StyleFill]; !ok {
			n.SetAttr(scene.AttrFill, DefaultStickyFill)
		}
	case element.KindHighlighter:
		if _, ok := next.Style[element.StyleStroke]; !ok {
			n.SetAttr(scene.AttrStroke, DefaultHighlighter)
		}
		if _, ok := next.Style[element.StyleOpacity]; !ok {
			n.SetAttr(scene.AttrOpacity, HighlighterOpacity)
		}
		n.SetAttr(scene.AttrBlend, HighlighterBlendMode)
	}
	if _, ok := next.Style[element.StyleStroke]; !ok && next.Kind != element.KindHighlighter {
		n.SetAttr(scene.AttrStroke, DefaultStroke)
	}
}
