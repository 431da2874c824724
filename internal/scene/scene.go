// Package scene defines the capability set the reconciler needs from a
// retained-mode graphics library.
//
// A Graph has five fixed layers painted bottom to top. Each layer owns a
// root group node; nodes attach under it and are patched in place. Only the
// reconciler mutates nodes.
package scene

import (
	"fmt"

	"github.com/dshills/whiteboard/internal/geom"
)

// LayerID identifies one of the ordered layers.
type LayerID uint8

// Layers in paint order.
const (
	LayerBackground LayerID = iota
	LayerMain
	LayerHighlighter
	LayerPreview
	LayerOverlay

	layerCount
)

// LayerCount is the number of layers in a graph.
const LayerCount = int(layerCount)

// Layers returns every layer id in paint order.
func Layers() []LayerID {
	return []LayerID{LayerBackground, LayerMain, LayerHighlighter, LayerPreview, LayerOverlay}
}

var layerNames = [...]string{"background", "main", "highlighter", "preview", "overlay"}

// String returns the layer name.
func (l LayerID) String() string {
	if int(l) < len(layerNames) {
		return layerNames[l]
	}
	return fmt.Sprintf("layer(%d)", uint8(l))
}

// ParseLayer returns the layer with the given name.
func ParseLayer(name string) (LayerID, bool) {
	for i, n := range layerNames {
		if n == name {
			return LayerID(i), true
		}
	}
	return 0, false
}

// Kind is a node's drawing primitive.
type Kind string

// Node kinds.
const (
	KindGroup   Kind = "group"
	KindRect    Kind = "rect"
	KindEllipse Kind = "ellipse"
	KindPath    Kind = "path"
	KindLine    Kind = "line"
	KindText    Kind = "text"
)

// Common attribute names.
const (
	AttrStroke      = "stroke"
	AttrFill        = "fill"
	AttrStrokeWidth = "strokeWidth"
	AttrOpacity     = "opacity"
	AttrPoints      = "points"
	AttrText        = "text"
	AttrFontSize    = "fontSize"
	AttrDash        = "dash"
	AttrBlend       = "blend"
	AttrCorner      = "cornerRadius"
)

// Node is a retained drawing object.
type Node interface {
	// Key is the element identity the node represents, "" for decoration.
	Key() string
	SetKey(key string)

	Kind() Kind

	Position() geom.Point
	SetPosition(p geom.Point)
	Size() geom.Size
	SetSize(s geom.Size)
	Rotation() float64
	SetRotation(r float64)
	Visible() bool
	SetVisible(v bool)

	Attr(name string) (any, bool)
	SetAttr(name string, v any)

	Parent() Node
	Children() []Node
	Add(child Node)
	Remove(child Node)
	// MoveTo reorders an attached child to index, clamped.
	MoveTo(child Node, index int)

	// Destroy detaches the node and its children. A destroyed node must
	// not be used again.
	Destroy()
	Destroyed() bool
}

// Transform is a uniform scale followed by a translation.
type Transform struct {
	X, Y  float64
	Scale float64
}

// Identity is the transform that maps world to stage unchanged.
var Identity = Transform{Scale: 1}

// Apply maps p through the transform.
func (t Transform) Apply(p geom.Point) geom.Point {
	return geom.Point{X: p.X*t.Scale + t.X, Y: p.Y*t.Scale + t.Y}
}

// Layer is one paint tier.
type Layer interface {
	ID() LayerID

	// Root is the group every layer node attaches under.
	Root() Node

	// NewNode creates a detached node of the given kind.
	NewNode(kind Kind) Node

	Transform() Transform
	SetTransform(t Transform)

	// RequestRedraw asks the library to repaint the layer.
	RequestRedraw()
}

// Graph is the full layered scene.
type Graph interface {
	Layer(id LayerID) Layer
}

// Walk calls fn for n and every descendant, depth first in child order.
// Returning false skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, fn)
	}
}

// FindKey returns the first node under root whose key is key.
func FindKey(root Node, key string) Node {
	var found Node
	Walk(root, func(n Node) bool {
		if found != nil {
			return false
		}
		if n != root && n.Key() == key {
			found = n
			return false
		}
		return true
	})
	return found
}

// Float reads a numeric attribute.
func Float(n Node, name string, def float64) float64 {
	v, ok := n.Attr(name)
	if !ok {
		return def
	}
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	}
	return def
}

// String reads a string attribute.
func String(n Node, name, def string) string {
	if v, ok := n.Attr(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Points reads a point-list attribute.
func Points(n Node) []geom.Point {
	if v, ok := n.Attr(AttrPoints); ok {
		if pts, ok := v.([]geom.Point); ok {
			return pts
		}
	}
	return nil
}
