// Package render holds what the painters share: colour parsing for style
// attributes and flattening a scene graph into absolutely positioned items.
package render

import (
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/scene"
)

// Paint is a parsed colour with its alpha.
type Paint struct {
	Color colorful.Color
	Alpha float64
}

// ParseColor parses "#rgb", "#rrggbb" and "#rrggbbaa". Empty strings,
// "none" and "transparent" report false.
func ParseColor(s string) (Paint, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none", "transparent":
		return Paint{}, false
	}
	alpha := 1.0
	if len(s) == 9 && s[0] == '#' {
		a, err := strconv.ParseUint(s[7:], 16, 8)
		if err != nil {
			return Paint{}, false
		}
		alpha = float64(a) / 255
		s = s[:7]
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return Paint{}, false
	}
	return Paint{Color: c, Alpha: alpha}, alpha > 0
}

// MustColor parses s, falling back to def when s is not a colour.
func MustColor(s string, def colorful.Color) colorful.Color {
	if p, ok := ParseColor(s); ok {
		return p.Color
	}
	return def
}

// Item is a drawable node with its position resolved against its parents.
// Origin is in world coordinates of the item's layer.
type Item struct {
	Layer  scene.LayerID
	Node   scene.Node
	Origin geom.Point
	// Pivot is the centre rotation applies about: the centre of the
	// top-level node the item belongs to.
	Pivot geom.Point
}

// Box is the item's unrotated world box. Path and line items report the
// box around their points.
func (it Item) Box() geom.Rect {
	switch it.Node.Kind() {
	case scene.KindPath, scene.KindLine:
		pts := scene.Points(it.Node)
		if len(pts) == 0 {
			return geom.Rect{X: it.Origin.X, Y: it.Origin.Y}
		}
		return geom.RectFromPoints(it.Points()...)
	}
	sz := it.Node.Size()
	return geom.RectFromPoints(it.Origin, geom.Pt(it.Origin.X+sz.Width, it.Origin.Y+sz.Height))
}

// Points returns the node's points offset by Origin.
func (it Item) Points() []geom.Point {
	pts := scene.Points(it.Node)
	out := make([]geom.Point, len(pts))
	for i, p := range pts {
		out[i] = it.Origin.Add(p)
	}
	return out
}

// Opacity multiplies the opacity attributes of the node and its ancestors.
func (it Item) Opacity() float64 {
	o := 1.0
	for n := it.Node; n != nil; n = n.Parent() {
		o *= geom.Clamp(scene.Float(n, scene.AttrOpacity, 1), 0, 1)
	}
	return o
}

// Flatten lists every visible leaf node of the given layers in paint
// order. Groups are descended with their position added to their
// children's. With no layers given, all layers are walked.
func Flatten(g scene.Graph, layers ...scene.LayerID) []Item {
	if len(layers) == 0 {
		layers = scene.Layers()
	}
	var out []Item
	for _, id := range layers {
		l := g.Layer(id)
		if l == nil {
			continue
		}
		for _, n := range l.Root().Children() {
			out = flatten(out, id, n, geom.Point{}, nil)
		}
	}
	return out
}

func flatten(out []Item, layer scene.LayerID, n scene.Node, parent geom.Point, pivot *geom.Point) []Item {
	if n.Destroyed() || !n.Visible() {
		return out
	}
	origin := parent.Add(n.Position())
	if n.Kind() == scene.KindGroup {
		if pivot == nil {
			sz := n.Size()
			c := geom.Pt(origin.X+sz.Width/2, origin.Y+sz.Height/2)
			pivot = &c
		}
		for _, c := range n.Children() {
			out = flatten(out, layer, c, origin, pivot)
		}
		return out
	}
	it := Item{Layer: layer, Node: n, Origin: origin}
	if pivot != nil {
		it.Pivot = *pivot
	} else {
		it.Pivot = it.Box().Center()
	}
	return append(out, it)
}

// Rotation returns the summed rotation of the node and its ancestors.
func (it Item) Rotation() float64 {
	r := 0.0
	for n := it.Node; n != nil; n = n.Parent() {
		r += n.Rotation()
	}
	return r
}
