// Package retained is an in-memory scene graph. It is the default sink for
// the reconciler; painters walk it to produce pixels or terminal cells.
package retained

import (
	"maps"
	"slices"
	"sync"

	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/scene"
)

// Stats counts node lifecycle and redraw traffic.
type Stats struct {
	Created   int
	Destroyed int
	Redraws   [scene.LayerCount]int
}

// Graph holds five layers.
type Graph struct {
	mu       sync.Mutex
	layers   [scene.LayerCount]*Layer
	stats    Stats
	onRedraw []func(scene.LayerID)
}

var _ scene.Graph = (*Graph)(nil)

// New creates an empty graph.
func New() *Graph {
	g := &Graph{}
	for _, id := range scene.Layers() {
		l := &Layer{graph: g, id: id, transform: scene.Identity}
		l.root = &Node{layer: l, kind: scene.KindGroup, visible: true}
		g.layers[id] = l
	}
	return g
}

// Layer returns the layer with the given id.
func (g *Graph) Layer(id scene.LayerID) scene.Layer {
	if int(id) >= scene.LayerCount {
		return nil
	}
	return g.layers[id]
}

// Stats returns a copy of the counters.
func (g *Graph) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// ResetStats zeroes the counters.
func (g *Graph) ResetStats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats = Stats{}
}

// OnRedraw registers fn to be called for every redraw request.
func (g *Graph) OnRedraw(fn func(scene.LayerID)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRedraw = append(g.onRedraw, fn)
}

// NodeCount returns the number of live nodes in a layer, excluding its root.
func (g *Graph) NodeCount(id scene.LayerID) int {
	n := -1
	scene.Walk(g.layers[id].root, func(scene.Node) bool { n++; return true })
	return n
}

func (g *Graph) count(fn func(*Stats)) {
	g.mu.Lock()
	fn(&g.stats)
	g.mu.Unlock()
}

// Layer is one tier of the graph.
type Layer struct {
	graph     *Graph
	id        scene.LayerID
	root      *Node
	transform scene.Transform
}

var _ scene.Layer = (*Layer)(nil)

// ID returns the layer id.
func (l *Layer) ID() scene.LayerID { return l.id }

// Root returns the layer group.
func (l *Layer) Root() scene.Node { return l.root }

// NewNode creates a detached node.
func (l *Layer) NewNode(kind scene.Kind) scene.Node {
	l.graph.count(func(s *Stats) { s.Created++ })
	return &Node{layer: l, kind: kind, visible: true}
}

// Transform returns the layer transform.
func (l *Layer) Transform() scene.Transform { return l.transform }

// SetTransform replaces the layer transform.
func (l *Layer) SetTransform(t scene.Transform) { l.transform = t }

// RequestRedraw records the request and notifies OnRedraw hooks.
func (l *Layer) RequestRedraw() {
	g := l.graph
	g.mu.Lock()
	g.stats.Redraws[l.id]++
	hooks := slices.Clone(g.onRedraw)
	g.mu.Unlock()
	for _, fn := range hooks {
		fn(l.id)
	}
}

// Node is a retained drawing object.
type Node struct {
	layer *Layer

	key      string
	kind     scene.Kind
	pos      geom.Point
	size     geom.Size
	rotation float64
	visible  bool
	attrs    map[string]any

	parent    *Node
	children  []*Node
	destroyed bool
}

var _ scene.Node = (*Node)(nil)

// Key returns the claimed element identity.
func (n *Node) Key() string { return n.key }

// SetKey sets the claimed element identity.
func (n *Node) SetKey(key string) { n.key = key }

// Kind returns the node primitive.
func (n *Node) Kind() scene.Kind { return n.kind }

// Position returns the node origin.
func (n *Node) Position() geom.Point { return n.pos }

// SetPosition moves the node.
func (n *Node) SetPosition(p geom.Point) { n.pos = p }

// Size returns the node box size.
func (n *Node) Size() geom.Size { return n.size }

// SetSize resizes the node.
func (n *Node) SetSize(s geom.Size) { n.size = s }

// Rotation returns the rotation in radians about the box centre.
func (n *Node) Rotation() float64 { return n.rotation }

// SetRotation sets the rotation.
func (n *Node) SetRotation(r float64) { n.rotation = r }

// Visible reports whether the node paints.
func (n *Node) Visible() bool { return n.visible }

// SetVisible shows or hides the node.
func (n *Node) SetVisible(v bool) { n.visible = v }

// Attr returns a style attribute.
func (n *Node) Attr(name string) (any, bool) {
	v, ok := n.attrs[name]
	return v, ok
}

// SetAttr sets a style attribute; nil deletes it.
func (n *Node) SetAttr(name string, v any) {
	if v == nil {
		delete(n.attrs, name)
		return
	}
	if n.attrs == nil {
		n.attrs = make(map[string]any)
	}
	n.attrs[name] = v
}

// Attrs returns a copy of all attributes.
func (n *Node) Attrs() map[string]any {
	return maps.Clone(n.attrs)
}

// Parent returns the parent node, nil when detached.
func (n *Node) Parent() scene.Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

// Children returns the child nodes in paint order.
func (n *Node) Children() []scene.Node {
	out := make([]scene.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// Add attaches child as the last child, detaching it from any previous
// parent. Nodes from other graphs are ignored.
func (n *Node) Add(child scene.Node) {
	c, ok := child.(*Node)
	if !ok || c == n || c.destroyed || n.destroyed {
		return
	}
	if c.parent != nil {
		c.parent.detach(c)
	}
	c.parent = n
	n.children = append(n.children, c)
}

// Remove detaches child.
func (n *Node) Remove(child scene.Node) {
	if c, ok := child.(*Node); ok && c.parent == n {
		n.detach(c)
	}
}

// MoveTo places child at index among the children.
func (n *Node) MoveTo(child scene.Node, index int) {
	c, ok := child.(*Node)
	if !ok || c.parent != n {
		return
	}
	n.children = slices.DeleteFunc(n.children, func(x *Node) bool { return x == c })
	index = max(0, min(index, len(n.children)))
	n.children = slices.Insert(n.children, index, c)
}

func (n *Node) detach(c *Node) {
	n.children = slices.DeleteFunc(n.children, func(x *Node) bool { return x == c })
	c.parent = nil
}

// Destroy detaches n and destroys its subtree.
func (n *Node) Destroy() {
	if n.destroyed {
		return
	}
	if n.parent != nil {
		n.parent.detach(n)
	}
	n.destroyTree()
}

func (n *Node) destroyTree() {
	for _, c := range n.children {
		c.parent = nil
		c.destroyTree()
	}
	n.children = nil
	n.destroyed = true
	n.layer.graph.count(func(s *Stats) { s.Destroyed++ })
}

// Destroyed reports whether Destroy was called.
func (n *Node) Destroyed() bool { return n.destroyed }
