package reconcile

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/scene"
	"github.com/dshills/whiteboard/internal/store"
)

// ErrDuplicateIdentity marks a scene node that claimed an element id
// already held by another node.
var ErrDuplicateIdentity = errors.New("duplicate identity")

// Filter selects which elements a module draws.
type Filter func(*element.Element) bool

// record is what an element module knows about one element's node. el is
// the element value the node currently reflects.
type record struct {
	node   scene.Node
	el     *element.Element
	failed bool
}

// ElementModule maps document elements onto one layer, keyed by element
// id. A node is created when an id appears, patched when the element value
// changes and destroyed when the id leaves the document.
type ElementModule struct {
	name    string
	layer   scene.LayerID
	filter  Filter
	builder Builder

	lastDoc *store.Document
	nodes   map[element.ID]*record
	order   []element.ID
	dupSeq  int
}

var (
	_ Module   = (*ElementModule)(nil)
	_ Resetter = (*ElementModule)(nil)
	_ Closer   = (*ElementModule)(nil)
)

// NewElementModule creates a module drawing the elements accepted by
// filter. A nil filter accepts all and a nil builder uses NodeBuilder.
func NewElementModule(name string, layer scene.LayerID, filter Filter, builder Builder) *ElementModule {
	if filter == nil {
		filter = func(*element.Element) bool { return true }
	}
	if builder == nil {
		builder = NodeBuilder{}
	}
	return &ElementModule{
		name:    name,
		layer:   layer,
		filter:  filter,
		builder: builder,
		nodes:   make(map[element.ID]*record),
	}
}

// Name returns the module name.
func (m *ElementModule) Name() string { return m.name }

// Layers returns the module's single layer.
func (m *ElementModule) Layers() []scene.LayerID { return []scene.LayerID{m.layer} }

// Node returns the node drawn for id.
func (m *ElementModule) Node(id element.ID) (scene.Node, bool) {
	rec, ok := m.nodes[id]
	if !ok || rec.node == nil {
		return nil, false
	}
	return rec.node, true
}

// Len returns the number of tracked elements.
func (m *ElementModule) Len() int { return len(m.nodes) }

// Reset makes the next Update re-check every element.
func (m *ElementModule) Reset() {
	m.lastDoc = nil
}

// Update diffs in.Doc against the tracked nodes.
func (m *ElementModule) Update(ctx *Context, in Input) (bool, error) {
	doc := in.Doc
	if doc == m.lastDoc {
		return false, nil
	}
	layer := ctx.Layer(m.layer)
	if layer == nil {
		return false, fmt.Errorf("layer %s not available", m.layer)
	}
	root := layer.Root()

	changed := false
	var failures []error

	// Removed, or no longer accepted by the filter.
	for id, rec := range m.nodes {
		el, ok := doc.Get(id)
		if ok && m.filter(el) {
			continue
		}
		if rec.node != nil {
			rec.node.Destroy()
			ctx.Destroyed(m.layer)
		}
		delete(m.nodes, id)
		changed = true
	}

	order := make([]element.ID, 0, doc.Len())
	for _, el := range doc.Ordered() {
		if !m.filter(el) {
			continue
		}
		order = append(order, el.ID)

		rec, ok := m.nodes[el.ID]
		switch {
		case ok && rec.el == el:
			continue
		case ok && rec.node != nil:
			if err := m.patch(rec, el); err != nil {
				failures = append(failures, err)
				ctx.Logger().Warn("patch element failed", "id", el.ID, "error", err)
			} else {
				ctx.Patched(m.layer)
			}
			changed = true
		default:
			node, err := m.build(layer, el)
			if err != nil {
				m.nodes[el.ID] = &record{el: el, failed: true}
				failures = append(failures, err)
				ctx.Logger().Warn("build element failed", "id", el.ID, "error", err)
				changed = true
				continue
			}
			root.Add(node)
			m.nodes[el.ID] = &record{node: node, el: el}
			ctx.Created(m.layer)
			changed = true
		}
	}

	if changed || !slices.Equal(order, m.order) {
		m.syncOrder(root, order)
		changed = true
	}
	m.order = order

	if n := m.recoverIdentities(ctx, root); n > 0 {
		changed = true
	}

	m.lastDoc = doc
	// Failed elements keep their record and are retried once their value
	// changes; the rest of the layer is already in place.
	return changed, errors.Join(failures...)
}

// patch updates rec's node from el, containing builder panics.
func (m *ElementModule) patch(rec *record, el *element.Element) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("element %s: panic: %v", el.ID, p)
		}
		rec.el = el
		rec.failed = err != nil
	}()
	return m.builder.Patch(rec.node, rec.el, el)
}

// build creates the node for el, containing builder panics.
func (m *ElementModule) build(layer scene.Layer, el *element.Element) (node scene.Node, err error) {
	defer func() {
		if p := recover(); p != nil {
			node, err = nil, fmt.Errorf("element %s: panic: %v", el.ID, p)
		}
	}()
	node, err = m.builder.Build(layer, el)
	if err == nil && node == nil {
		err = fmt.Errorf("element %s: builder returned no node", el.ID)
	}
	return node, err
}

// syncOrder makes the module's nodes follow paint order. Nodes owned by
// others keep their relative place after the module's nodes.
func (m *ElementModule) syncOrder(root scene.Node, order []element.ID) {
	i := 0
	for _, id := range order {
		rec := m.nodes[id]
		if rec == nil || rec.node == nil {
			continue
		}
		root.MoveTo(rec.node, i)
		i++
	}
}

// recoverIdentities re-keys every node that claims an id already claimed
// by an earlier node in the layer. If the module's own node is the later
// claimant, the module adopts the earlier node and re-patches it.
func (m *ElementModule) recoverIdentities(ctx *Context, root scene.Node) int {
	seen := make(map[string]scene.Node)
	fixed := 0
	for _, n := range root.Children() {
		key := n.Key()
		if key == "" {
			continue
		}
		first, dup := seen[key]
		if !dup {
			seen[key] = n
			continue
		}
		m.dupSeq++
		newKey := fmt.Sprintf("%s~dup%d", key, m.dupSeq)
		n.SetKey(newKey)
		fixed++
		ctx.r.noteDuplicate()
		ctx.Logger().Warn("duplicate scene identity", "key", key, "reassigned", newKey,
			"error", ErrDuplicateIdentity)

		rec := m.nodes[element.ID(key)]
		if rec != nil && rec.node == n {
			prev := rec.el
			rec.node = first
			if err := m.patch(rec, prev); err == nil {
				ctx.Patched(m.layer)
			}
		}
	}
	return fixed
}

// Close destroys every node the module owns.
func (m *ElementModule) Close(ctx *Context) {
	for id, rec := range m.nodes {
		if rec.node != nil {
			rec.node.Destroy()
			ctx.Destroyed(m.layer)
		}
		delete(m.nodes, id)
	}
	m.order = nil
	m.lastDoc = nil
}

// RecoverIdentities scans every layer for duplicate element keys and
// re-keys the later claimants. It returns the number of nodes re-keyed.
func (r *Reconciler) RecoverIdentities() int {
	r.mu.Lock()
	mods := slices.Clone(r.modules)
	r.mu.Unlock()

	total := 0
	for _, ms := range mods {
		em, ok := ms.module.(*ElementModule)
		if !ok {
			continue
		}
		layer := r.graph.Layer(em.layer)
		if layer == nil {
			continue
		}
		if n := em.recoverIdentities(&Context{r: r, module: em.name}, layer.Root()); n > 0 {
			total += n
			r.invalidate(em.layer)
		}
	}
	return total
}

func (r *Reconciler) noteDuplicate() {
	r.mu.Lock()
	r.stats.Duplicates++
	r.mu.Unlock()
	r.metrics.duplicate()
}
