// Package selection tracks which elements are selected.
//
// The selection is always a subset of the live element ids: the manager
// listens to the store and drops ids whose elements are removed. Those
// pruning updates are marked Derived so they are not recorded as history
// ops; explicit changes (Set, Clear, Toggle, Add, Remove) are not.
package selection

import (
	"maps"
	"slices"
	"sync"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/history"
	"github.com/dshills/whiteboard/internal/store"
)

// Event describes a selection change.
type Event struct {
	Before []element.ID
	After  []element.ID

	// Derived is set when the change followed from a store mutation.
	Derived bool
}

// Listener receives selection events.
type Listener func(Event)

type subscriber struct {
	id uint64
	fn Listener
}

// Manager owns the selection set for one store.
type Manager struct {
	store *store.Store

	mu     sync.Mutex
	ids    map[element.ID]struct{}
	subs   []subscriber
	nextID uint64

	unsubscribe func()
}

// New creates a manager bound to st.
func New(st *store.Store) *Manager {
	m := &Manager{
		store: st,
		ids:   make(map[element.ID]struct{}),
	}
	m.unsubscribe = st.Subscribe(m.onStore)
	return m
}

// Close detaches the manager from its store.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// Subscribe registers fn and returns a function that removes it.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subs = slices.DeleteFunc(m.subs, func(s subscriber) bool { return s.id == id })
	}
}

// Set replaces the selection. Ids not present in the store are ignored.
func (m *Manager) Set(ids ...element.ID) {
	doc := m.store.Doc()
	m.replace(func(cur map[element.ID]struct{}) map[element.ID]struct{} {
		next := make(map[element.ID]struct{}, len(ids))
		for _, id := range ids {
			if doc.Has(id) {
				next[id] = struct{}{}
			}
		}
		return next
	}, false, nil)
}

// Clear empties the selection.
func (m *Manager) Clear() {
	m.replace(func(map[element.ID]struct{}) map[element.ID]struct{} {
		return make(map[element.ID]struct{})
	}, false, nil)
}

// Toggle flips the selection state of id.
func (m *Manager) Toggle(id element.ID) {
	doc := m.store.Doc()
	m.replace(func(cur map[element.ID]struct{}) map[element.ID]struct{} {
		next := maps.Clone(cur)
		if _, ok := next[id]; ok {
			delete(next, id)
		} else if doc.Has(id) {
			next[id] = struct{}{}
		}
		return next
	}, false, nil)
}

// Add selects ids in addition to the current selection.
func (m *Manager) Add(ids ...element.ID) {
	doc := m.store.Doc()
	m.replace(func(cur map[element.ID]struct{}) map[element.ID]struct{} {
		next := maps.Clone(cur)
		for _, id := range ids {
			if doc.Has(id) {
				next[id] = struct{}{}
			}
		}
		return next
	}, false, nil)
}

// Remove deselects ids.
func (m *Manager) Remove(ids ...element.ID) {
	m.replace(func(cur map[element.ID]struct{}) map[element.ID]struct{} {
		next := maps.Clone(cur)
		for _, id := range ids {
			delete(next, id)
		}
		return next
	}, false, nil)
}

// Contains returns true if id is selected.
func (m *Manager) Contains(id element.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok
}

// Len returns the number of selected elements.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}

// IsEmpty returns true if nothing is selected.
func (m *Manager) IsEmpty() bool {
	return m.Len() == 0
}

// IDs returns the selected ids in paint order.
func (m *Manager) IDs() []element.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderedLocked(m.store.Doc())
}

// Bounds returns the union of the selected elements' bounds.
func (m *Manager) Bounds() (geom.Rect, bool) {
	doc := m.store.Doc()
	m.mu.Lock()
	ids := m.orderedLocked(doc)
	m.mu.Unlock()

	rects := make([]geom.Rect, 0, len(ids))
	for _, id := range ids {
		if el, ok := doc.Get(id); ok {
			rects = append(rects, el.Bounds)
		}
	}
	return geom.UnionAll(rects)
}

func (m *Manager) orderedLocked(doc *store.Document) []element.ID {
	out := make([]element.ID, 0, len(m.ids))
	for _, id := range doc.Order() {
		if _, ok := m.ids[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Op returns a history op that moves the selection between two states.
func (m *Manager) Op(before, after []element.ID) history.Op {
	return &Op{manager: m, before: slices.Clone(before), after: slices.Clone(after)}
}

// Op restores a recorded selection state.
type Op struct {
	manager *Manager
	before  []element.ID
	after   []element.ID
}

// Undo selects the before state.
func (o *Op) Undo() error {
	o.manager.Set(o.before...)
	return nil
}

// Redo selects the after state.
func (o *Op) Redo() error {
	o.manager.Set(o.after...)
	return nil
}

// Merge folds consecutive selection changes into one.
func (o *Op) Merge(next history.Op) (history.Op, bool) {
	n, ok := next.(*Op)
	if !ok || n.manager != o.manager {
		return nil, false
	}
	return &Op{manager: o.manager, before: o.before, after: n.after}, true
}

// onStore drops ids of removed elements.
func (m *Manager) onStore(ev store.Event) {
	m.replace(func(cur map[element.ID]struct{}) map[element.ID]struct{} {
		if len(cur) == 0 {
			return cur
		}
		if ev.Reset {
			return make(map[element.ID]struct{})
		}
		var next map[element.ID]struct{}
		for _, c := range ev.Changes {
			if !c.IsRemove() {
				continue
			}
			if _, ok := cur[c.ID]; !ok {
				continue
			}
			if next == nil {
				next = maps.Clone(cur)
			}
			delete(next, c.ID)
		}
		if next == nil {
			return cur
		}
		return next
	}, true, &ev)
}

// replace computes the next set under the lock and publishes an event if it
// differs from the current one. ev carries the documents to order the
// before and after lists by when the change follows a store event.
func (m *Manager) replace(fn func(map[element.ID]struct{}) map[element.ID]struct{}, derived bool, ev *store.Event) {
	prev, doc := m.store.Doc(), m.store.Doc()
	if ev != nil {
		prev, doc = ev.Prev, ev.Doc
	}

	m.mu.Lock()
	cur := m.ids
	next := fn(cur)
	if sameSet(cur, next) {
		m.mu.Unlock()
		return
	}
	before := m.orderedLocked(prev)
	m.ids = next
	after := m.orderedLocked(doc)
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	out := Event{Before: before, After: after, Derived: derived}
	for _, s := range subs {
		s.fn(out)
	}
}

func sameSet(a, b map[element.ID]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
