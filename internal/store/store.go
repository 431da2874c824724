// Package store holds the authoritative document model: element data keyed
// by identity plus the paint order.
//
// Every mutating call publishes a new immutable Document that shares
// untouched substructure with the previous one, then notifies subscribers
// synchronously in registration order. Subscribers receive the list of
// per-element changes, which the history engine turns into reversible ops.
package store

import (
	"slices"
	"sync"

	"github.com/dshills/whiteboard/internal/element"
)

// Change records one element transition. Before or After is nil when the
// element was absent on that side; the indices are paint positions (-1
// when absent).
type Change struct {
	ID          element.ID
	Before      *element.Element
	After       *element.Element
	BeforeIndex int
	AfterIndex  int
}

// IsCreate returns true if the change added the element.
func (c Change) IsCreate() bool { return c.Before == nil && c.After != nil }

// IsRemove returns true if the change deleted the element.
func (c Change) IsRemove() bool { return c.Before != nil && c.After == nil }

// Invert swaps the before and after sides.
func (c Change) Invert() Change {
	return Change{
		ID:          c.ID,
		Before:      c.After,
		After:       c.Before,
		BeforeIndex: c.AfterIndex,
		AfterIndex:  c.BeforeIndex,
	}
}

// Event is delivered to subscribers after each mutation.
type Event struct {
	Doc     *Document
	Prev    *Document
	Changes []Change

	// Reset is set when the whole document was replaced, e.g. on load.
	Reset bool
}

// Listener receives store events.
type Listener func(Event)

type subscriber struct {
	id uint64
	fn Listener
}

// Store owns the current Document.
type Store struct {
	mu     sync.Mutex
	doc    *Document
	subs   []subscriber
	nextID uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{doc: emptyDocument()}
}

// Doc returns the current document snapshot.
func (s *Store) Doc() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
	}
}

// Upsert inserts el (appending to the paint order) or replaces the element
// with the same id in place. The stored copy is normalized so its bounds are
// current. An empty id is ignored and returns "".
func (s *Store) Upsert(el *element.Element) element.ID {
	if el == nil || !el.ID.IsValid() {
		return ""
	}
	next := el.Clone()
	next.Normalize()

	s.mu.Lock()
	prev := s.doc
	doc := prev.derive()
	before, existed := prev.Get(next.ID)
	doc.put(next)
	change := Change{ID: next.ID, Before: before, After: next, BeforeIndex: -1}
	if existed {
		change.BeforeIndex = prev.IndexOf(next.ID)
		change.AfterIndex = change.BeforeIndex
	} else {
		doc.setOrder(insertOrder(prev.order.ids, next.ID, -1))
		change.AfterIndex = len(prev.order.ids)
	}
	s.publishLocked(doc, prev, []Change{change}, false)
	return next.ID
}

// Update merges patch into the element with the given id.
func (s *Store) Update(id element.ID, patch element.Patch) error {
	s.mu.Lock()
	prev := s.doc
	before, ok := prev.Get(id)
	if !ok {
		s.mu.Unlock()
		return &OpError{Op: "update", ID: id, Err: ErrNotFound}
	}
	after := patch.Apply(before)
	doc := prev.derive()
	doc.put(after)
	idx := prev.IndexOf(id)
	s.publishLocked(doc, prev, []Change{{ID: id, Before: before, After: after, BeforeIndex: idx, AfterIndex: idx}}, false)
	return nil
}

// Remove deletes the element with the given id. Removing an absent id is a
// no-op.
func (s *Store) Remove(id element.ID) {
	s.RemoveMany(id)
}

// RemoveMany deletes several elements in one snapshot. Absent ids are
// skipped; if none are present nothing is published.
func (s *Store) RemoveMany(ids ...element.ID) {
	s.mu.Lock()
	prev := s.doc
	doc := prev.derive()
	order := prev.order.ids
	var changes []Change
	for _, id := range ids {
		before, ok := doc.Get(id)
		if !ok {
			continue
		}
		var idx int
		order, idx = removeOrder(order, id)
		doc.del(id)
		changes = append(changes, Change{ID: id, Before: before, BeforeIndex: idx, AfterIndex: -1})
	}
	if len(changes) == 0 {
		s.mu.Unlock()
		return
	}
	doc.setOrder(order)
	s.publishLocked(doc, prev, changes, false)
}

// Reorder moves id to paint position index (clamped to the valid range).
func (s *Store) Reorder(id element.ID, index int) error {
	s.mu.Lock()
	prev := s.doc
	el, ok := prev.Get(id)
	if !ok {
		s.mu.Unlock()
		return &OpError{Op: "reorder", ID: id, Err: ErrNotFound}
	}
	rest, from := removeOrder(prev.order.ids, id)
	if index < 0 {
		index = 0
	}
	if index > len(rest) {
		index = len(rest)
	}
	if index == from {
		s.mu.Unlock()
		return nil
	}
	doc := prev.derive()
	doc.setOrder(insertOrder(rest, id, index))
	s.publishLocked(doc, prev, []Change{{ID: id, Before: el, After: el, BeforeIndex: from, AfterIndex: index}}, false)
	return nil
}

// BringToFront moves id to the end of the paint order.
func (s *Store) BringToFront(id element.ID) error {
	return s.Reorder(id, s.Doc().Len())
}

// SendToBack moves id to the start of the paint order.
func (s *Store) SendToBack(id element.ID) error {
	return s.Reorder(id, 0)
}

// Replace swaps in a whole new document built from els and emits a reset
// event.
func (s *Store) Replace(els []*element.Element) {
	next := NewDocument(els)
	s.mu.Lock()
	prev := s.doc
	next.version = prev.version + 1
	s.publishLocked(next, prev, nil, true)
}

// Clear removes every element.
func (s *Store) Clear() {
	s.Replace(nil)
}

// Apply moves the store to the After side of c. It is used by history
// replay; the element is placed at c.AfterIndex.
func (s *Store) Apply(c Change) {
	s.mu.Lock()
	prev := s.doc
	doc := prev.derive()
	current, present := prev.Get(c.ID)
	order := prev.order.ids
	from := -1
	if present {
		order, from = removeOrder(order, c.ID)
	}
	if c.After == nil {
		if !present {
			s.mu.Unlock()
			return
		}
		doc.del(c.ID)
		doc.setOrder(order)
		s.publishLocked(doc, prev, []Change{{ID: c.ID, Before: current, BeforeIndex: from, AfterIndex: -1}}, false)
		return
	}
	doc.put(c.After)
	doc.setOrder(insertOrder(order, c.ID, c.AfterIndex))
	idx := doc.IndexOf(c.ID)
	s.publishLocked(doc, prev, []Change{{ID: c.ID, Before: current, After: c.After, BeforeIndex: from, AfterIndex: idx}}, false)
}

// publishLocked installs doc and notifies subscribers after releasing the
// lock so listeners may call back into the store.
func (s *Store) publishLocked(doc, prev *Document, changes []Change, reset bool) {
	s.doc = doc
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	ev := Event{Doc: doc, Prev: prev, Changes: changes, Reset: reset}
	for _, sub := range subs {
		sub.fn(ev)
	}
}
