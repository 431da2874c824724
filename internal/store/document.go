package store

import (
	"slices"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
)

// shardCount is the number of element map partitions. A mutation copies
// only the shard holding the affected id; the rest are shared with the
// previous document.
const shardCount = 32

type shard map[element.ID]*element.Element

// orderList is never modified after it is attached to a document.
type orderList struct {
	ids []element.ID
}

// Document is an immutable snapshot of the element store. Documents share
// unchanged element pointers, shards and order lists with their
// predecessors, so consumers can detect changes with ==.
type Document struct {
	shards  [shardCount]shard
	order   *orderList
	count   int
	version uint64
}

// emptyDocument returns a document with no elements.
func emptyDocument() *Document {
	return &Document{order: &orderList{}}
}

// NewDocument builds a document from elements in paint order. Elements are
// cloned and normalized; later duplicates of an id replace earlier ones
// but keep the first position.
func NewDocument(els []*element.Element) *Document {
	d := emptyDocument()
	ids := make([]element.ID, 0, len(els))
	for _, el := range els {
		if el == nil || !el.ID.IsValid() {
			continue
		}
		c := el.Clone()
		c.Normalize()
		si := shardOf(c.ID)
		if d.shards[si] == nil {
			d.shards[si] = make(shard)
		}
		if _, dup := d.shards[si][c.ID]; !dup {
			ids = append(ids, c.ID)
			d.count++
		}
		d.shards[si][c.ID] = c
	}
	d.order = &orderList{ids: ids}
	return d
}

// shardOf hashes an id with 32-bit FNV-1a.
func shardOf(id element.ID) int {
	h := uint32(2166136261)
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return int(h % shardCount)
}

// Get returns the element with the given id.
func (d *Document) Get(id element.ID) (*element.Element, bool) {
	el, ok := d.shards[shardOf(id)][id]
	return el, ok
}

// Has returns true if id is present.
func (d *Document) Has(id element.ID) bool {
	_, ok := d.Get(id)
	return ok
}

// Len returns the number of elements.
func (d *Document) Len() int {
	return d.count
}

// Version increases by one for every published mutation.
func (d *Document) Version() uint64 {
	return d.version
}

// Order returns a copy of the paint order (front is last).
func (d *Document) Order() []element.ID {
	return slices.Clone(d.order.ids)
}

// IndexOf returns the paint position of id, or -1.
func (d *Document) IndexOf(id element.ID) int {
	return slices.Index(d.order.ids, id)
}

// At returns the element at paint position i.
func (d *Document) At(i int) *element.Element {
	el, _ := d.Get(d.order.ids[i])
	return el
}

// Ordered returns elements in paint order.
func (d *Document) Ordered() []*element.Element {
	out := make([]*element.Element, 0, len(d.order.ids))
	for _, id := range d.order.ids {
		if el, ok := d.Get(id); ok {
			out = append(out, el)
		}
	}
	return out
}

// SameOrder reports whether both documents share the same order list, which
// implies identical paint order without comparing ids.
func (d *Document) SameOrder(other *Document) bool {
	return other != nil && d.order == other.order
}

// Bounds returns the union of all element bounds and false when empty.
func (d *Document) Bounds() (geom.Rect, bool) {
	rects := make([]geom.Rect, 0, d.count)
	for _, el := range d.Ordered() {
		rects = append(rects, el.Bounds)
	}
	return geom.UnionAll(rects)
}

// derive returns a shallow copy that shares every shard and the order list.
func (d *Document) derive() *Document {
	next := *d
	next.version = d.version + 1
	return &next
}

// put stores el, copying only its shard.
func (d *Document) put(el *element.Element) {
	si := shardOf(el.ID)
	old := d.shards[si]
	s := make(shard, len(old)+1)
	for k, v := range old {
		s[k] = v
	}
	if _, exists := old[el.ID]; !exists {
		d.count++
	}
	s[el.ID] = el
	d.shards[si] = s
}

// del removes id, copying only its shard.
func (d *Document) del(id element.ID) {
	si := shardOf(id)
	old := d.shards[si]
	if _, ok := old[id]; !ok {
		return
	}
	s := make(shard, len(old))
	for k, v := range old {
		if k != id {
			s[k] = v
		}
	}
	d.shards[si] = s
	d.count--
}

// setOrder attaches a fresh order list.
func (d *Document) setOrder(ids []element.ID) {
	d.order = &orderList{ids: ids}
}

// insertOrder returns a copy of ids with id inserted at index (clamped).
func insertOrder(ids []element.ID, id element.ID, index int) []element.ID {
	if index < 0 || index > len(ids) {
		index = len(ids)
	}
	out := make([]element.ID, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	return append(out, ids[index:]...)
}

// removeOrder returns a copy of ids without id, and id's former index.
func removeOrder(ids []element.ID, id element.ID) ([]element.ID, int) {
	idx := slices.Index(ids, id)
	if idx < 0 {
		return ids, -1
	}
	out := make([]element.ID, 0, len(ids)-1)
	out = append(out, ids[:idx]...)
	return append(out, ids[idx+1:]...), idx
}
