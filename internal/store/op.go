package store

import (
	"fmt"

	"github.com/dshills/whiteboard/internal/history"
)

// ChangeOp is a reversible op replaying one Change against a store.
type ChangeOp struct {
	store  *Store
	change Change
}

// Op wraps c for history recording.
func (s *Store) Op(c Change) *ChangeOp {
	return &ChangeOp{store: s, change: c}
}

var (
	_ history.Op     = (*ChangeOp)(nil)
	_ history.Merger = (*ChangeOp)(nil)
)

// Change returns the recorded change.
func (o *ChangeOp) Change() Change {
	return o.change
}

// Undo restores the Before side.
func (o *ChangeOp) Undo() error {
	o.store.Apply(o.change.Invert())
	return nil
}

// Redo restores the After side.
func (o *ChangeOp) Redo() error {
	o.store.Apply(o.change)
	return nil
}

// Merge folds next into o when next continues the same element's change,
// so a run of drag ticks collapses into one before/after pair.
func (o *ChangeOp) Merge(next history.Op) (history.Op, bool) {
	n, ok := next.(*ChangeOp)
	if !ok || n.store != o.store || n.change.ID != o.change.ID {
		return nil, false
	}
	if n.change.Before != o.change.After {
		return nil, false
	}
	return &ChangeOp{
		store: o.store,
		change: Change{
			ID:          o.change.ID,
			Before:      o.change.Before,
			After:       n.change.After,
			BeforeIndex: o.change.BeforeIndex,
			AfterIndex:  n.change.AfterIndex,
		},
	}, true
}

// String describes the op for logs and history listings.
func (o *ChangeOp) String() string {
	c := o.change
	switch {
	case c.IsCreate():
		return fmt.Sprintf("create %s", c.ID)
	case c.IsRemove():
		return fmt.Sprintf("remove %s", c.ID)
	case c.Before == c.After:
		return fmt.Sprintf("reorder %s %d->%d", c.ID, c.BeforeIndex, c.AfterIndex)
	default:
		return fmt.Sprintf("update %s", c.ID)
	}
}
