package board

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/history"
	"github.com/dshills/whiteboard/internal/reconcile"
)

// Undo reverts the last history entry. It is a no-op when there is
// nothing to undo.
func (b *Board) Undo() error {
	err := b.history.Undo()
	if errors.Is(err, history.ErrNothingToUndo) {
		return nil
	}
	return err
}

// Redo reapplies the next history entry. It is a no-op at the tail.
func (b *Board) Redo() error {
	err := b.history.Redo()
	if errors.Is(err, history.ErrNothingToRedo) {
		return nil
	}
	return err
}

// ResetViewport restores pan (0,0) and scale 1.
func (b *Board) ResetViewport() {
	b.viewport.Reset()
}

// FitToContent fits every visible element into the viewport with the
// configured padding. An empty document resets the viewport.
func (b *Board) FitToContent() {
	doc := b.store.Doc()
	rects := make([]geom.Rect, 0, doc.Len())
	for _, el := range doc.Ordered() {
		if el.Visible {
			rects = append(rects, el.Bounds)
		}
	}
	b.viewport.FitToContent(rects, b.cfg.Viewport.FitPadding)
}

// SetSelection replaces the selection. Ids not in the document are
// ignored. On its own the change is not undoable; inside WithUndo or a
// gesture it joins the entry.
func (b *Board) SetSelection(ids ...element.ID) {
	doc := b.store.Doc()
	live := make([]element.ID, 0, len(ids))
	for _, id := range ids {
		if doc.Has(id) {
			live = append(live, id)
		}
	}
	b.selection.Set(live...)
}

// DeleteSelected removes the selected elements as one undo step. The
// selection is cleared first so undo restores it. With nothing selected it
// does nothing.
func (b *Board) DeleteSelected() error {
	ids := b.selection.IDs()
	if len(ids) == 0 {
		return nil
	}
	return b.history.WithUndo(fmt.Sprintf("delete %d", len(ids)), func() error {
		b.selection.Clear()
		b.store.RemoveMany(ids...)
		return nil
	})
}

// WithUndo runs fn as one undo step labelled label.
func (b *Board) WithUndo(label string, fn func() error) error {
	return b.history.WithUndo(label, fn)
}

// Add inserts el and selects it as one undo step. An element without an
// id gets a fresh one.
func (b *Board) Add(el *element.Element) (element.ID, error) {
	if el == nil {
		return "", errors.New("add: nil element")
	}
	if !el.Kind.IsKnown() {
		return "", fmt.Errorf("add: unknown kind %q", el.Kind)
	}
	if el.ID == "" {
		el = el.Clone()
		el.ID = element.NewID()
	}
	var id element.ID
	err := b.history.WithUndo("add "+string(el.Kind), func() error {
		id = b.store.Upsert(el)
		b.selection.Set(id)
		return nil
	})
	return id, err
}

// Edit applies patch to id as one undo step.
func (b *Board) Edit(label string, id element.ID, patch element.Patch) error {
	return b.history.WithUndo(label, func() error {
		return b.store.Update(id, patch)
	})
}

// Nudge moves the selection by (dx, dy). Consecutive nudges within the
// history merge window collapse into one undo step.
func (b *Board) Nudge(dx, dy float64) error {
	ids := b.selection.IDs()
	if len(ids) == 0 {
		return nil
	}
	doc := b.store.Doc()
	b.history.BeginBatch("nudge", "nudge")
	for _, id := range ids {
		el, ok := doc.Get(id)
		if !ok || el.Locked {
			continue
		}
		pos := geom.Pt(el.Position.X+dx, el.Position.Y+dy)
		if err := b.store.Update(id, element.Patch{Position: &pos}); err != nil {
			_ = b.history.EndBatch(false)
			return err
		}
	}
	return b.history.EndBatch(true)
}

// Gesture groups the store edits of one pointer interaction into a single
// undo step and owns its preview content. Either Commit or Cancel ends it;
// both are safe to call more than once, so the usual pattern is
//
//	g := b.BeginGesture("draw", "")
//	defer g.Cancel()
//	...
//	return g.Commit()
type Gesture struct {
	board   *Board
	preview *reconcile.PreviewScope
	ended   bool
}

// BeginGesture opens a batch and a preview scope owned by label.
func (b *Board) BeginGesture(label, mergeKey string) *Gesture {
	b.history.BeginBatch(label, mergeKey)
	g := &Gesture{board: b, preview: b.reconciler.BeginPreview(label)}
	b.gestures = append(b.gestures, g)
	return g
}

// detachGestures ends every open gesture without touching history. Commit
// and Cancel on a detached gesture are no-ops.
func (b *Board) detachGestures() {
	for _, g := range b.gestures {
		g.ended = true
		g.preview.End()
	}
	b.gestures = nil
}

// Preview returns the gesture's preview scope.
func (g *Gesture) Preview() *reconcile.PreviewScope {
	return g.preview
}

// Active returns true until the gesture ends.
func (g *Gesture) Active() bool {
	return !g.ended
}

// Commit ends the gesture and keeps its edits as one undo step.
func (g *Gesture) Commit() error {
	return g.end(true)
}

// Cancel ends the gesture and drops its history. Store edits already made
// stay in place.
func (g *Gesture) Cancel() {
	_ = g.end(false)
}

func (g *Gesture) end(commit bool) error {
	if g.ended {
		return nil
	}
	g.ended = true
	g.preview.End()
	g.board.gestures = slices.DeleteFunc(g.board.gestures, func(x *Gesture) bool { return x == g })
	return g.board.history.EndBatch(commit)
}
