package board

import (
	"context"

	"github.com/dshills/whiteboard/internal/persist"
)

// Snapshot captures the document and viewport.
func (b *Board) Snapshot() persist.Snapshot {
	return persist.Take(b.store.Doc(), b.viewport.State())
}

// Restore replaces the document and viewport with snap. Pending
// validation, open gestures and preview content are dropped and history is
// cleared, so the restored document starts a fresh undo timeline.
func (b *Board) Restore(snap persist.Snapshot) {
	b.validator.Cancel()
	b.detachGestures()
	b.reconciler.ClearPreview()
	b.store.Replace(snap.Elements)
	b.viewport.Restore(snap.Viewport)
	b.history.Clear()
	b.logger.Info("document restored", "elements", len(snap.Elements))
}

// Save writes the document to path.
func (b *Board) Save(path string) error {
	snap := b.Snapshot()
	if err := persist.WriteFile(path, snap); err != nil {
		return err
	}
	b.logger.Info("document saved", "path", path, "elements", len(snap.Elements))
	return nil
}

// Load replaces the document with the one stored at path.
func (b *Board) Load(path string) error {
	snap, err := persist.ReadFile(path)
	if err != nil {
		return err
	}
	b.Restore(snap)
	return nil
}

// SaveRevision stores the current document in rs under name.
func (b *Board) SaveRevision(ctx context.Context, rs *persist.RevisionStore, name string) (persist.Revision, error) {
	rev, err := rs.Save(ctx, name, b.Snapshot())
	if err != nil {
		return persist.Revision{}, err
	}
	b.logger.Info("revision saved", "name", name, "id", rev.ID)
	return rev, nil
}

// LoadRevision replaces the document with revision id from rs.
func (b *Board) LoadRevision(ctx context.Context, rs *persist.RevisionStore, id int64) error {
	snap, err := rs.Load(ctx, id)
	if err != nil {
		return err
	}
	b.Restore(snap)
	return nil
}
