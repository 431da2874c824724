package history

// Scope is an open batch closed with defer.
//
//	s := h.Scope("Move selection", "")
//	defer s.End()
type Scope struct {
	history *History
	active  bool
}

// Scope opens a batch and returns a handle that closes it.
func (h *History) Scope(label, mergeKey string) *Scope {
	h.BeginBatch(label, mergeKey)
	return &Scope{history: h, active: true}
}

// End commits the batch level. Only the first End or Cancel has effect.
func (s *Scope) End() {
	if s.active {
		_ = s.history.EndBatch(true)
		s.active = false
	}
}

// Cancel discards the batch. Changes already applied to the store stay.
func (s *Scope) Cancel() {
	if s.active {
		_ = s.history.EndBatch(false)
		s.active = false
	}
}

// Checkpoint marks a timeline position.
type Checkpoint struct {
	index int
}

// Checkpoint returns the current position.
func (h *History) Checkpoint() Checkpoint {
	return Checkpoint{index: h.Index()}
}

// UndoTo undoes entries until the index is back at cp.
func (h *History) UndoTo(cp Checkpoint) error {
	for h.Index() > cp.index {
		if err := h.Undo(); err != nil {
			return err
		}
	}
	return nil
}

// RedoTo redoes entries until the index reaches cp or redo runs out.
func (h *History) RedoTo(cp Checkpoint) error {
	for h.Index() < cp.index && h.CanRedo() {
		if err := h.Redo(); err != nil {
			return err
		}
	}
	return nil
}
