package history

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Common errors for history operations.
var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
	ErrNoBatch       = errors.New("no batch is open")
	ErrBatchOpen     = errors.New("a batch is open")
	ErrBatchAborted  = errors.New("batch aborted")
)

// Defaults.
const (
	DefaultMaxEntries  = 1000
	DefaultMergeWindow = 750 * time.Millisecond
)

// State summarizes the timeline for toolbars and menus.
type State struct {
	Index     int
	Len       int
	CanUndo   bool
	CanRedo   bool
	UndoLabel string
	RedoLabel string
}

// batch collects ops between BeginBatch and the matching EndBatch.
type batch struct {
	label    string
	mergeKey string
	ops      []Op
	depth    int
	aborted  bool
}

// History manages the undo/redo timeline.
type History struct {
	mu sync.Mutex

	entries []*entry
	index   int

	batch     *batch
	replaying bool

	maxEntries  int
	mergeWindow time.Duration
	now         func() time.Time
	logger      *slog.Logger

	listeners []listener
	nextID    uint64
}

type listener struct {
	id uint64
	fn func(State)
}

// Option configures a History.
type Option func(*History)

// WithMaxEntries caps the number of entries; the oldest are dropped.
func WithMaxEntries(n int) Option {
	return func(h *History) {
		if n > 0 {
			h.maxEntries = n
		}
	}
}

// WithMergeWindow sets how long after closing an entry a matching Push may
// still join it.
func WithMergeWindow(d time.Duration) Option {
	return func(h *History) {
		if d >= 0 {
			h.mergeWindow = d
		}
	}
}

// WithClock sets the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *History) {
		if now != nil {
			h.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *History) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates an empty history.
func New(opts ...Option) *History {
	h := &History{
		index:       -1,
		maxEntries:  DefaultMaxEntries,
		mergeWindow: DefaultMergeWindow,
		now:         time.Now,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Record adds an already-applied op to the open batch. Ops recorded with no
// open batch or during undo/redo replay are ignored; the return value
// reports whether op was kept.
func (h *History) Record(op Op) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.replaying || h.batch == nil || op == nil {
		return false
	}
	h.batch.ops = appendOp(h.batch.ops, op)
	return true
}

// Push appends a ready-made op as its own entry, or joins the top entry when
// label and mergeKey both match and the top entry is still inside the merge
// window. Two empty keys match. Inside an open batch the op joins the batch
// instead.
func (h *History) Push(op Op, label, mergeKey string) {
	if op == nil {
		return
	}
	h.mu.Lock()
	if h.replaying {
		h.mu.Unlock()
		return
	}
	if h.batch != nil {
		h.batch.ops = appendOp(h.batch.ops, op)
		h.mu.Unlock()
		return
	}
	h.commitLocked(label, mergeKey, []Op{op}, true)
	state := h.stateLocked()
	h.mu.Unlock()
	h.notify(state)
}

// commitLocked appends ops as a new entry or, when coalesce is set, joins
// them to a matching top entry. The redo branch is discarded in both cases.
func (h *History) commitLocked(label, mergeKey string, ops []Op, coalesce bool) {
	now := h.now()
	h.entries = h.entries[:h.index+1]

	if top := h.topLocked(); top != nil && coalesce &&
		top.label == label && top.mergeKey == mergeKey &&
		now.Sub(top.timestamp) <= h.mergeWindow {
		for _, op := range ops {
			top.appendOp(op)
		}
		top.timestamp = now
		h.logger.Debug("history coalesced", "label", label, "ops", len(top.ops))
		return
	}

	h.entries = append(h.entries, &entry{
		label:     label,
		mergeKey:  mergeKey,
		ops:       ops,
		timestamp: now,
	})
	h.index = len(h.entries) - 1

	if excess := len(h.entries) - h.maxEntries; excess > 0 {
		h.entries = slices.Delete(h.entries, 0, excess)
		h.index -= excess
	}
	h.logger.Debug("history entry", "label", label, "ops", len(ops), "index", h.index)
}

func (h *History) topLocked() *entry {
	if h.index < 0 {
		return nil
	}
	return h.entries[h.index]
}

// BeginBatch opens a batch. Calls made while a batch is open nest into it;
// the outermost label and merge key win.
func (h *History) BeginBatch(label, mergeKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.batch != nil {
		h.batch.depth++
		return
	}
	h.batch = &batch{label: label, mergeKey: mergeKey, depth: 1}
}

// EndBatch closes one batch level. When the outermost level closes, the
// captured ops become an entry if commit is true at every level and at
// least one op was captured. It returns ErrBatchAborted when the batch was
// discarded because some level ended with commit=false.
func (h *History) EndBatch(commit bool) error {
	h.mu.Lock()
	b := h.batch
	if b == nil {
		h.mu.Unlock()
		return ErrNoBatch
	}
	if !commit {
		b.aborted = true
	}
	b.depth--
	if b.depth > 0 {
		h.mu.Unlock()
		return nil
	}
	h.batch = nil

	if b.aborted {
		h.mu.Unlock()
		h.logger.Debug("history batch discarded", "label", b.label, "ops", len(b.ops))
		if commit {
			return ErrBatchAborted
		}
		return nil
	}
	if len(b.ops) == 0 {
		h.mu.Unlock()
		return nil
	}
	h.commitLocked(b.label, b.mergeKey, b.ops, b.mergeKey != "")
	state := h.stateLocked()
	h.mu.Unlock()
	h.notify(state)
	return nil
}

// InBatch returns true while a batch is open.
func (h *History) InBatch() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.batch != nil
}

// WithUndo runs fn inside a batch labelled label. If fn returns an error or
// panics the batch is discarded and nothing reaches the timeline; store
// changes fn already made are not rolled back.
func (h *History) WithUndo(label string, fn func() error) (err error) {
	h.BeginBatch(label, "")
	committed := false
	defer func() {
		if !committed {
			_ = h.EndBatch(false)
		}
	}()

	if err = fn(); err != nil {
		return err
	}
	committed = true
	return h.EndBatch(true)
}

// Undo reverts the entry at the index and moves the index back.
func (h *History) Undo() error {
	h.mu.Lock()
	if h.batch != nil {
		h.mu.Unlock()
		return ErrBatchOpen
	}
	if h.index < 0 {
		h.mu.Unlock()
		return ErrNothingToUndo
	}
	e := h.entries[h.index]
	h.replaying = true
	h.mu.Unlock()

	// Ops run without the lock; they publish store events that call back
	// into Record.
	err := e.undo()

	h.mu.Lock()
	h.replaying = false
	if err == nil {
		h.index--
	}
	state := h.stateLocked()
	h.mu.Unlock()

	if err != nil {
		h.logger.Warn("undo failed", "label", e.label, "error", err)
		return err
	}
	h.notify(state)
	return nil
}

// Redo re-applies the entry after the index and advances the index.
func (h *History) Redo() error {
	h.mu.Lock()
	if h.batch != nil {
		h.mu.Unlock()
		return ErrBatchOpen
	}
	if h.index >= len(h.entries)-1 {
		h.mu.Unlock()
		return ErrNothingToRedo
	}
	e := h.entries[h.index+1]
	h.replaying = true
	h.mu.Unlock()

	err := e.redo()

	h.mu.Lock()
	h.replaying = false
	if err == nil {
		h.index++
	}
	state := h.stateLocked()
	h.mu.Unlock()

	if err != nil {
		h.logger.Warn("redo failed", "label", e.label, "error", err)
		return err
	}
	h.notify(state)
	return nil
}

// CanUndo returns true if undo is available.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index >= 0
}

// CanRedo returns true if redo is available.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index < len(h.entries)-1
}

// Len returns the number of entries on the timeline.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Index returns the position of the last applied entry, -1 if none.
func (h *History) Index() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index
}

// Entries returns info for every entry, oldest first.
func (h *History) Entries() []EntryInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]EntryInfo, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.info()
	}
	return out
}

// State returns a summary of the timeline.
func (h *History) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked()
}

func (h *History) stateLocked() State {
	s := State{
		Index:   h.index,
		Len:     len(h.entries),
		CanUndo: h.index >= 0,
		CanRedo: h.index < len(h.entries)-1,
	}
	if s.CanUndo {
		s.UndoLabel = h.entries[h.index].label
	}
	if s.CanRedo {
		s.RedoLabel = h.entries[h.index+1].label
	}
	return s
}

// Clear empties the timeline and discards any open batch.
func (h *History) Clear() {
	h.mu.Lock()
	h.entries = nil
	h.index = -1
	h.batch = nil
	state := h.stateLocked()
	h.mu.Unlock()
	h.notify(state)
}

// SetMaxEntries changes the cap, dropping the oldest entries if needed.
func (h *History) SetMaxEntries(n int) {
	if n <= 0 {
		n = DefaultMaxEntries
	}
	h.mu.Lock()
	h.maxEntries = n
	if excess := len(h.entries) - n; excess > 0 {
		h.entries = slices.Delete(h.entries, 0, excess)
		h.index = max(h.index-excess, -1)
	}
	h.mu.Unlock()
}

// MergeWindow returns the configured merge window.
func (h *History) MergeWindow() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mergeWindow
}

// OnChange registers fn to be called after the timeline changes and returns
// a function that removes it.
func (h *History) OnChange(fn func(State)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.listeners = append(h.listeners, listener{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.listeners = slices.DeleteFunc(h.listeners, func(l listener) bool { return l.id == id })
	}
}

func (h *History) notify(state State) {
	h.mu.Lock()
	ls := slices.Clone(h.listeners)
	h.mu.Unlock()
	for _, l := range ls {
		l.fn(state)
	}
}
