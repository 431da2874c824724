package history

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter is a tiny model the test ops mutate.
type counter struct {
	value int
	log   []string
}

func (c *counter) add(n int) Op {
	c.value += n
	return FuncOp{
		Name:     "add",
		UndoFunc: func() error { c.value -= n; c.log = append(c.log, "undo"); return nil },
		RedoFunc: func() error { c.value += n; c.log = append(c.log, "redo"); return nil },
	}
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestHistory(opts ...Option) (*History, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.now), WithMergeWindow(500 * time.Millisecond)}, opts...)
	return New(opts...), clk
}

func TestNewHistory(t *testing.T) {
	h := New()
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, -1, h.Index())
	assert.False(t, h.CanUndo())
	assert.False(t, h.CanRedo())
	assert.Equal(t, DefaultMergeWindow, h.MergeWindow())
}

func TestRecordOutsideBatchIgnored(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}
	assert.False(t, h.Record(c.add(1)))
	assert.Equal(t, 0, h.Len())
}

func TestBatchCreatesOneEntry(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}

	h.BeginBatch("create", "")
	assert.True(t, h.InBatch())
	h.Record(c.add(1))
	h.Record(c.add(2))
	require.NoError(t, h.EndBatch(true))

	assert.False(t, h.InBatch())
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 0, h.Index())
	assert.Equal(t, 2, h.Entries()[0].OpCount)

	require.NoError(t, h.Undo())
	assert.Equal(t, 0, c.value)
	require.NoError(t, h.Redo())
	assert.Equal(t, 3, c.value)
}

func TestEmptyBatchCreatesNoEntry(t *testing.T) {
	h, _ := newTestHistory()
	h.BeginBatch("noop", "")
	require.NoError(t, h.EndBatch(true))
	assert.Equal(t, 0, h.Len())
}

func TestEndBatchWithoutBegin(t *testing.T) {
	h, _ := newTestHistory()
	assert.ErrorIs(t, h.EndBatch(true), ErrNoBatch)
}

func TestNestedBatchesFlatten(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}

	h.BeginBatch("outer", "")
	h.Record(c.add(1))
	h.BeginBatch("inner", "")
	h.Record(c.add(10))
	require.NoError(t, h.EndBatch(true))
	assert.True(t, h.InBatch())
	h.Record(c.add(100))
	require.NoError(t, h.EndBatch(true))

	entries := h.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "outer", entries[0].Label)
	assert.Equal(t, 3, entries[0].OpCount)

	require.NoError(t, h.Undo())
	assert.Equal(t, 0, c.value)
}

func TestInnerAbortDiscardsOuter(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}

	h.BeginBatch("outer", "")
	h.Record(c.add(1))
	h.BeginBatch("inner", "")
	h.Record(c.add(2))
	require.NoError(t, h.EndBatch(false))
	assert.ErrorIs(t, h.EndBatch(true), ErrBatchAborted)

	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 3, c.value, "aborting does not roll back applied changes")
}

func TestWithUndo(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		h, _ := newTestHistory()
		c := &counter{}
		err := h.WithUndo("create", func() error {
			h.Record(c.add(5))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, h.Len())
		assert.Equal(t, "create", h.State().UndoLabel)
	})

	t.Run("error aborts", func(t *testing.T) {
		h, _ := newTestHistory()
		c := &counter{}
		boom := errors.New("boom")
		err := h.WithUndo("create", func() error {
			h.Record(c.add(5))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, h.Len())
		assert.False(t, h.InBatch())
	})

	t.Run("panic aborts", func(t *testing.T) {
		h, _ := newTestHistory()
		c := &counter{}
		assert.Panics(t, func() {
			_ = h.WithUndo("create", func() error {
				h.Record(c.add(5))
				panic("boom")
			})
		})
		assert.Equal(t, 0, h.Len())
		assert.False(t, h.InBatch())
	})

	t.Run("nested", func(t *testing.T) {
		h, _ := newTestHistory()
		c := &counter{}
		err := h.WithUndo("outer", func() error {
			h.Record(c.add(1))
			return h.WithUndo("inner", func() error {
				h.Record(c.add(2))
				return nil
			})
		})
		require.NoError(t, err)
		require.Len(t, h.Entries(), 1)
		assert.Equal(t, "outer", h.Entries()[0].Label)
	})
}

func TestPushCoalescesWithinWindow(t *testing.T) {
	h, clk := newTestHistory()
	c := &counter{}

	for range 3 {
		h.Push(c.add(1), "typing", "text:a")
		clk.advance(100 * time.Millisecond)
	}

	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 3, h.Entries()[0].OpCount)

	require.NoError(t, h.Undo())
	assert.Equal(t, 0, c.value)
}

func TestPushOutsideWindowCreatesEntries(t *testing.T) {
	h, clk := newTestHistory()
	c := &counter{}

	for range 3 {
		h.Push(c.add(1), "typing", "text:a")
		clk.advance(time.Second)
	}
	assert.Equal(t, 3, h.Len())
}

func TestPushMergeRules(t *testing.T) {
	tests := []struct {
		name      string
		firstKey  string
		secondKey string
		secLabel  string
		want      int
	}{
		{"same label and key", "k", "k", "move", 1},
		{"empty keys match", "", "", "move", 1},
		{"empty and set key", "", "k", "move", 2},
		{"different key", "k", "j", "move", 2},
		{"different label", "k", "k", "resize", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHistory()
			c := &counter{}
			h.Push(c.add(1), "move", tt.firstKey)
			h.Push(c.add(1), tt.secLabel, tt.secondKey)
			assert.Equal(t, tt.want, h.Len())
		})
	}
}

func TestPushWithoutKeyCoalesces(t *testing.T) {
	h, clk := newTestHistory(WithMergeWindow(time.Second))
	c := &counter{}

	for range 3 {
		h.Push(c.add(1), "typing", "")
		clk.advance(100 * time.Millisecond)
	}
	assert.Equal(t, 1, h.Len())

	require.NoError(t, h.Undo())
	assert.Equal(t, 0, c.value)
}

func TestBatchWithoutKeyNeverCoalesces(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}

	for range 2 {
		require.NoError(t, h.WithUndo("create", func() error {
			h.Record(c.add(1))
			return nil
		}))
	}
	assert.Equal(t, 2, h.Len())
}

func TestMergeWindowRefreshedOnMerge(t *testing.T) {
	h, clk := newTestHistory()
	c := &counter{}

	h.Push(c.add(1), "drag", "el")
	clk.advance(400 * time.Millisecond)
	h.Push(c.add(1), "drag", "el")
	clk.advance(400 * time.Millisecond)
	h.Push(c.add(1), "drag", "el")

	assert.Equal(t, 1, h.Len())
}

func TestPushInsideBatchJoinsBatch(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}

	h.BeginBatch("outer", "")
	h.Push(c.add(1), "inner", "")
	require.NoError(t, h.EndBatch(true))

	require.Len(t, h.Entries(), 1)
	assert.Equal(t, "outer", h.Entries()[0].Label)
}

func TestPushTruncatesRedo(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}

	h.Push(c.add(1), "a", "")
	h.Push(c.add(2), "b", "")
	require.NoError(t, h.Undo())
	assert.True(t, h.CanRedo())

	h.Push(c.add(4), "c", "")
	assert.Equal(t, 2, h.Len())
	assert.False(t, h.CanRedo())
	assert.ErrorIs(t, h.Redo(), ErrNothingToRedo)

	labels := []string{h.Entries()[0].Label, h.Entries()[1].Label}
	assert.Equal(t, []string{"a", "c"}, labels)
}

func TestCoalesceAfterUndoTruncates(t *testing.T) {
	h, clk := newTestHistory()
	c := &counter{}

	h.Push(c.add(1), "drag", "el")
	clk.advance(time.Second)
	h.Push(c.add(1), "other", "")
	require.NoError(t, h.Undo())

	h.Push(c.add(1), "drag", "el")
	assert.Equal(t, 2, h.Len(), "entry beyond the merge window is not joined")
	assert.False(t, h.CanRedo())
}

func TestUndoRedoBounds(t *testing.T) {
	h, _ := newTestHistory()
	assert.ErrorIs(t, h.Undo(), ErrNothingToUndo)
	assert.ErrorIs(t, h.Redo(), ErrNothingToRedo)
}

func TestUndoWhileBatchOpen(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}
	h.Push(c.add(1), "a", "")

	h.BeginBatch("open", "")
	assert.ErrorIs(t, h.Undo(), ErrBatchOpen)
	assert.ErrorIs(t, h.Redo(), ErrBatchOpen)
	require.NoError(t, h.EndBatch(true))
}

func TestRecordDuringReplayIgnored(t *testing.T) {
	h, _ := newTestHistory()
	value := 0
	var recorded []bool
	op := FuncOp{
		UndoFunc: func() error {
			value--
			recorded = append(recorded, h.Record(FuncOp{}))
			return nil
		},
		RedoFunc: func() error { value++; return nil },
	}
	value++
	h.Push(op, "inc", "")

	require.NoError(t, h.Undo())
	assert.Equal(t, []bool{false}, recorded)
	assert.Equal(t, 0, value)
}

func TestUndoFailureRollsBack(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}
	boom := errors.New("boom")

	h.BeginBatch("mixed", "")
	h.Record(FuncOp{UndoFunc: func() error { return boom }})
	h.Record(c.add(1))
	require.NoError(t, h.EndBatch(true))

	err := h.Undo()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.value, "reverted ops are re-applied")
	assert.Equal(t, 0, h.Index())
	assert.Equal(t, []string{"undo", "redo"}, c.log)
}

func TestMaxEntries(t *testing.T) {
	h, _ := newTestHistory(WithMaxEntries(3))
	c := &counter{}
	for i := range 5 {
		h.Push(c.add(1), string(rune('a'+i)), "")
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 2, h.Index())
	assert.Equal(t, "c", h.Entries()[0].Label)

	h.SetMaxEntries(1)
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 0, h.Index())
}

func TestClear(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}
	h.Push(c.add(1), "a", "")
	h.BeginBatch("open", "")

	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, -1, h.Index())
	assert.False(t, h.InBatch())
}

func TestOnChange(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}
	var states []State
	unsub := h.OnChange(func(s State) { states = append(states, s) })

	h.Push(c.add(1), "a", "")
	require.NoError(t, h.Undo())
	require.Len(t, states, 2)
	assert.True(t, states[0].CanUndo)
	assert.Equal(t, "a", states[1].RedoLabel)

	unsub()
	require.NoError(t, h.Redo())
	assert.Len(t, states, 2)
}

func TestScope(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}

	func() {
		s := h.Scope("scoped", "")
		defer s.End()
		h.Record(c.add(1))
	}()
	assert.Equal(t, 1, h.Len())

	s := h.Scope("cancelled", "")
	h.Record(c.add(1))
	s.Cancel()
	s.End()
	assert.Equal(t, 1, h.Len())
	assert.False(t, h.InBatch())
}

func TestCheckpoint(t *testing.T) {
	h, _ := newTestHistory()
	c := &counter{}

	h.Push(c.add(1), "a", "")
	cp := h.Checkpoint()
	h.Push(c.add(2), "b", "")
	h.Push(c.add(4), "c", "")

	require.NoError(t, h.UndoTo(cp))
	assert.Equal(t, 1, c.value)
	assert.Equal(t, 0, h.Index())

	end := Checkpoint{index: 2}
	require.NoError(t, h.RedoTo(end))
	assert.Equal(t, 7, c.value)
}

type mergeOp struct {
	from, to int
	target   *int
}

func (m *mergeOp) Undo() error { *m.target = m.from; return nil }
func (m *mergeOp) Redo() error { *m.target = m.to; return nil }
func (m *mergeOp) Merge(next Op) (Op, bool) {
	n, ok := next.(*mergeOp)
	if !ok || n.from != m.to {
		return nil, false
	}
	return &mergeOp{from: m.from, to: n.to, target: m.target}, true
}

func TestMergerFoldsOps(t *testing.T) {
	h, _ := newTestHistory()
	x := 0

	h.BeginBatch("drag", "")
	for i := range 4 {
		x = i + 1
		h.Record(&mergeOp{from: i, to: i + 1, target: &x})
	}
	require.NoError(t, h.EndBatch(true))

	assert.Equal(t, 1, h.Entries()[0].OpCount)
	require.NoError(t, h.Undo())
	assert.Equal(t, 0, x)
	require.NoError(t, h.Redo())
	assert.Equal(t, 4, x)
}
