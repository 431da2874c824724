package history

import (
	"fmt"
	"time"
)

// Op is a reversible change that has already been applied.
type Op interface {
	// Undo reverts the change.
	Undo() error

	// Redo re-applies the change after Undo.
	Redo() error
}

// Merger is implemented by ops that can absorb the op recorded right
// after them, e.g. successive updates of one element.
type Merger interface {
	Merge(next Op) (Op, bool)
}

// FuncOp adapts a pair of functions to Op.
type FuncOp struct {
	UndoFunc func() error
	RedoFunc func() error
	Name     string
}

// Undo calls UndoFunc.
func (f FuncOp) Undo() error {
	if f.UndoFunc == nil {
		return nil
	}
	return f.UndoFunc()
}

// Redo calls RedoFunc.
func (f FuncOp) Redo() error {
	if f.RedoFunc == nil {
		return nil
	}
	return f.RedoFunc()
}

// String returns the op name.
func (f FuncOp) String() string {
	return f.Name
}

// entry is a closed history step. Only coalescing may extend ops after
// the entry is appended.
type entry struct {
	label     string
	mergeKey  string
	ops       []Op
	timestamp time.Time
}

// appendOp adds op, folding it into the previous op when possible.
func (e *entry) appendOp(op Op) {
	e.ops = appendOp(e.ops, op)
}

func appendOp(ops []Op, op Op) []Op {
	if n := len(ops); n > 0 {
		if m, ok := ops[n-1].(Merger); ok {
			if merged, ok := m.Merge(op); ok {
				ops[n-1] = merged
				return ops
			}
		}
	}
	return append(ops, op)
}

// undo reverts ops last to first. If an op fails, the ones already
// reverted are re-applied so the entry stays atomic.
func (e *entry) undo() error {
	for i := len(e.ops) - 1; i >= 0; i-- {
		if err := e.ops[i].Undo(); err != nil {
			for j := i + 1; j < len(e.ops); j++ {
				_ = e.ops[j].Redo()
			}
			return fmt.Errorf("undo %q op %d: %w", e.label, i, err)
		}
	}
	return nil
}

// redo re-applies ops first to last, rolling back on failure.
func (e *entry) redo() error {
	for i, op := range e.ops {
		if err := op.Redo(); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = e.ops[j].Undo()
			}
			return fmt.Errorf("redo %q op %d: %w", e.label, i, err)
		}
	}
	return nil
}

// EntryInfo describes an entry for display.
type EntryInfo struct {
	Label     string
	MergeKey  string
	OpCount   int
	Timestamp time.Time
}

func (e *entry) info() EntryInfo {
	return EntryInfo{
		Label:     e.label,
		MergeKey:  e.mergeKey,
		OpCount:   len(e.ops),
		Timestamp: e.timestamp,
	}
}
