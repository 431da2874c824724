// Package history provides undo/redo for the whiteboard document.
//
// The history is one linear timeline of entries and an index pointing at
// the last applied entry (-1 when nothing is applied). Pushing while redo
// entries exist discards them.
//
// # Ops
//
// An Op is a reversible change that has already been applied. Sources such
// as the element store and the selection manager hand their ops to
// History.Record; they are kept only while a batch is open and ignored
// during undo/redo replay.
//
// # Batches
//
// A batch groups every op recorded between BeginBatch and EndBatch into a
// single entry:
//
//	h.BeginBatch("typing", "text:"+id)
//	// ... several store updates ...
//	h.EndBatch(true)
//
// WithUndo wraps a function in a batch and discards the batch when the
// function returns an error or panics:
//
//	err := h.WithUndo("Create rectangle", func() error {
//	    id := st.Upsert(el)
//	    sel.Set(id)
//	    return nil
//	})
//
// Nested batches flatten into the outermost one. Ending any level with
// commit=false aborts the whole batch.
//
// # Coalescing
//
// Push appends a ready-made op. When the top entry has the same label and
// merge key (two empty keys are equal) and was closed within the merge
// window, the op joins that entry instead of creating a new one, so a burst
// of keystrokes or drag ticks undoes as one step. A batch joins the top entry
// the same way only when it was opened with a merge key.
package history
