// Package schedule defers work to frame boundaries.
//
// A Driver delivers frame callbacks and a Clock delivers timers. Everything
// scheduled through this package runs on the goroutine that services the
// driver, so the core stays single-threaded. Tests use ManualDriver and
// FakeClock; the CLI uses TickerDriver, which is both.
package schedule

import "time"

// Driver requests a callback at the next frame.
type Driver interface {
	// RequestFrame schedules fn for the next frame and returns a function
	// that cancels it if it has not run yet.
	RequestFrame(fn func()) (cancel func())
}

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time

	// AfterFunc schedules fn after d and returns a function that cancels
	// it if it has not run yet.
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// Queue holds at most one pending frame token for its callback. Requests
// made while a token is pending coalesce into it.
type Queue struct {
	driver  Driver
	run     func()
	cancel  func()
	pending bool
	runs    int
}

// NewQueue creates a queue that calls run on the frame after a request.
func NewQueue(d Driver, run func()) *Queue {
	return &Queue{driver: d, run: run}
}

// Request schedules run for the next frame. It returns false if a frame
// was already pending.
func (q *Queue) Request() bool {
	if q.pending {
		return false
	}
	q.pending = true
	q.cancel = q.driver.RequestFrame(q.fire)
	return true
}

// Pending returns true while a frame is scheduled.
func (q *Queue) Pending() bool {
	return q.pending
}

// Cancel drops the pending frame, if any.
func (q *Queue) Cancel() {
	if !q.pending {
		return
	}
	q.pending = false
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
}

// Runs returns how many times run has been called.
func (q *Queue) Runs() int {
	return q.runs
}

func (q *Queue) fire() {
	if !q.pending {
		return
	}
	q.pending = false
	q.cancel = nil
	q.runs++
	q.run()
}

// Debouncer runs its callback once after a burst of triggers: on the next
// frame, or after a further delay when one is set. Each Trigger cancels the
// pending run and schedules a new one.
type Debouncer struct {
	driver Driver
	clock  Clock
	run    func()

	generation uint64
	cancel     func()
	pending    bool
	runs       int
}

// NewDebouncer creates a debouncer. clock may be nil when no delay is used.
func NewDebouncer(d Driver, clock Clock, run func()) *Debouncer {
	return &Debouncer{driver: d, clock: clock, run: run}
}

// Trigger schedules run, waiting delay after the next frame. A delay of
// zero or less, or a nil clock, runs on the frame itself.
func (b *Debouncer) Trigger(delay time.Duration) {
	b.Cancel()
	b.generation++
	gen := b.generation
	b.pending = true
	b.cancel = b.driver.RequestFrame(func() {
		if gen != b.generation {
			return
		}
		if delay <= 0 || b.clock == nil {
			b.fire(gen)
			return
		}
		b.cancel = b.clock.AfterFunc(delay, func() { b.fire(gen) })
	})
}

// Pending returns true while a run is scheduled.
func (b *Debouncer) Pending() bool {
	return b.pending
}

// Cancel drops the pending run, if any.
func (b *Debouncer) Cancel() {
	if !b.pending {
		return
	}
	b.pending = false
	b.generation++
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// Runs returns how many times run has been called.
func (b *Debouncer) Runs() int {
	return b.runs
}

func (b *Debouncer) fire(gen uint64) {
	if gen != b.generation || !b.pending {
		return
	}
	b.pending = false
	b.cancel = nil
	b.runs++
	b.run()
}
