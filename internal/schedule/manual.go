package schedule

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// ManualDriver runs frame callbacks only when Flush is called.
type ManualDriver struct {
	mu     sync.Mutex
	queue  []*frameReq
	frames int
}

type frameReq struct {
	fn       func()
	canceled bool
}

// NewManualDriver creates a driver with no pending frames.
func NewManualDriver() *ManualDriver {
	return &ManualDriver{}
}

// RequestFrame queues fn for the next Flush.
func (d *ManualDriver) RequestFrame(fn func()) func() {
	req := &frameReq{fn: fn}
	d.mu.Lock()
	d.queue = append(d.queue, req)
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		req.canceled = true
		d.mu.Unlock()
	}
}

// Pending returns the number of queued, uncancelled callbacks.
func (d *ManualDriver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.queue {
		if !r.canceled {
			n++
		}
	}
	return n
}

// Frames returns how many frames have been flushed.
func (d *ManualDriver) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Flush runs one frame: every callback queued before the call. Callbacks
// requested while flushing wait for the next frame. It returns the number
// of callbacks run.
func (d *ManualDriver) Flush() int {
	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	d.frames++
	d.mu.Unlock()

	n := 0
	for _, r := range batch {
		d.mu.Lock()
		canceled := r.canceled
		d.mu.Unlock()
		if canceled {
			continue
		}
		r.fn()
		n++
	}
	return n
}

// FlushAll runs frames until nothing is pending, up to limit frames.
func (d *ManualDriver) FlushAll(limit int) int {
	total := 0
	for range limit {
		if d.Pending() == 0 {
			break
		}
		total += d.Flush()
	}
	return total
}

// FakeClock is a Clock whose time only moves with Advance.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	seq    uint64
}

type fakeTimer struct {
	at       time.Time
	seq      uint64
	fn       func()
	canceled bool
}

// NewFakeClock creates a clock set to start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules fn at Now()+d.
func (c *FakeClock) AfterFunc(d time.Duration, fn func()) func() {
	c.mu.Lock()
	c.seq++
	t := &fakeTimer{at: c.now.Add(d), seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		t.canceled = true
		c.mu.Unlock()
	}
}

// Advance moves time forward by d, firing due timers in time order. Timers
// scheduled by fired callbacks fire too if they fall inside the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		c.timers = slices.DeleteFunc(c.timers, func(t *fakeTimer) bool { return t.canceled })
		sort.Slice(c.timers, func(i, j int) bool {
			if c.timers[i].at.Equal(c.timers[j].at) {
				return c.timers[i].seq < c.timers[j].seq
			}
			return c.timers[i].at.Before(c.timers[j].at)
		})
		if len(c.timers) == 0 || c.timers[0].at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		c.now = t.at
		c.mu.Unlock()
		t.fn()
	}
}

// Timers returns the number of pending timers.
func (c *FakeClock) Timers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.canceled {
			n++
		}
	}
	return n
}
