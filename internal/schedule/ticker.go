package schedule

import (
	"context"
	"sync"
	"time"
)

// DefaultFPS is the frame rate used when none is configured.
const DefaultFPS = 60

// TickerDriver is a real-time Driver and Clock. Frame callbacks, due timers
// and posted functions all run inside Run on the caller's goroutine.
type TickerDriver struct {
	frameTime time.Duration

	mu     sync.Mutex
	frames []*frameReq
	timers []*fakeTimer
	posted []func()
	seq    uint64
	wake   chan struct{}
}

// NewTicker creates a driver ticking at fps frames per second.
func NewTicker(fps int) *TickerDriver {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &TickerDriver{
		frameTime: time.Second / time.Duration(fps),
		wake:      make(chan struct{}, 1),
	}
}

// Now returns the wall clock time.
func (d *TickerDriver) Now() time.Time {
	return time.Now()
}

// RequestFrame schedules fn for the next tick.
func (d *TickerDriver) RequestFrame(fn func()) func() {
	req := &frameReq{fn: fn}
	d.mu.Lock()
	d.frames = append(d.frames, req)
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		req.canceled = true
		d.mu.Unlock()
	}
}

// AfterFunc schedules fn to run on the loop once d has elapsed.
func (d *TickerDriver) AfterFunc(delay time.Duration, fn func()) func() {
	d.mu.Lock()
	d.seq++
	t := &fakeTimer{at: time.Now().Add(delay), seq: d.seq, fn: fn}
	d.timers = append(d.timers, t)
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		t.canceled = true
		d.mu.Unlock()
	}
}

// Post runs fn on the loop as soon as possible. It is safe to call from
// any goroutine.
func (d *TickerDriver) Post(fn func()) {
	d.mu.Lock()
	d.posted = append(d.posted, fn)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run services the driver until ctx is done.
func (d *TickerDriver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.frameTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
			d.runPosted()
		case now := <-ticker.C:
			d.runPosted()
			d.runTimers(now)
			d.runFrame()
		}
	}
}

func (d *TickerDriver) runPosted() {
	d.mu.Lock()
	posted := d.posted
	d.posted = nil
	d.mu.Unlock()
	for _, fn := range posted {
		fn()
	}
}

func (d *TickerDriver) runTimers(now time.Time) {
	d.mu.Lock()
	var due []*fakeTimer
	keep := d.timers[:0]
	for _, t := range d.timers {
		switch {
		case t.canceled:
		case !t.at.After(now):
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	d.timers = keep
	d.mu.Unlock()

	for _, t := range due {
		d.mu.Lock()
		canceled := t.canceled
		d.mu.Unlock()
		if !canceled {
			t.fn()
		}
	}
}

func (d *TickerDriver) runFrame() {
	d.mu.Lock()
	batch := d.frames
	d.frames = nil
	d.mu.Unlock()
	for _, r := range batch {
		d.mu.Lock()
		canceled := r.canceled
		d.mu.Unlock()
		if !canceled {
			r.fn()
		}
	}
}
