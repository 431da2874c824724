// Package reconcile keeps a layered scene graph in line with the document.
//
// Modules register a selector over the current Input. On every store,
// selection or viewport change the reconciler re-evaluates each selector and
// runs a module's apply step only when its slice changed. Layers touched by
// an apply are marked dirty; one redraw per dirty layer is issued on the
// next frame no matter how many mutations happened in between.
//
// A module that returns an error or panics is logged and skipped; the other
// modules still run and the frame is still produced.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dshills/whiteboard/internal/schedule"
	"github.com/dshills/whiteboard/internal/scene"
	"github.com/dshills/whiteboard/internal/selection"
	"github.com/dshills/whiteboard/internal/store"
	"github.com/dshills/whiteboard/internal/viewport"
)

// Errors.
var (
	ErrDuplicateModule = errors.New("module already registered")
	ErrUnknownModule   = errors.New("module not registered")
)

// ModuleError wraps a failure of one module's apply step.
type ModuleError struct {
	Module string
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s: %v", e.Module, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// Stats counts reconciler work since creation.
type Stats struct {
	Updates    int
	Applies    int
	Skips      int
	Failures   int
	Frames     int
	Redraws    [scene.LayerCount]int
	Created    int
	Patched    int
	Destroyed  int
	Duplicates int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

type moduleState struct {
	module Module
	stale  bool
}

// Reconciler owns the scene graph. No other component mutates its nodes.
type Reconciler struct {
	graph   scene.Graph
	queue   *schedule.Queue
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	input    Input
	modules  []*moduleState
	dirty    [scene.LayerCount]bool
	updating bool
	again    bool
	stats    Stats
	previews map[string]*PreviewScope
	lastErr  error
}

// New creates a reconciler writing to graph and scheduling redraws on
// driver.
func New(graph scene.Graph, driver schedule.Driver, opts ...Option) *Reconciler {
	r := &Reconciler{
		graph:    graph,
		logger:   slog.New(slog.DiscardHandler),
		previews: make(map[string]*PreviewScope),
		input:    Input{Doc: store.NewDocument(nil), Viewport: viewport.DefaultState()},
	}
	r.queue = schedule.NewQueue(driver, r.frame)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Graph returns the scene graph.
func (r *Reconciler) Graph() scene.Graph {
	return r.graph
}

// Input returns the last input.
func (r *Reconciler) Input() Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.input
}

// Watch subscribes to the store, selection manager and viewport and
// reconciles on each of their events. Any source may be nil. The returned
// function unsubscribes from all of them.
func (r *Reconciler) Watch(st *store.Store, sel *selection.Manager, vp *viewport.Viewport) (stop func()) {
	var stops []func()

	r.mu.Lock()
	if st != nil {
		r.input.Doc = st.Doc()
	}
	if sel != nil {
		r.input.Selection = sel.IDs()
	}
	if vp != nil {
		r.input.Viewport = vp.State()
		w, h := vp.Size()
		r.input.Stage.Width, r.input.Stage.Height = w, h
	}
	r.mu.Unlock()

	if st != nil {
		stops = append(stops, st.Subscribe(func(ev store.Event) {
			r.modify(func(in *Input) { in.Doc = ev.Doc })
		}))
	}
	if sel != nil {
		stops = append(stops, sel.Subscribe(func(ev selection.Event) {
			r.modify(func(in *Input) { in.Selection = ev.After })
		}))
	}
	if vp != nil {
		stops = append(stops, vp.Subscribe(func(s viewport.State) {
			w, h := vp.Size()
			r.modify(func(in *Input) {
				in.Viewport = s
				in.Stage.Width, in.Stage.Height = w, h
			})
		}))
	}
	r.Refresh()
	return func() {
		for _, s := range stops {
			s()
		}
	}
}

// Update replaces the input and reconciles.
func (r *Reconciler) Update(in Input) {
	r.modify(func(cur *Input) { *cur = in })
}

// Refresh reconciles against the current input, e.g. after a stage resize.
func (r *Reconciler) Refresh() {
	r.modify(func(*Input) {})
}

func (r *Reconciler) modify(fn func(*Input)) {
	r.mu.Lock()
	fn(&r.input)
	if r.input.Doc == nil {
		r.input.Doc = store.NewDocument(nil)
	}
	if r.updating {
		// Reentrant change from inside a module; handled by the running loop.
		r.again = true
		r.mu.Unlock()
		return
	}
	r.updating = true
	r.mu.Unlock()

	for {
		r.run()

		r.mu.Lock()
		if !r.again {
			r.updating = false
			r.mu.Unlock()
			return
		}
		r.again = false
		r.mu.Unlock()
	}
}

// run evaluates every module once.
func (r *Reconciler) run() {
	r.mu.Lock()
	in := r.input
	mods := slices.Clone(r.modules)
	r.stats.Updates++
	r.mu.Unlock()
	r.metrics.update()

	for _, ms := range mods {
		r.runModule(ms, in)
	}
}

func (r *Reconciler) runModule(ms *moduleState, in Input) {
	name := ms.module.Name()
	if ms.stale {
		if rs, ok := ms.module.(Resetter); ok {
			rs.Reset()
		}
		ms.stale = false
	}

	applied, err := r.safeUpdate(ms.module, in)
	if err != nil {
		ms.stale = true
		err = &ModuleError{Module: name, Err: err}
		r.logger.Warn("reconcile module failed", "module", name, "error", err)
		r.metrics.failure(name)
		r.mu.Lock()
		r.stats.Failures++
		r.lastErr = err
		r.mu.Unlock()
		// The module may have touched its layers before failing.
		for _, l := range ms.module.Layers() {
			r.invalidate(l)
		}
		return
	}

	r.mu.Lock()
	if applied {
		r.stats.Applies++
	} else {
		r.stats.Skips++
	}
	r.mu.Unlock()

	if applied {
		r.metrics.apply(name)
		for _, l := range ms.module.Layers() {
			r.invalidate(l)
		}
	}
}

func (r *Reconciler) safeUpdate(m Module, in Input) (applied bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			applied = false
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return m.Update(&Context{r: r, module: m.Name()}, in)
}

// Register adds m after the existing modules and runs it against the
// current input.
func (r *Reconciler) Register(m Module) error {
	r.mu.Lock()
	for _, ms := range r.modules {
		if ms.module.Name() == m.Name() {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name())
		}
	}
	ms := &moduleState{module: m}
	r.modules = append(r.modules, ms)
	in := r.input
	r.mu.Unlock()

	r.runModule(ms, in)
	return nil
}

// MustRegister is Register that panics on error.
func (r *Reconciler) MustRegister(m Module) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Unregister removes the named module, letting it destroy its nodes.
func (r *Reconciler) Unregister(name string) error {
	r.mu.Lock()
	idx := slices.IndexFunc(r.modules, func(ms *moduleState) bool { return ms.module.Name() == name })
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	ms := r.modules[idx]
	r.modules = slices.Delete(r.modules, idx, idx+1)
	r.mu.Unlock()

	if c, ok := ms.module.(Closer); ok {
		c.Close(&Context{r: r, module: name})
	}
	for _, l := range ms.module.Layers() {
		r.invalidate(l)
	}
	return nil
}

// Modules returns the registered module names in run order.
func (r *Reconciler) Modules() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.modules))
	for i, ms := range r.modules {
		out[i] = ms.module.Name()
	}
	return out
}

// Module returns the registered module with the given name.
func (r *Reconciler) Module(name string) (Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ms := range r.modules {
		if ms.module.Name() == name {
			return ms.module, true
		}
	}
	return nil, false
}

// Invalidate forces every module to re-apply on the next change and
// reconciles now.
func (r *Reconciler) Invalidate() {
	r.mu.Lock()
	for _, ms := range r.modules {
		ms.stale = true
	}
	r.mu.Unlock()
	r.Refresh()
}

// invalidate marks a layer dirty and requests a frame.
func (r *Reconciler) invalidate(l scene.LayerID) {
	if int(l) >= scene.LayerCount {
		return
	}
	r.mu.Lock()
	r.dirty[l] = true
	r.mu.Unlock()
	r.queue.Request()
}

// RedrawPending returns true while a frame is scheduled.
func (r *Reconciler) RedrawPending() bool {
	return r.queue.Pending()
}

// Flush issues pending redraws now instead of on the next frame.
func (r *Reconciler) Flush() {
	if !r.queue.Pending() {
		return
	}
	r.queue.Cancel()
	r.frame()
}

// frame issues one redraw for every dirty layer, bottom to top.
func (r *Reconciler) frame() {
	r.mu.Lock()
	dirty := r.dirty
	r.dirty = [scene.LayerCount]bool{}
	r.stats.Frames++
	for i, d := range dirty {
		if d {
			r.stats.Redraws[i]++
		}
	}
	r.mu.Unlock()

	for _, id := range scene.Layers() {
		if !dirty[id] {
			continue
		}
		if l := r.graph.Layer(id); l != nil {
			l.RequestRedraw()
		}
		r.metrics.redraw(id)
	}
}

// Stats returns a copy of the counters.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// LastError returns the most recent module failure, if any.
func (r *Reconciler) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Reconciler) countNode(l scene.LayerID, op string) {
	r.mu.Lock()
	switch op {
	case opCreate:
		r.stats.Created++
	case opPatch:
		r.stats.Patched++
	case opDestroy:
		r.stats.Destroyed++
	}
	r.mu.Unlock()
	r.metrics.node(l, op)
}

const (
	opCreate  = "create"
	opPatch   = "patch"
	opDestroy = "destroy"
)

// Context is handed to modules during Update.
type Context struct {
	r      *Reconciler
	module string
}

// Layer returns a layer of the graph.
func (c *Context) Layer(id scene.LayerID) scene.Layer {
	return c.r.graph.Layer(id)
}

// Logger returns a logger tagged with the module name.
func (c *Context) Logger() *slog.Logger {
	return c.r.logger.With("module", c.module)
}

// Invalidate marks a layer dirty.
func (c *Context) Invalidate(id scene.LayerID) {
	c.r.invalidate(id)
}

// Created records a node creation.
func (c *Context) Created(l scene.LayerID) { c.r.countNode(l, opCreate) }

// Patched records an in-place node update.
func (c *Context) Patched(l scene.LayerID) { c.r.countNode(l, opPatch) }

// Destroyed records a node destruction.
func (c *Context) Destroyed(l scene.LayerID) { c.r.countNode(l, opDestroy) }
