// Package board wires the whiteboard components into one editing surface.
//
// A Board owns an element store, its selection, a viewport, the undo
// history, the renderer reconciler and the validation manager. Every
// component gets its collaborators by explicit reference; nothing is looked
// up globally. The host commands (Undo, Redo, ResetViewport, SetSelection,
// DeleteSelected) are safe to call in any state.
package board

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/whiteboard/internal/config"
	"github.com/dshills/whiteboard/internal/history"
	"github.com/dshills/whiteboard/internal/logging"
	"github.com/dshills/whiteboard/internal/reconcile"
	"github.com/dshills/whiteboard/internal/scene"
	"github.com/dshills/whiteboard/internal/scene/retained"
	"github.com/dshills/whiteboard/internal/schedule"
	"github.com/dshills/whiteboard/internal/selection"
	"github.com/dshills/whiteboard/internal/store"
	"github.com/dshills/whiteboard/internal/validate"
	"github.com/dshills/whiteboard/internal/viewport"
)

// InitError reports a component that failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Option configures a Board.
type Option func(*options)

type options struct {
	cfg        *config.Config
	logger     *slog.Logger
	graph      scene.Graph
	driver     schedule.Driver
	clock      schedule.Clock
	metrics    *reconcile.Metrics
	validators []validate.Validator
	now        func() time.Time
	noScripts  bool
}

// WithConfig sets the configuration. The default is config.Default().
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the root logger; each component logs under its own name.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithGraph sets the scene graph. The default is an in-memory retained
// graph.
func WithGraph(g scene.Graph) Option {
	return func(o *options) { o.graph = g }
}

// WithDriver sets the frame driver used for redraws and debounced
// validation. The default is a manual driver flushed by Flush.
func WithDriver(d schedule.Driver) Option {
	return func(o *options) { o.driver = d }
}

// WithClock sets the clock used for the validation delay. Without one,
// debounced validation runs on the next frame.
func WithClock(c schedule.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics sets the reconciler metrics sink.
func WithMetrics(m *reconcile.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithValidators registers extra validators after the built-in ones.
func WithValidators(v ...validate.Validator) Option {
	return func(o *options) { o.validators = append(o.validators, v...) }
}

// WithHistoryClock sets the time source for history merge windows.
func WithHistoryClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithoutScripts skips loading the Lua validators named in the config.
func WithoutScripts() Option {
	return func(o *options) { o.noScripts = true }
}

// Board is one open whiteboard document.
type Board struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *store.Store
	selection  *selection.Manager
	viewport   *viewport.Viewport
	history    *history.History
	graph      scene.Graph
	driver     schedule.Driver
	reconciler *reconcile.Reconciler
	validator  *validate.Manager
	scripts    []*validate.Script

	// gestures holds the open gestures, outermost first.
	gestures []*Gesture
	stops    []func()
}

// New builds a board with an empty document.
func New(opts ...Option) (*Board, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cfg == nil {
		o.cfg = config.Default()
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}
	if o.graph == nil {
		o.graph = retained.New()
	}
	if o.driver == nil {
		o.driver = schedule.NewManualDriver()
	}
	cfg := o.cfg

	b := &Board{
		cfg:    cfg,
		logger: logging.Component(o.logger, "board"),
		graph:  o.graph,
		driver: o.driver,
	}

	b.store = store.New()
	b.selection = selection.New(b.store)

	b.viewport = viewport.New(float64(cfg.Viewport.Width), float64(cfg.Viewport.Height))
	if err := b.viewport.SetBounds(cfg.Viewport.MinScale, cfg.Viewport.MaxScale); err != nil {
		return nil, &InitError{Component: "viewport", Err: err}
	}

	histOpts := []history.Option{
		history.WithMergeWindow(cfg.History.MergeWindow.Std()),
		history.WithLogger(logging.Component(o.logger, "history")),
	}
	if cfg.History.MaxEntries > 0 {
		histOpts = append(histOpts, history.WithMaxEntries(cfg.History.MaxEntries))
	}
	if o.now != nil {
		histOpts = append(histOpts, history.WithClock(o.now))
	}
	b.history = history.New(histOpts...)

	b.reconciler = reconcile.New(b.graph, b.driver,
		reconcile.WithLogger(logging.Component(o.logger, "reconcile")),
		reconcile.WithMetrics(o.metrics),
	)
	for _, m := range reconcile.Defaults(cfg.Render.GridSize) {
		if m.Name() == reconcile.ModuleGrid && !cfg.Render.ShowGrid {
			continue
		}
		if err := b.reconciler.Register(m); err != nil {
			return nil, &InitError{Component: "reconciler", Err: err}
		}
	}

	b.validator = validate.New(b.store,
		validate.WithLogger(logging.Component(o.logger, "validate")),
		validate.WithAutoFix(cfg.Validation.AutoFix),
		validate.WithScheduler(b.driver, o.clock, cfg.Validation.Debounce.Std()),
		validate.WithGraph(b.graph),
		validate.WithRecoverer(b.reconciler),
		validate.WithFixScope(b.history.WithUndo),
		validate.WithFixHold(b.history.InBatch),
	)
	for _, v := range append(validate.Builtins(), o.validators...) {
		if err := b.validator.Register(v); err != nil {
			return nil, &InitError{Component: "validator", Err: err}
		}
	}
	if !o.noScripts {
		if err := b.loadScripts(cfg.Validation, o.logger); err != nil {
			b.closeScripts()
			return nil, &InitError{Component: "validator", Err: err}
		}
	}

	// The selection manager subscribed to the store first, so it prunes
	// before the reconciler and the recorder see an event.
	b.stops = append(b.stops,
		b.reconciler.Watch(b.store, b.selection, b.viewport),
		b.store.Subscribe(b.recordStore),
		b.selection.Subscribe(b.recordSelection),
		b.validator.Watch(),
	)
	b.logger.Debug("board ready",
		"modules", b.reconciler.Modules(),
		"validators", b.validator.Validators())
	return b, nil
}

func (b *Board) loadScripts(cfg config.ValidationConfig, root *slog.Logger) error {
	for _, path := range cfg.Scripts {
		s, err := validate.LoadScript(path,
			validate.WithScriptTimeout(cfg.ScriptTimeout.Std()),
			validate.WithScriptLogger(logging.Component(root, "lua")))
		if err != nil {
			return err
		}
		b.scripts = append(b.scripts, s)
		if err := b.validator.Register(s); err != nil {
			return err
		}
	}
	return nil
}

func (b *Board) closeScripts() {
	for _, s := range b.scripts {
		s.Close()
	}
	b.scripts = nil
}

// recordStore feeds element changes into the open history batch. Outside a
// batch, and during undo/redo replay, History drops them.
func (b *Board) recordStore(ev store.Event) {
	if ev.Reset {
		return
	}
	for _, c := range ev.Changes {
		b.history.Record(b.store.Op(c))
	}
}

// recordSelection records explicit selection changes. Pruning that
// follows a store change is undone by the store op itself.
func (b *Board) recordSelection(ev selection.Event) {
	if ev.Derived {
		return
	}
	b.history.Record(b.selection.Op(ev.Before, ev.After))
}

// Close detaches every subscription and releases Lua states.
func (b *Board) Close() {
	for i := len(b.stops) - 1; i >= 0; i-- {
		b.stops[i]()
	}
	b.stops = nil
	b.validator.Close()
	b.reconciler.ClearPreview()
	b.selection.Close()
	b.closeScripts()
}

// Store returns the element store.
func (b *Board) Store() *store.Store { return b.store }

// Selection returns the selection manager.
func (b *Board) Selection() *selection.Manager { return b.selection }

// Viewport returns the viewport.
func (b *Board) Viewport() *viewport.Viewport { return b.viewport }

// History returns the undo history.
func (b *Board) History() *history.History { return b.history }

// Reconciler returns the renderer reconciler.
func (b *Board) Reconciler() *reconcile.Reconciler { return b.reconciler }

// Validator returns the validation manager.
func (b *Board) Validator() *validate.Manager { return b.validator }

// Graph returns the scene graph.
func (b *Board) Graph() scene.Graph { return b.graph }

// Config returns the configuration the board was built with.
func (b *Board) Config() *config.Config { return b.cfg }

// Flush runs scheduled frames when the board drives its own frames, then
// issues any redraw still pending. It returns the number of frames run.
func (b *Board) Flush() int {
	n := 0
	if d, ok := b.driver.(*schedule.ManualDriver); ok {
		n = d.FlushAll(16)
	}
	b.reconciler.Flush()
	return n
}
