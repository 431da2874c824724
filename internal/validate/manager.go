package validate

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dshills/whiteboard/internal/schedule"
	"github.com/dshills/whiteboard/internal/scene"
	"github.com/dshills/whiteboard/internal/store"
)

// FixLabel is the label passed to the fix scope for auto-fix passes.
const FixLabel = "auto-fix"

// Listener receives every completed report.
type Listener func(Report)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithAutoFix enables running issue fixes during each pass.
func WithAutoFix(on bool) Option {
	return func(m *Manager) { m.autoFix = on }
}

// WithScheduler makes ValidateDebounced wait for the next frame of d, and
// a further delay on clock when one is set. Without a scheduler
// ValidateDebounced runs immediately.
func WithScheduler(d schedule.Driver, clock schedule.Clock, delay time.Duration) Option {
	return func(m *Manager) {
		m.driver, m.clock, m.delay = d, clock, delay
	}
}

// WithGraph exposes the scene graph to validators.
func WithGraph(g scene.Graph) Option {
	return func(m *Manager) { m.graph = g }
}

// WithRecoverer sets what duplicate-identity fixes call.
func WithRecoverer(r IdentityRecoverer) Option {
	return func(m *Manager) { m.recoverer = r }
}

// WithFixScope wraps all fixes of one pass, e.g. in a single undo step.
// The signature matches history.History.WithUndo.
func WithFixScope(scope func(label string, fn func() error) error) Option {
	return func(m *Manager) { m.fixScope = scope }
}

// WithFixHold sets a predicate that postpones fixes while it returns true,
// e.g. history.History.InBatch so a fix never lands inside a user's open
// gesture. A postponed pass reports FixDeferred and schedules another
// debounced pass.
func WithFixHold(hold func() bool) Option {
	return func(m *Manager) { m.fixHold = hold }
}

type subscriber struct {
	id uint64
	fn Listener
}

// Manager owns the validator registry.
type Manager struct {
	st        *store.Store
	graph     scene.Graph
	recoverer IdentityRecoverer
	logger    *slog.Logger
	fixScope  func(string, func() error) error
	fixHold   func() bool

	driver    schedule.Driver
	clock     schedule.Clock
	delay     time.Duration
	debouncer *schedule.Debouncer

	mu         sync.Mutex
	validators []Validator
	autoFix    bool
	subs       []subscriber
	nextSub    uint64
	last       Report
	passes     int
	running    bool
	stopWatch  func()
}

// New creates a manager validating st.
func New(st *store.Store, opts ...Option) *Manager {
	m := &Manager{
		st:     st,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.driver != nil {
		m.debouncer = schedule.NewDebouncer(m.driver, m.clock, func() { m.ValidateNow() })
	}
	return m
}

// Register appends v to the registry.
func (m *Manager) Register(v Validator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.ContainsFunc(m.validators, func(x Validator) bool { return x.Name() == v.Name() }) {
		return fmt.Errorf("%w: %s", ErrDuplicateValidator, v.Name())
	}
	m.validators = append(m.validators, v)
	return nil
}

// MustRegister is Register that panics on error.
func (m *Manager) MustRegister(v Validator) {
	if err := m.Register(v); err != nil {
		panic(err)
	}
}

// Unregister removes the named validator. It returns false if none was
// registered.
func (m *Manager) Unregister(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.validators)
	m.validators = slices.DeleteFunc(m.validators, func(v Validator) bool { return v.Name() == name })
	return len(m.validators) != n
}

// Validators returns the registered names in run order.
func (m *Manager) Validators() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.validators))
	for i, v := range m.validators {
		out[i] = v.Name()
	}
	return out
}

// SetAutoFix toggles auto-fix.
func (m *Manager) SetAutoFix(on bool) {
	m.mu.Lock()
	m.autoFix = on
	m.mu.Unlock()
}

// AutoFix reports whether auto-fix is on.
func (m *Manager) AutoFix() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoFix
}

// Subscribe registers fn for every report.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subs = slices.DeleteFunc(m.subs, func(s subscriber) bool { return s.id == id })
	}
}

// Last returns the most recent report.
func (m *Manager) Last() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Watch requests a debounced pass after every store change. Calling it
// again replaces the previous subscription.
func (m *Manager) Watch() (stop func()) {
	m.mu.Lock()
	if m.stopWatch != nil {
		m.stopWatch()
	}
	unsub := m.st.Subscribe(func(store.Event) { m.ValidateDebounced() })
	m.stopWatch = unsub
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		unsub()
		m.stopWatch = nil
	}
}

// ValidateDebounced schedules a pass, replacing any pending one.
func (m *Manager) ValidateDebounced() {
	if m.debouncer == nil {
		m.ValidateNow()
		return
	}
	m.debouncer.Trigger(m.delay)
}

// Pending reports whether a debounced pass is scheduled.
func (m *Manager) Pending() bool {
	return m.debouncer != nil && m.debouncer.Pending()
}

// Cancel drops a pending debounced pass.
func (m *Manager) Cancel() {
	if m.debouncer != nil {
		m.debouncer.Cancel()
	}
}

// Close cancels pending work and stops watching the store.
func (m *Manager) Close() {
	m.Cancel()
	m.mu.Lock()
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	m.mu.Unlock()
}

// ValidateNow runs every validator, applies fixes when auto-fix is on and
// notifies subscribers. A call made while a pass is running returns the
// previous report.
func (m *Manager) ValidateNow() Report {
	m.mu.Lock()
	if m.running {
		last := m.last
		m.mu.Unlock()
		return last
	}
	m.running = true
	vals := slices.Clone(m.validators)
	autoFix := m.autoFix
	m.mu.Unlock()

	// A pass replaces any scheduled one.
	m.Cancel()

	var rep Report
	rep.Issues = m.collect(vals)
	if autoFix {
		m.fix(&rep)
		if len(rep.Fixed) > 0 {
			rep.Issues = m.collect(vals)
		}
	}

	m.mu.Lock()
	m.passes++
	rep.Pass = m.passes
	m.last = rep
	m.running = false
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	m.logger.Debug("validation pass", "pass", rep.Pass, "issues", len(rep.Issues), "fixed", len(rep.Fixed))
	for _, s := range subs {
		s.fn(rep)
	}
	return rep
}

func (m *Manager) context() *Context {
	return &Context{
		Doc:       m.st.Doc(),
		Store:     m.st,
		Graph:     m.graph,
		Recoverer: m.recoverer,
	}
}

func (m *Manager) collect(vals []Validator) []Issue {
	ctx := m.context()
	var out []Issue
	for _, v := range vals {
		issues, err := m.run(v, ctx)
		if err != nil {
			m.logger.Warn("validator failed", "validator", v.Name(), "error", err)
			out = append(out, Issue{
				Validator: v.Name(),
				Severity:  SeverityError,
				Code:      fmt.Errorf("%w: %w", ErrValidatorFailure, err),
				Message:   err.Error(),
			})
			continue
		}
		for _, i := range issues {
			if i.Validator == "" {
				i.Validator = v.Name()
			}
			out = append(out, i)
		}
	}
	return out
}

func (m *Manager) run(v Validator, ctx *Context) (issues []Issue, err error) {
	defer func() {
		if p := recover(); p != nil {
			issues, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return v.Validate(ctx)
}

func (m *Manager) fix(rep *Report) {
	var fixable []Issue
	for _, i := range rep.Issues {
		if i.Fixable() {
			fixable = append(fixable, i)
		}
	}
	if len(fixable) == 0 {
		return
	}
	if m.fixHold != nil && m.fixHold() {
		rep.FixDeferred = true
		m.logger.Debug("fix deferred", "fixable", len(fixable))
		if m.debouncer != nil {
			m.debouncer.Trigger(m.delay)
		}
		return
	}

	apply := func() error {
		for _, i := range fixable {
			if err := safeFix(i); err != nil {
				rep.FixErrors = append(rep.FixErrors, fmt.Errorf("fix %s: %w", i.Validator, err))
				m.logger.Warn("fix failed", "validator", i.Validator, "element", i.Element, "error", err)
				continue
			}
			rep.Fixed = append(rep.Fixed, i)
		}
		return nil
	}
	if m.fixScope == nil {
		_ = apply()
		return
	}
	if err := m.fixScope(FixLabel, apply); err != nil {
		rep.FixErrors = append(rep.FixErrors, err)
	}
}

func safeFix(i Issue) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return i.Fix()
}
