// Package validate runs named validators over the document and reports
// issues without blocking the render loop.
//
// A validator inspects a Context and returns issues. Validators that fail or
// panic are contained and reported as error-severity issues; the rest of
// the pass still runs. Issues may carry a Fix, executed when auto-fix is
// enabled.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/scene"
	"github.com/dshills/whiteboard/internal/store"
)

// Issue codes. Issue.Code holds one of these, or a validator's own error.
var (
	ErrValidatorFailure  = errors.New("validator failure")
	ErrInvalidGeometry   = errors.New("invalid geometry")
	ErrDuplicateIdentity = errors.New("duplicate identity")
	ErrOrphanNode        = errors.New("orphan scene node")
	ErrBrokenOrder       = errors.New("broken paint order")
	ErrDanglingBinding   = errors.New("dangling connector binding")
)

// ErrDuplicateValidator is returned when registering a name twice.
var ErrDuplicateValidator = errors.New("validator already registered")

// Severity ranks an issue.
type Severity int

// Severities, lowest first.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity parses "info", "warning" (or "warn") and "error".
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", s)
}

// Issue is one finding of a validator.
type Issue struct {
	Validator string
	Severity  Severity
	Code      error
	Message   string
	Element   element.ID

	// Fix repairs the issue. Nil when the issue is not fixable.
	Fix func() error `json:"-"`
}

func (i Issue) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", i.Severity, i.Validator)
	if i.Element != "" {
		fmt.Fprintf(&b, " %s:", i.Element)
	}
	b.WriteString(" ")
	b.WriteString(i.Message)
	return b.String()
}

// Fixable reports whether the issue carries a fix.
func (i Issue) Fixable() bool {
	return i.Fix != nil
}

// IdentityRecoverer re-keys scene nodes that claim the same element id.
type IdentityRecoverer interface {
	RecoverIdentities() int
}

// Context is what validators see. Doc is always set; the other fields may
// be nil, in which case validators needing them skip their checks or omit
// the fix.
type Context struct {
	Doc       *store.Document
	Store     *store.Store
	Graph     scene.Graph
	Recoverer IdentityRecoverer
}

// Validator inspects the document.
type Validator interface {
	Name() string
	Validate(ctx *Context) ([]Issue, error)
}

type funcValidator struct {
	name string
	fn   func(*Context) ([]Issue, error)
}

func (f funcValidator) Name() string                           { return f.name }
func (f funcValidator) Validate(ctx *Context) ([]Issue, error) { return f.fn(ctx) }

// Func wraps a function as a Validator.
func Func(name string, fn func(*Context) ([]Issue, error)) Validator {
	return funcValidator{name: name, fn: fn}
}

// Report is the outcome of one validation pass.
type Report struct {
	// Issues lists what remains after any fixes were applied.
	Issues []Issue
	// Fixed lists issues whose fix ran without error.
	Fixed []Issue
	// FixErrors holds errors returned by failed fixes.
	FixErrors []error
	// FixDeferred is set when fixable issues were left for a later pass.
	FixDeferred bool
	// Pass numbers the report, starting at 1.
	Pass int
}

// Count returns the number of remaining issues of the given severity.
func (r Report) Count(s Severity) int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == s {
			n++
		}
	}
	return n
}

// HasErrors reports whether any error-severity issue remains.
func (r Report) HasErrors() bool {
	return r.Count(SeverityError) > 0
}

// Clean reports whether no issues remain.
func (r Report) Clean() bool {
	return len(r.Issues) == 0
}
