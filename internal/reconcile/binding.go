package reconcile

import (
	"slices"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/scene"
	"github.com/dshills/whiteboard/internal/store"
	"github.com/dshills/whiteboard/internal/viewport"
)

// Input is the document state modules select from.
type Input struct {
	Doc       *store.Document
	Selection []element.ID
	Viewport  viewport.State
	Stage     geom.Size
}

// Module projects part of the input onto one or more layers.
type Module interface {
	Name() string
	Layers() []scene.LayerID

	// Update brings the module's nodes in line with in. It reports whether
	// anything was applied; the reconciler then schedules a redraw of the
	// module's layers.
	Update(ctx *Context, in Input) (applied bool, err error)
}

// Resetter is implemented by modules that can forget their last applied
// state so the next Update applies unconditionally.
type Resetter interface {
	Reset()
}

// Closer is implemented by modules that own nodes to destroy on
// unregistration.
type Closer interface {
	Close(ctx *Context)
}

// Binding describes a selector-driven module. Apply runs only when the
// selected value differs from the last applied one according to Equal. A
// nil Equal applies on every update.
type Binding[T any] struct {
	Name   string
	Layers []scene.LayerID
	Select func(Input) T
	Equal  func(a, b T) bool
	Apply  func(ctx *Context, prev, next T) error
}

type binding[T any] struct {
	spec   Binding[T]
	prev   T
	primed bool
}

// Bind turns b into a Module.
func Bind[T any](b Binding[T]) Module {
	return &binding[T]{spec: b}
}

// BindComparable binds a selector whose result is compared with ==.
func BindComparable[T comparable](b Binding[T]) Module {
	b.Equal = func(x, y T) bool { return x == y }
	return Bind(b)
}

// BindSlice binds a selector returning a slice compared element-wise
// with ==.
func BindSlice[E comparable](b Binding[[]E]) Module {
	b.Equal = func(x, y []E) bool { return slices.Equal(x, y) }
	return Bind(b)
}

func (b *binding[T]) Name() string            { return b.spec.Name }
func (b *binding[T]) Layers() []scene.LayerID { return b.spec.Layers }

func (b *binding[T]) Update(ctx *Context, in Input) (bool, error) {
	next := b.spec.Select(in)
	if b.primed && b.spec.Equal != nil && b.spec.Equal(b.prev, next) {
		return false, nil
	}
	if err := b.spec.Apply(ctx, b.prev, next); err != nil {
		return false, err
	}
	b.prev, b.primed = next, true
	return true, nil
}

func (b *binding[T]) Reset() {
	var zero T
	b.prev, b.primed = zero, false
}
