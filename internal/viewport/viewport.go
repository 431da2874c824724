// Package viewport provides the pan/zoom transform between world and stage
// (screen) coordinates.
//
// The transform is stage = world*scale + (x, y). Scale is always kept inside
// [MinScale, MaxScale].
package viewport

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/dshills/whiteboard/internal/geom"
)

// Defaults.
const (
	DefaultMinScale = 0.1
	DefaultMaxScale = 8.0
)

// ErrInvalidBounds is returned when min/max scale are unusable.
var ErrInvalidBounds = errors.New("invalid scale bounds")

// State is the serializable viewport state.
type State struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Scale    float64 `json:"scale"`
	MinScale float64 `json:"minScale"`
	MaxScale float64 `json:"maxScale"`
}

// DefaultState returns the reset state.
func DefaultState() State {
	return State{Scale: 1, MinScale: DefaultMinScale, MaxScale: DefaultMaxScale}
}

// WorldToStage maps a world point to stage coordinates.
func (s State) WorldToStage(p geom.Point) geom.Point {
	return geom.Point{X: p.X*s.Scale + s.X, Y: p.Y*s.Scale + s.Y}
}

// StageToWorld maps a stage point to world coordinates.
func (s State) StageToWorld(p geom.Point) geom.Point {
	return geom.Point{X: (p.X - s.X) / s.Scale, Y: (p.Y - s.Y) / s.Scale}
}

// RectToStage maps a world rectangle to stage coordinates.
func (s State) RectToStage(r geom.Rect) geom.Rect {
	o := s.WorldToStage(r.Min())
	return geom.Rect{X: o.X, Y: o.Y, Width: r.Width * s.Scale, Height: r.Height * s.Scale}
}

// Listener receives the new state after each change.
type Listener func(State)

type subscriber struct {
	id uint64
	fn Listener
}

// Viewport holds the current transform and the stage size used by
// fitting.
type Viewport struct {
	mu sync.RWMutex

	state  State
	width  float64
	height float64

	subs   []subscriber
	nextID uint64
}

// New creates a viewport for a stage of the given size. Sizes below 1 are
// raised to 1.
func New(width, height float64) *Viewport {
	return &Viewport{
		state:  DefaultState(),
		width:  max(width, 1),
		height: max(height, 1),
	}
}

// State returns a copy of the current state.
func (v *Viewport) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Size returns the stage size.
func (v *Viewport) Size() (width, height float64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.width, v.height
}

// Resize updates the stage size. It does not move the transform.
func (v *Viewport) Resize(width, height float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.width = max(width, 1)
	v.height = max(height, 1)
}

// Subscribe registers fn and returns a function that removes it.
func (v *Viewport) Subscribe(fn Listener) (unsubscribe func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := v.nextID
	v.subs = append(v.subs, subscriber{id: id, fn: fn})
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.subs = slices.DeleteFunc(v.subs, func(s subscriber) bool { return s.id == id })
	}
}

// SetBounds changes the allowed scale range and re-clamps the scale.
func (v *Viewport) SetBounds(minScale, maxScale float64) error {
	if !(minScale > 0) || !(maxScale >= minScale) || math.IsInf(maxScale, 0) {
		return fmt.Errorf("%w: [%v, %v]", ErrInvalidBounds, minScale, maxScale)
	}
	v.update(func(s *State) {
		s.MinScale = minScale
		s.MaxScale = maxScale
		s.Scale = geom.Clamp(s.Scale, minScale, maxScale)
	})
	return nil
}

// SetPan sets the stage offset of the world origin. Non-finite values are
// ignored.
func (v *Viewport) SetPan(x, y float64) {
	if !geom.IsFinite(x) || !geom.IsFinite(y) {
		return
	}
	v.update(func(s *State) {
		s.X, s.Y = x, y
	})
}

// PanBy moves the pan offset by a stage delta.
func (v *Viewport) PanBy(dx, dy float64) {
	s := v.State()
	v.SetPan(s.X+dx, s.Y+dy)
}

// SetScale sets the zoom, clamped to the scale bounds. Non-positive or
// non-finite values are ignored.
func (v *Viewport) SetScale(scale float64) {
	if !(scale > 0) || !geom.IsFinite(scale) {
		return
	}
	v.update(func(s *State) {
		s.Scale = geom.Clamp(scale, s.MinScale, s.MaxScale)
	})
}

// ZoomAt multiplies the scale by factor while keeping the world point under
// the stage point (sx, sy) fixed.
func (v *Viewport) ZoomAt(sx, sy, factor float64) {
	if !(factor > 0) || !geom.IsFinite(factor) || !geom.IsFinite(sx) || !geom.IsFinite(sy) {
		return
	}
	v.update(func(s *State) {
		world := s.StageToWorld(geom.Point{X: sx, Y: sy})
		s.Scale = geom.Clamp(s.Scale*factor, s.MinScale, s.MaxScale)
		s.X = sx - world.X*s.Scale
		s.Y = sy - world.Y*s.Scale
	})
}

// Fit sets scale and pan so content plus padding stage pixels on every side
// fits the stage, centred. The smaller of the width and height fit is used.
func (v *Viewport) Fit(content geom.Rect, padding float64) {
	if !content.IsFinite() {
		return
	}
	padding = max(padding, 0)
	v.update(func(s *State) {
		availW := max(v.width-2*padding, 1)
		availH := max(v.height-2*padding, 1)

		scale := s.Scale
		switch {
		case content.Width > 0 && content.Height > 0:
			scale = math.Min(availW/content.Width, availH/content.Height)
		case content.Width > 0:
			scale = availW / content.Width
		case content.Height > 0:
			scale = availH / content.Height
		}
		s.Scale = geom.Clamp(scale, s.MinScale, s.MaxScale)

		c := content.Center()
		s.X = v.width/2 - c.X*s.Scale
		s.Y = v.height/2 - c.Y*s.Scale
	})
}

// FitToContent fits the union of rects. With no rects the viewport is
// reset.
func (v *Viewport) FitToContent(rects []geom.Rect, padding float64) {
	content, ok := geom.UnionAll(rects)
	if !ok {
		v.Reset()
		return
	}
	v.Fit(content, padding)
}

// Reset restores pan (0,0) and scale 1, keeping the scale bounds.
func (v *Viewport) Reset() {
	v.update(func(s *State) {
		s.X, s.Y = 0, 0
		s.Scale = geom.Clamp(1, s.MinScale, s.MaxScale)
	})
}

// Restore installs a saved state. Invalid bounds fall back to the defaults
// and the scale is re-clamped.
func (v *Viewport) Restore(st State) {
	if !(st.MinScale > 0) || !(st.MaxScale >= st.MinScale) || math.IsInf(st.MaxScale, 0) {
		st.MinScale, st.MaxScale = DefaultMinScale, DefaultMaxScale
	}
	if !(st.Scale > 0) || !geom.IsFinite(st.Scale) {
		st.Scale = 1
	}
	if !geom.IsFinite(st.X) || !geom.IsFinite(st.Y) {
		st.X, st.Y = 0, 0
	}
	st.Scale = geom.Clamp(st.Scale, st.MinScale, st.MaxScale)
	v.update(func(s *State) { *s = st })
}

// WorldToStage maps a world point with the current state.
func (v *Viewport) WorldToStage(p geom.Point) geom.Point {
	return v.State().WorldToStage(p)
}

// StageToWorld maps a stage point with the current state.
func (v *Viewport) StageToWorld(p geom.Point) geom.Point {
	return v.State().StageToWorld(p)
}

// VisibleWorld returns the world rectangle covered by the stage.
func (v *Viewport) VisibleWorld() geom.Rect {
	v.mu.RLock()
	s, w, h := v.state, v.width, v.height
	v.mu.RUnlock()
	return geom.RectFromPoints(s.StageToWorld(geom.Point{}), s.StageToWorld(geom.Point{X: w, Y: h}))
}

// update applies fn under the lock and notifies subscribers when the state
// changed.
func (v *Viewport) update(fn func(*State)) {
	v.mu.Lock()
	prev := v.state
	fn(&v.state)
	next := v.state
	subs := slices.Clone(v.subs)
	v.mu.Unlock()

	if next == prev {
		return
	}
	for _, s := range subs {
		s.fn(next)
	}
}
