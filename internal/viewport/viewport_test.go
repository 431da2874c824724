package viewport

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/whiteboard/internal/geom"
)

const eps = 1e-9

func assertPoint(t *testing.T, want, got geom.Point) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, eps, "x")
	assert.InDelta(t, want.Y, got.Y, eps, "y")
}

func TestNewViewport(t *testing.T) {
	v := New(0, -5)
	w, h := v.Size()
	assert.Equal(t, 1.0, w)
	assert.Equal(t, 1.0, h)
	assert.Equal(t, DefaultState(), v.State())
}

func TestSetScaleClamps(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"inside", 2, 2},
		{"below min", 0.01, DefaultMinScale},
		{"above max", 100, DefaultMaxScale},
		{"zero ignored", 0, 1},
		{"negative ignored", -2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(800, 600)
			v.SetScale(tt.in)
			assert.Equal(t, tt.want, v.State().Scale)
		})
	}
}

func TestSetBounds(t *testing.T) {
	v := New(800, 600)
	v.SetScale(4)
	require.NoError(t, v.SetBounds(0.5, 2))
	assert.Equal(t, 2.0, v.State().Scale)

	assert.ErrorIs(t, v.SetBounds(0, 2), ErrInvalidBounds)
	assert.ErrorIs(t, v.SetBounds(3, 2), ErrInvalidBounds)
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for range 200 {
		s := State{
			X:        r.Float64()*2000 - 1000,
			Y:        r.Float64()*2000 - 1000,
			Scale:    DefaultMinScale + r.Float64()*(DefaultMaxScale-DefaultMinScale),
			MinScale: DefaultMinScale,
			MaxScale: DefaultMaxScale,
		}
		p := geom.Pt(r.Float64()*10000-5000, r.Float64()*10000-5000)
		assert.InDelta(t, p.X, s.WorldToStage(s.StageToWorld(p)).X, 1e-6)
		assert.InDelta(t, p.Y, s.WorldToStage(s.StageToWorld(p)).Y, 1e-6)
		assert.InDelta(t, p.X, s.StageToWorld(s.WorldToStage(p)).X, 1e-6)
		assert.InDelta(t, p.Y, s.StageToWorld(s.WorldToStage(p)).Y, 1e-6)
	}
}

func TestZoomAtKeepsPointFixed(t *testing.T) {
	tests := []struct {
		name   string
		sx, sy float64
		factor float64
	}{
		{"zoom in", 300, 200, 1.5},
		{"zoom out", 10, 590, 0.5},
		{"origin", 0, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(800, 600)
			v.SetPan(40, -25)
			v.SetScale(1.2)

			before := v.StageToWorld(geom.Pt(tt.sx, tt.sy))
			v.ZoomAt(tt.sx, tt.sy, tt.factor)
			after := v.StageToWorld(geom.Pt(tt.sx, tt.sy))

			assertPoint(t, before, after)
			assert.InDelta(t, 1.2*tt.factor, v.State().Scale, eps)
		})
	}
}

func TestZoomAtClampedStillFixed(t *testing.T) {
	v := New(800, 600)
	before := v.StageToWorld(geom.Pt(123, 456))
	v.ZoomAt(123, 456, 1000)
	assert.Equal(t, DefaultMaxScale, v.State().Scale)
	assertPoint(t, before, v.StageToWorld(geom.Pt(123, 456)))
}

func TestFitToContent(t *testing.T) {
	v := New(800, 600)
	v.FitToContent([]geom.Rect{
		{X: 0, Y: 0, Width: 100, Height: 50},
		{X: 300, Y: 100, Width: 100, Height: 100},
	}, 50)
	s := v.State()

	// content 400x200, available 700x500: width limits.
	assert.InDelta(t, 700.0/400.0, s.Scale, eps)
	center := s.WorldToStage(geom.Pt(200, 100))
	assertPoint(t, geom.Pt(400, 300), center)

	box := s.RectToStage(geom.Rect{X: 0, Y: 0, Width: 400, Height: 200})
	assert.GreaterOrEqual(t, box.X, 50.0-eps)
	assert.LessOrEqual(t, box.X+box.Width, 750.0+eps)
}

func TestFitClampsScale(t *testing.T) {
	v := New(800, 600)
	v.Fit(geom.Rect{X: 0, Y: 0, Width: 1, Height: 1}, 0)
	assert.Equal(t, DefaultMaxScale, v.State().Scale)
}

func TestFitToContentEmptyResets(t *testing.T) {
	v := New(800, 600)
	v.SetPan(100, 100)
	v.SetScale(3)
	v.FitToContent(nil, 20)
	s := v.State()
	assert.Equal(t, 0.0, s.X)
	assert.Equal(t, 0.0, s.Y)
	assert.Equal(t, 1.0, s.Scale)
}

func TestSubscribe(t *testing.T) {
	v := New(800, 600)
	var got []State
	unsub := v.Subscribe(func(s State) { got = append(got, s) })

	v.SetPan(1, 2)
	v.SetPan(1, 2)
	v.SetScale(2)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[1].Scale)

	unsub()
	v.Reset()
	assert.Len(t, got, 2)
}

func TestRestore(t *testing.T) {
	v := New(800, 600)
	v.Restore(State{X: 5, Y: 6, Scale: 50, MinScale: 0.5, MaxScale: 4})
	assert.Equal(t, State{X: 5, Y: 6, Scale: 4, MinScale: 0.5, MaxScale: 4}, v.State())

	v.Restore(State{Scale: -1})
	assert.Equal(t, DefaultState(), v.State())
}

func TestVisibleWorld(t *testing.T) {
	v := New(800, 600)
	v.SetPan(-100, -50)
	v.SetScale(2)
	assert.Equal(t, geom.Rect{X: 50, Y: 25, Width: 400, Height: 300}, v.VisibleWorld())
}
