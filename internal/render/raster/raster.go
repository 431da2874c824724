// Package raster paints a scene graph into an image with gg.
//
// Layers are painted bottom to top, each under its own pan/zoom
// transform. Nodes on the highlighter layer that ask for the multiply
// blend are composited through a gg layer so strokes darken what lies
// beneath instead of covering it. Text is drawn only when a font face has
// been loaded; without one text nodes are skipped.
package raster

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gogpu/gg"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/dshills/whiteboard/internal/render"
	"github.com/dshills/whiteboard/internal/scene"
)

// ErrEmptyCanvas is returned for a zero or negative image size.
var ErrEmptyCanvas = errors.New("canvas has no area")

// Defaults.
const (
	DefaultBackground = "#ffffff" // painted under every layer
	DefaultFontSize   = 14.0      // points
)

// Option configures a Painter.
type Option func(*Painter)

// WithBackground sets the background colour. An unparsable colour keeps
// the default.
func WithBackground(hex string) Option {
	return func(p *Painter) {
		if c, ok := render.ParseColor(hex); ok {
			p.bg = c
		}
	}
}

// WithLayers restricts painting to the given layers.
func WithLayers(ids ...scene.LayerID) Option {
	return func(p *Painter) { p.layers = ids }
}

// WithFont loads a TrueType/OpenType face used for text nodes. The node's
// font size attribute is ignored; points is used for every node.
func WithFont(path string, points float64) Option {
	return func(p *Painter) {
		p.fontPath = path
		p.fontSize = points
		if points <= 0 {
			p.fontSize = DefaultFontSize
		}
	}
}

// WithLogger sets the logger. Nodes that fail to paint are logged at warn.
func WithLogger(l *slog.Logger) Option {
	return func(p *Painter) {
		if l != nil {
			p.logger = l
		}
	}
}

// Painter turns a scene graph into pixels.
type Painter struct {
	width, height int
	bg            render.Paint
	layers        []scene.LayerID
	fontPath      string
	fontSize      float64
	logger        *slog.Logger
}

// New creates a painter for a width x height image.
func New(width, height int, opts ...Option) *Painter {
	bg, _ := render.ParseColor(DefaultBackground)
	p := &Painter{
		width:  width,
		height: height,
		bg:     bg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the image size.
func (p *Painter) Size() (int, int) {
	return p.width, p.height
}

// Result summarizes one paint.
type Result struct {
	Painted int
	Skipped int
	Failed  int
}

// Paint draws g into a new gg context. The caller closes the context.
func (p *Painter) Paint(g scene.Graph) (*gg.Context, Result, error) {
	var res Result
	if p.width <= 0 || p.height <= 0 {
		return nil, res, fmt.Errorf("%w: %dx%d", ErrEmptyCanvas, p.width, p.height)
	}
	dc := gg.NewContext(p.width, p.height)
	if p.fontPath != "" {
		if err := dc.LoadFontFace(p.fontPath, p.fontSize); err != nil {
			_ = dc.Close()
			return nil, res, fmt.Errorf("load font %s: %w", p.fontPath, err)
		}
	}
	dc.ClearWithColor(rgba(p.bg.Color, p.bg.Alpha))

	items := render.Flatten(g, p.layers...)
	for i := 0; i < len(items); {
		layer := items[i].Layer
		j := i
		for j < len(items) && items[j].Layer == layer {
			j++
		}
		p.paintLayer(dc, g.Layer(layer).Transform(), items[i:j], &res)
		i = j
	}
	p.logger.Debug("painted", "nodes", res.Painted, "skipped", res.Skipped, "failed", res.Failed)
	return dc, res, nil
}

func (p *Painter) paintLayer(dc *gg.Context, t scene.Transform, items []render.Item, res *Result) {
	dc.Push()
	defer dc.Pop()
	dc.Identity()
	dc.Translate(t.X, t.Y)
	if t.Scale > 0 {
		dc.Scale(t.Scale, t.Scale)
	}
	for _, it := range items {
		blend := scene.String(it.Node, scene.AttrBlend, "")
		if blend == "multiply" {
			dc.PushLayer(gg.BlendMultiply, 1)
		}
		ok, err := p.paintItem(dc, it)
		if blend == "multiply" {
			dc.PopLayer()
		}
		switch {
		case err != nil:
			res.Failed++
			p.logger.Warn("paint failed", "layer", it.Layer, "key", it.Node.Key(), "kind", it.Node.Kind(), "error", err)
		case ok:
			res.Painted++
		default:
			res.Skipped++
		}
	}
}

// paintItem draws one node. It reports false for nodes with nothing to
// draw.
func (p *Painter) paintItem(dc *gg.Context, it render.Item) (painted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	n := it.Node
	opacity := it.Opacity()
	if opacity <= 0 {
		return false, nil
	}

	dc.Push()
	defer dc.Pop()
	if rot := it.Rotation(); rot != 0 {
		dc.RotateAbout(rot, it.Pivot.X, it.Pivot.Y)
	}

	width := scene.Float(n, scene.AttrStrokeWidth, 1)
	fill, hasFill := render.ParseColor(scene.String(n, scene.AttrFill, ""))
	stroke, hasStroke := render.ParseColor(scene.String(n, scene.AttrStroke, ""))
	if width <= 0 {
		hasStroke = false
	}

	switch n.Kind() {
	case scene.KindRect, scene.KindEllipse:
		box := it.Box()
		if box.Width == 0 && box.Height == 0 {
			return false, nil
		}
		outline := func() {
			if n.Kind() == scene.KindEllipse {
				c := box.Center()
				dc.DrawEllipse(c.X, c.Y, box.Width/2, box.Height/2)
				return
			}
			if r := scene.Float(n, scene.AttrCorner, 0); r > 0 {
				dc.DrawRoundedRectangle(box.X, box.Y, box.Width, box.Height, r)
				return
			}
			dc.DrawRectangle(box.X, box.Y, box.Width, box.Height)
		}
		if hasFill {
			outline()
			dc.SetColor(rgba(fill.Color, fill.Alpha*opacity).Color())
			if err := dc.Fill(); err != nil {
				return false, err
			}
		}
		if hasStroke {
			outline()
			setStroke(dc, n, stroke, opacity, width)
			if err := dc.Stroke(); err != nil {
				return false, err
			}
		}
		return hasFill || hasStroke, nil

	case scene.KindPath, scene.KindLine:
		pts := it.Points()
		if len(pts) == 0 || !hasStroke {
			return false, nil
		}
		dc.MoveTo(pts[0].X, pts[0].Y)
		if len(pts) == 1 {
			// A single tap still leaves a dot.
			dc.LineTo(pts[0].X+0.01, pts[0].Y)
		}
		for _, pt := range pts[1:] {
			dc.LineTo(pt.X, pt.Y)
		}
		setStroke(dc, n, stroke, opacity, width)
		dc.SetLineCap(gg.LineCapRound)
		dc.SetLineJoin(gg.LineJoinRound)
		return true, dc.Stroke()

	case scene.KindText:
		text := scene.String(n, scene.AttrText, "")
		if text == "" || dc.Font() == nil {
			return false, nil
		}
		col := colorful.Color{}
		alpha := opacity
		if c, ok := render.ParseColor(scene.String(n, scene.AttrStroke, "")); ok {
			col, alpha = c.Color, c.Alpha*opacity
		}
		dc.SetColor(rgba(col, alpha).Color())
		dc.DrawStringAnchored(text, it.Origin.X, it.Origin.Y, 0, 1)
		return true, nil
	}
	return false, nil
}

func setStroke(dc *gg.Context, n scene.Node, c render.Paint, opacity, width float64) {
	dc.SetColor(rgba(c.Color, c.Alpha*opacity).Color())
	dc.SetLineWidth(width)
	if v, ok := n.Attr(scene.AttrDash); ok {
		if dash, ok := v.([]float64); ok && len(dash) > 0 {
			dc.SetDash(dash...)
			return
		}
	}
	dc.ClearDash()
}

func rgba(c colorful.Color, alpha float64) gg.RGBA {
	r, g, b := c.Clamped().RGB255()
	return gg.RGBA2(float64(r)/255, float64(g)/255, float64(b)/255, alpha)
}

// Render paints g and returns the finished image.
func (p *Painter) Render(g scene.Graph) (image.Image, Result, error) {
	dc, res, err := p.Paint(g)
	if err != nil {
		return nil, res, err
	}
	defer dc.Close()
	return dc.Image(), res, nil
}

// WritePNG paints g and encodes it to w.
func (p *Painter) WritePNG(w io.Writer, g scene.Graph) (Result, error) {
	dc, res, err := p.Paint(g)
	if err != nil {
		return res, err
	}
	defer dc.Close()
	return res, dc.EncodePNG(w)
}

// SavePNG writes the PNG to path through a temporary file in the same
// directory so readers never see a partial image.
func (p *Painter) SavePNG(path string, g scene.Graph) (res Result, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if res, err = p.WritePNG(tmp, g); err != nil {
		_ = tmp.Close()
		return res, err
	}
	if err = tmp.Close(); err != nil {
		return res, err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return res, err
	}
	return res, os.Rename(tmp.Name(), path)
}
