package validate

import (
	"fmt"
	"strings"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
	"github.com/dshills/whiteboard/internal/scene"
)

// Built-in validator names.
const (
	NameFiniteGeometry    = "finite-geometry"
	NameOrderPermutation  = "order-permutation"
	NameDuplicateIdentity = "duplicate-identity"
	NameOrphanNode        = "orphan-node"
	NameConnectorBinding  = "connector-binding"
)

// Builtins returns the built-in validators in run order.
func Builtins() []Validator {
	return []Validator{
		FiniteGeometry(),
		OrderPermutation(),
		ConnectorBinding(),
		DuplicateIdentity(),
		OrphanNode(),
	}
}

// elementLayers are the layers whose top-level nodes are keyed by element id.
var elementLayers = []scene.LayerID{scene.LayerMain, scene.LayerHighlighter}

// FiniteGeometry flags NaN or infinite numbers and non-positive font sizes
// or negative stroke widths. The fix zeroes non-finite values and restores
// defaults for the rest.
func FiniteGeometry() Validator {
	return Func(NameFiniteGeometry, func(ctx *Context) ([]Issue, error) {
		var out []Issue
		for _, el := range ctx.Doc.Ordered() {
			problems := geometryProblems(el)
			if len(problems) == 0 {
				continue
			}
			issue := Issue{
				Severity: SeverityError,
				Code:     ErrInvalidGeometry,
				Element:  el.ID,
				Message:  strings.Join(problems, ", "),
			}
			if st := ctx.Store; st != nil {
				id := el.ID
				issue.Fix = func() error {
					cur, ok := st.Doc().Get(id)
					if !ok {
						return fmt.Errorf("element %s: gone", id)
					}
					st.Upsert(Sanitize(cur))
					return nil
				}
			}
			out = append(out, issue)
		}
		return out, nil
	})
}

func geometryProblems(el *element.Element) []string {
	var p []string
	if !el.Position.IsFinite() {
		p = append(p, "non-finite position")
	}
	if !geom.IsFinite(el.Rotation) {
		p = append(p, "non-finite rotation")
	}
	switch g := el.Geometry.(type) {
	case *element.Shape:
		p = sizeProblems(p, g.Size)
	case *element.TextBlock:
		p = sizeProblems(p, g.Size)
		if !geom.IsFinite(g.FontSize) || g.FontSize <= 0 {
			p = append(p, "invalid font size")
		}
	case *element.Stroke:
		for _, pt := range g.Points {
			if !pt.IsFinite() {
				p = append(p, "non-finite point")
				break
			}
		}
		if !geom.IsFinite(g.Width) || g.Width < 0 {
			p = append(p, "invalid stroke width")
		}
	case *element.Connector:
		if !g.Start.IsFinite() || !g.End.IsFinite() {
			p = append(p, "non-finite endpoint")
		}
		if !geom.IsFinite(g.Width) || g.Width < 0 {
			p = append(p, "invalid stroke width")
		}
	case nil:
		p = append(p, "missing geometry")
	}
	return p
}

func sizeProblems(p []string, s geom.Size) []string {
	switch {
	case !s.IsFinite():
		return append(p, "non-finite size")
	case s.Width < 0 || s.Height < 0:
		return append(p, "negative size")
	}
	return p
}

// Sanitize returns a normalized copy of el with non-finite numbers zeroed,
// negative box sizes flipped into the position, invalid widths and font
// sizes reset to the kind default and non-finite stroke points dropped.
func Sanitize(el *element.Element) *element.Element {
	out := el.Clone()
	out.Position = finitePoint(out.Position)
	out.Rotation = finite(out.Rotation)
	def := element.DefaultGeometry(out.Kind)

	switch g := out.Geometry.(type) {
	case *element.Shape:
		out.Position, g.Size = positiveBox(out.Position, finiteSize(g.Size))
	case *element.TextBlock:
		out.Position, g.Size = positiveBox(out.Position, finiteSize(g.Size))
		if !geom.IsFinite(g.FontSize) || g.FontSize <= 0 {
			g.FontSize = element.DefaultFontSize
		}
	case *element.Stroke:
		pts := g.Points[:0]
		for _, pt := range g.Points {
			if pt.IsFinite() {
				pts = append(pts, pt)
			}
		}
		g.Points = pts
		if !geom.IsFinite(g.Width) || g.Width < 0 {
			if d, ok := def.(*element.Stroke); ok {
				g.Width = d.Width
			} else {
				g.Width = 0
			}
		}
	case *element.Connector:
		g.Start = finitePoint(g.Start)
		g.End = finitePoint(g.End)
		if !geom.IsFinite(g.Width) || g.Width < 0 {
			g.Width = 2
		}
	}
	out.Normalize()
	return out
}

func finite(v float64) float64 {
	if geom.IsFinite(v) {
		return v
	}
	return 0
}

func finitePoint(p geom.Point) geom.Point {
	return geom.Point{X: finite(p.X), Y: finite(p.Y)}
}

func finiteSize(s geom.Size) geom.Size {
	return geom.Size{Width: finite(s.Width), Height: finite(s.Height)}
}

// positiveBox moves the anchor to the top-left corner so the box covers the
// same area with a non-negative size.
func positiveBox(pos geom.Point, s geom.Size) (geom.Point, geom.Size) {
	if s.Width < 0 {
		pos.X += s.Width
		s.Width = -s.Width
	}
	if s.Height < 0 {
		pos.Y += s.Height
		s.Height = -s.Height
	}
	return pos, s
}

// OrderPermutation checks that the paint order lists every element exactly
// once.
func OrderPermutation() Validator {
	return Func(NameOrderPermutation, func(ctx *Context) ([]Issue, error) {
		var out []Issue
		order := ctx.Doc.Order()
		seen := make(map[element.ID]bool, len(order))
		for _, id := range order {
			switch {
			case seen[id]:
				out = append(out, Issue{Severity: SeverityError, Code: ErrBrokenOrder, Element: id,
					Message: "listed twice in paint order"})
			case !ctx.Doc.Has(id):
				out = append(out, Issue{Severity: SeverityError, Code: ErrBrokenOrder, Element: id,
					Message: "in paint order but not in the document"})
			}
			seen[id] = true
		}
		if len(seen) != ctx.Doc.Len() {
			out = append(out, Issue{Severity: SeverityError, Code: ErrBrokenOrder,
				Message: fmt.Sprintf("paint order has %d ids, document has %d elements", len(seen), ctx.Doc.Len())})
		}
		return out, nil
	})
}

// ConnectorBinding flags connectors bound to elements that no longer
// exist. The fix unbinds the dangling end.
func ConnectorBinding() Validator {
	return Func(NameConnectorBinding, func(ctx *Context) ([]Issue, error) {
		var out []Issue
		for _, el := range ctx.Doc.Ordered() {
			c, ok := el.Geometry.(*element.Connector)
			if !ok {
				continue
			}
			var patch element.Patch
			var ends []string
			if c.From != "" && !ctx.Doc.Has(c.From) {
				patch.From = element.Ptr(element.ID(""))
				ends = append(ends, "start bound to missing "+string(c.From))
			}
			if c.To != "" && !ctx.Doc.Has(c.To) {
				patch.To = element.Ptr(element.ID(""))
				ends = append(ends, "end bound to missing "+string(c.To))
			}
			if len(ends) == 0 {
				continue
			}
			issue := Issue{
				Severity: SeverityWarning,
				Code:     ErrDanglingBinding,
				Element:  el.ID,
				Message:  strings.Join(ends, ", "),
			}
			if st := ctx.Store; st != nil {
				id := el.ID
				issue.Fix = func() error { return st.Update(id, patch) }
			}
			out = append(out, issue)
		}
		return out, nil
	})
}

// DuplicateIdentity flags element layers where two nodes claim the same
// element id. The fix re-keys the later claimants.
func DuplicateIdentity() Validator {
	return Func(NameDuplicateIdentity, func(ctx *Context) ([]Issue, error) {
		if ctx.Graph == nil {
			return nil, nil
		}
		var out []Issue
		for _, id := range elementLayers {
			layer := ctx.Graph.Layer(id)
			if layer == nil {
				continue
			}
			seen := make(map[string]bool)
			for _, n := range layer.Root().Children() {
				key := n.Key()
				if key == "" {
					continue
				}
				if !seen[key] {
					seen[key] = true
					continue
				}
				issue := Issue{
					Severity: SeverityWarning,
					Code:     ErrDuplicateIdentity,
					Element:  element.ID(key),
					Message:  fmt.Sprintf("claimed by more than one node on layer %s", id),
				}
				if r := ctx.Recoverer; r != nil {
					issue.Fix = func() error {
						r.RecoverIdentities()
						return nil
					}
				}
				out = append(out, issue)
			}
		}
		return out, nil
	})
}

// OrphanNode flags element-keyed nodes whose element is gone. Nodes
// re-keyed by identity recovery are ignored.
func OrphanNode() Validator {
	return Func(NameOrphanNode, func(ctx *Context) ([]Issue, error) {
		if ctx.Graph == nil {
			return nil, nil
		}
		var out []Issue
		for _, id := range elementLayers {
			layer := ctx.Graph.Layer(id)
			if layer == nil {
				continue
			}
			for _, n := range layer.Root().Children() {
				key := n.Key()
				if key == "" || strings.Contains(key, "~dup") {
					continue
				}
				if !ctx.Doc.Has(element.ID(key)) {
					out = append(out, Issue{
						Severity: SeverityWarning,
						Code:     ErrOrphanNode,
						Element:  element.ID(key),
						Message:  fmt.Sprintf("node on layer %s has no element", id),
					})
				}
			}
		}
		return out, nil
	})
}
