package persist

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
)

// migrations[v] converts version v to version v+1.
var migrations = map[int]func([]byte) ([]byte, error){
	1: migrateV1,
}

// Migrate converts data from version to CurrentVersion.
func Migrate(data []byte, version int) ([]byte, error) {
	for v := version; v < CurrentVersion; v++ {
		step, ok := migrations[v]
		if !ok {
			return nil, fmt.Errorf("%w: no migration from %d", ErrUnsupportedVersion, v)
		}
		var err error
		if data, err = step(data); err != nil {
			return nil, fmt.Errorf("migrate v%d: %w", v, err)
		}
	}
	return data, nil
}

// Version 1 type names.
var v1Kinds = map[string]element.Kind{
	"rect":        element.KindRectangle,
	"rectangle":   element.KindRectangle,
	"ellipse":     element.KindEllipse,
	"circle":      element.KindCircle,
	"pen":         element.KindFreehand,
	"freehand":    element.KindFreehand,
	"highlighter": element.KindHighlighter,
	"text":        element.KindText,
	"sticky":      element.KindStickyNote,
	"line":        element.KindConnector,
	"arrow":       element.KindConnector,
}

// migrateV1 rewrites the version 1 layout: a "shapes" array with "type",
// flat "x"/"y"/"w"/"h" fields and inline style keys, plus a "view" object
// whose "zoom" became "scale".
func migrateV1(data []byte) ([]byte, error) {
	root := gjson.ParseBytes(data)
	out := []byte(`{"version":2,"elements":[]}`)

	for i, sh := range root.Get("shapes").Array() {
		el, err := migrateShapeV1(sh)
		if err != nil {
			return nil, fmt.Errorf("shape %d: %w", i, err)
		}
		if out, err = sjson.SetRawBytes(out, "elements.-1", el); err != nil {
			return nil, err
		}
	}

	if view := root.Get("view"); view.Exists() {
		scale := 1.0
		if z := view.Get("zoom"); z.Exists() {
			scale = z.Float()
		}
		vp := map[string]float64{
			"x":     view.Get("x").Float(),
			"y":     view.Get("y").Float(),
			"scale": scale,
		}
		var err error
		if out, err = sjson.SetBytes(out, "viewport", vp); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func migrateShapeV1(sh gjson.Result) ([]byte, error) {
	typ := sh.Get("type").String()
	kind, ok := v1Kinds[typ]
	if !ok {
		return nil, fmt.Errorf("%w: unknown shape type %q", ErrMalformed, typ)
	}

	el := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			el, err = sjson.SetBytes(el, path, v)
		}
	}

	id := sh.Get("id").String()
	if id == "" {
		id = string(element.NewID())
	}
	set("id", id)
	set("kind", string(kind))
	set("position.x", sh.Get("x").Float())
	set("position.y", sh.Get("y").Float())
	if w, h := sh.Get("w"), sh.Get("h"); w.Exists() || h.Exists() {
		set("size.width", w.Float())
		set("size.height", h.Float())
	}
	if r := sh.Get("rotation"); r.Exists() {
		set("rotation", r.Float())
	}
	set("visible", !sh.Get("hidden").Bool())
	set("locked", sh.Get("locked").Bool())

	for _, key := range []string{element.StyleStroke, element.StyleFill, element.StyleOpacity} {
		if v := sh.Get(key); v.Exists() {
			set("style."+key, v.Value())
		}
	}

	if t := sh.Get("text"); t.Exists() {
		set("data.text", t.String())
	}
	if fs := sh.Get("fontSize"); fs.Exists() {
		set("data.fontSize", fs.Float())
	}
	if sw := sh.Get("strokeWidth"); sw.Exists() {
		set("data.strokeWidth", sw.Float())
	}

	pts := v1Points(sh.Get("points"))
	switch {
	case kind == element.KindConnector && len(pts) >= 2:
		set("data.start", pts[0])
		set("data.end", pts[len(pts)-1])
	case kind.IsPath() && len(pts) > 0:
		set("data.points", pts)
	}
	return el, err
}

// v1Points accepts both [[x,y],...] and [{"x":..,"y":..},...].
func v1Points(r gjson.Result) []geom.Point {
	var out []geom.Point
	for _, p := range r.Array() {
		if p.IsArray() {
			xy := p.Array()
			if len(xy) >= 2 {
				out = append(out, geom.Pt(xy[0].Float(), xy[1].Float()))
			}
			continue
		}
		out = append(out, geom.Pt(p.Get("x").Float(), p.Get("y").Float()))
	}
	return out
}
