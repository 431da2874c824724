package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
)

// DefaultScriptTimeout bounds one call of a script's validate function.
const DefaultScriptTimeout = time.Second

// Script errors.
var (
	ErrScriptClosed    = errors.New("script is closed")
	ErrNoValidateFunc  = errors.New("script does not define validate(doc)")
	ErrScriptIssue     = errors.New("script issue")
	ErrMalformedResult = errors.New("malformed script result")
)

// ScriptOption configures a Script.
type ScriptOption func(*Script)

// WithScriptTimeout sets the per-call timeout.
func WithScriptTimeout(d time.Duration) ScriptOption {
	return func(s *Script) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithScriptLogger routes the script's print calls to l.
func WithScriptLogger(l *slog.Logger) ScriptOption {
	return func(s *Script) {
		if l != nil {
			s.logger = l
		}
	}
}

// Script is a validator written in Lua. The script defines a global
//
//	function validate(doc) ... end
//
// doc.elements lists elements in paint order; each is a table with id,
// kind, x, y, width, height, rotation, visible, locked, style and the
// kind's geometry fields. validate returns a list of issue tables:
//
//	{ severity = "warning", message = "...", id = "...", code = "...",
//	  fix = { x = 0, y = 0, width = 10, height = 10, text = "", visible = true } }
//
// Scripts run with only the base, table, string and math libraries and
// without file loading.
type Script struct {
	name    string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

var _ Validator = (*Script)(nil)

// NewScript compiles source and returns a validator named name.
func NewScript(name, source string, opts ...ScriptOption) (*Script, error) {
	s := &Script{
		name:    name,
		timeout: DefaultScriptTimeout,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	s.installSandbox(L)
	s.L = L

	if err := s.protect(func() error { return L.DoString(source) }); err != nil {
		L.Close()
		return nil, fmt.Errorf("load script %s: %w", name, err)
	}
	if fn := L.GetGlobal("validate"); fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("load script %s: %w", name, ErrNoValidateFunc)
	}
	return s, nil
}

// LoadScript reads a Lua file. The validator is named after the file,
// without extension, prefixed with "lua:".
func LoadScript(path string, opts ...ScriptOption) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	name := "lua:" + strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return NewScript(name, string(data), opts...)
}

// openSafeLibraries opens the libraries that cannot reach the host.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

func (s *Script) installSandbox(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		s.logger.Info(strings.Join(parts, " "), "script", s.name)
		return 0
	}))
}

// Name returns the validator name.
func (s *Script) Name() string { return s.name }

// Close releases the Lua state.
func (s *Script) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

// Validate calls the script's validate function.
func (s *Script) Validate(vctx *Context) ([]Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrScriptClosed
	}
	L := s.L

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	L.SetContext(ctx)
	defer L.RemoveContext()

	doc := docTable(L, vctx)
	top := L.GetTop()
	err := s.protect(func() error {
		return L.CallByParam(lua.P{Fn: L.GetGlobal("validate"), NRet: 1, Protect: true}, doc)
	})
	if err != nil {
		L.SetTop(top)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("script %s: %w", s.name, ctx.Err())
		}
		return nil, fmt.Errorf("script %s: %w", s.name, err)
	}
	ret := L.Get(-1)
	L.SetTop(top)
	return s.issues(ret, vctx)
}

func (s *Script) protect(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("lua panic: %v", p)
		}
	}()
	return fn()
}

func docTable(L *lua.LState, ctx *Context) *lua.LTable {
	doc := L.NewTable()
	els := L.NewTable()
	for _, el := range ctx.Doc.Ordered() {
		els.Append(elementTable(L, el))
	}
	doc.RawSetString("elements", els)
	doc.RawSetString("count", lua.LNumber(ctx.Doc.Len()))
	doc.RawSetString("version", lua.LNumber(ctx.Doc.Version()))
	return doc
}

func elementTable(L *lua.LState, el *element.Element) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(el.ID))
	t.RawSetString("kind", lua.LString(el.Kind))
	t.RawSetString("x", lua.LNumber(el.Position.X))
	t.RawSetString("y", lua.LNumber(el.Position.Y))
	sz := el.Size()
	t.RawSetString("width", lua.LNumber(sz.Width))
	t.RawSetString("height", lua.LNumber(sz.Height))
	t.RawSetString("rotation", lua.LNumber(el.Rotation))
	t.RawSetString("visible", lua.LBool(el.Visible))
	t.RawSetString("locked", lua.LBool(el.Locked))

	b := L.NewTable()
	b.RawSetString("x", lua.LNumber(el.Bounds.X))
	b.RawSetString("y", lua.LNumber(el.Bounds.Y))
	b.RawSetString("width", lua.LNumber(el.Bounds.Width))
	b.RawSetString("height", lua.LNumber(el.Bounds.Height))
	t.RawSetString("bounds", b)

	style := L.NewTable()
	for k, v := range el.Style {
		switch x := v.(type) {
		case string:
			style.RawSetString(k, lua.LString(x))
		case float64:
			style.RawSetString(k, lua.LNumber(x))
		case int:
			style.RawSetString(k, lua.LNumber(x))
		case bool:
			style.RawSetString(k, lua.LBool(x))
		}
	}
	t.RawSetString("style", style)

	switch g := el.Geometry.(type) {
	case *element.TextBlock:
		t.RawSetString("text", lua.LString(g.Text))
		t.RawSetString("font_size", lua.LNumber(g.FontSize))
	case *element.Stroke:
		t.RawSetString("points", lua.LNumber(len(g.Points)))
		t.RawSetString("stroke_width", lua.LNumber(g.Width))
	case *element.Connector:
		t.RawSetString("from", lua.LString(g.From))
		t.RawSetString("to", lua.LString(g.To))
		t.RawSetString("stroke_width", lua.LNumber(g.Width))
	}
	return t
}

func (s *Script) issues(ret lua.LValue, ctx *Context) ([]Issue, error) {
	if ret == lua.LNil {
		return nil, nil
	}
	list, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: validate returned %s, want table", ErrMalformedResult, ret.Type())
	}
	var out []Issue
	for i := 1; i <= list.Len(); i++ {
		t, ok := list.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("%w: issue %d is not a table", ErrMalformedResult, i)
		}
		sev, err := ParseSeverity(luaString(t, "severity"))
		if err != nil {
			return nil, fmt.Errorf("%w: issue %d: %v", ErrMalformedResult, i, err)
		}
		issue := Issue{
			Validator: s.name,
			Severity:  sev,
			Code:      ErrScriptIssue,
			Message:   luaString(t, "message"),
			Element:   element.ID(luaString(t, "id")),
		}
		if code := luaString(t, "code"); code != "" {
			issue.Code = fmt.Errorf("%w: %s", ErrScriptIssue, code)
		}
		if fix, ok := t.RawGetString("fix").(*lua.LTable); ok && ctx.Store != nil && issue.Element != "" {
			cur, _ := ctx.Doc.Get(issue.Element)
			patch := fixPatch(fix, cur)
			if !patch.IsEmpty() {
				st, id := ctx.Store, issue.Element
				issue.Fix = func() error { return st.Update(id, patch) }
			}
		}
		out = append(out, issue)
	}
	return out, nil
}

// fixPatch converts a fix table into a patch. A coordinate pair given
// only in part keeps cur's other value.
func fixPatch(t *lua.LTable, cur *element.Element) element.Patch {
	var p element.Patch
	var pos geom.Point
	var size geom.Size
	if cur != nil {
		pos, size = cur.Position, cur.Size()
	}
	x, okX := luaNumber(t, "x")
	y, okY := luaNumber(t, "y")
	if okX || okY {
		if okX {
			pos.X = x
		}
		if okY {
			pos.Y = y
		}
		p.Position = &pos
	}
	w, okW := luaNumber(t, "width")
	h, okH := luaNumber(t, "height")
	if okW || okH {
		if okW {
			size.Width = w
		}
		if okH {
			size.Height = h
		}
		p.Size = &size
	}
	if r, ok := luaNumber(t, "rotation"); ok {
		p.Rotation = &r
	}
	if v, ok := t.RawGetString("text").(lua.LString); ok {
		p.Text = element.Ptr(string(v))
	}
	if v, ok := t.RawGetString("visible").(lua.LBool); ok {
		p.Visible = element.Ptr(bool(v))
	}
	return p
}

func luaString(t *lua.LTable, key string) string {
	if v, ok := t.RawGetString(key).(lua.LString); ok {
		return string(v)
	}
	return ""
}

func luaNumber(t *lua.LTable, key string) (float64, bool) {
	if v, ok := t.RawGetString(key).(lua.LNumber); ok {
		return float64(v), true
	}
	return 0, false
}
