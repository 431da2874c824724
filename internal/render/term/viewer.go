package term

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/gdamore/tcell/v2"

	"github.com/dshills/whiteboard/internal/board"
	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/geom"
)

// Viewer key bindings.
const (
	PanStep    = 4 // cells per arrow press
	ZoomFactor = 1.25
)

// ViewerOption configures a Viewer.
type ViewerOption func(*Viewer)

// WithPainter replaces the default painter.
func WithPainter(p *Painter) ViewerOption {
	return func(v *Viewer) { v.painter = p }
}

// WithSavePath enables the save key, writing the document to path.
func WithSavePath(path string) ViewerOption {
	return func(v *Viewer) { v.savePath = path }
}

// WithViewerLogger sets the logger.
func WithViewerLogger(l *slog.Logger) ViewerOption {
	return func(v *Viewer) {
		if l != nil {
			v.logger = l
		}
	}
}

// Viewer shows a board on a tcell screen and maps keys to host commands.
// The last screen row is a status line.
type Viewer struct {
	board    *board.Board
	screen   tcell.Screen
	painter  *Painter
	frame    *Frame
	savePath string
	logger   *slog.Logger
	message  string
}

// NewViewer creates a viewer. The screen must already be initialized.
func NewViewer(b *board.Board, s tcell.Screen, opts ...ViewerOption) *Viewer {
	v := &Viewer{
		board:  b,
		screen: s,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.painter == nil {
		v.painter = NewPainter(WithBackground(b.Config().Render.Background))
	}
	v.frame = NewFrame(0, 0)
	v.resize()
	return v
}

// Frame returns the frame last drawn.
func (v *Viewer) Frame() *Frame {
	return v.frame
}

// Message returns the transient status message.
func (v *Viewer) Message() string {
	return v.message
}

func (v *Viewer) resize() {
	cols, rows := v.screen.Size()
	v.frame.Resize(cols, rows)
	w, h := v.painter.StageSize(cols, max(rows-1, 0))
	v.board.Viewport().Resize(w, h)
}

// Run draws the board and handles events until quit or ctx is done.
func (v *Viewer) Run(ctx context.Context) error {
	events := make(chan tcell.Event, 16)
	quit := make(chan struct{})
	go v.screen.ChannelEvents(events, quit)
	defer close(quit)

	v.Draw()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok || !v.HandleEvent(ev) {
				return nil
			}
			v.Draw()
		}
	}
}

// Draw flushes pending board work, paints the scene and shows the screen.
func (v *Viewer) Draw() {
	v.board.Flush()
	v.painter.Paint(v.frame, v.board.Graph())
	v.drawStatus()
	v.frame.Sync(v.screen)
	v.screen.Show()
}

func (v *Viewer) drawStatus() {
	cols, rows := v.frame.Size()
	if rows == 0 {
		return
	}
	y := rows - 1
	for x := range cols {
		v.frame.Set(x, y, Cell{Fg: tcell.ColorBlack, Bg: tcell.ColorSilver})
	}
	b := v.board
	vs := b.Viewport().State()
	hs := b.History().State()
	status := fmt.Sprintf(" %d elements | %d selected | %.0f%% | undo %d/%d",
		b.Store().Doc().Len(), b.Selection().Len(), vs.Scale*100, hs.Index+1, hs.Len)
	if hs.UndoLabel != "" {
		status += " (" + hs.UndoLabel + ")"
	}
	issues := len(b.Validator().Last().Issues)
	if issues > 0 {
		status += fmt.Sprintf(" | %d issues", issues)
	}
	if v.message != "" {
		status += " | " + v.message
	}
	v.frame.SetString(0, y, status, tcell.ColorBlack, cols)
}

// HandleEvent applies ev and reports whether the viewer keeps running.
func (v *Viewer) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		v.resize()
		v.frame.Invalidate()
		v.screen.Sync()
	case *tcell.EventKey:
		return v.handleKey(ev)
	case *tcell.EventMouse:
		if ev.Buttons()&tcell.Button1 != 0 {
			x, y := ev.Position()
			v.pick(x, y, ev.Modifiers()&tcell.ModShift != 0)
		}
	}
	return true
}

func (v *Viewer) handleKey(ev *tcell.EventKey) bool {
	b := v.board
	vp := b.Viewport()
	cw, ch := v.painter.CellSize()
	v.message = ""

	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyLeft:
		vp.PanBy(PanStep*cw, 0)
	case tcell.KeyRight:
		vp.PanBy(-PanStep*cw, 0)
	case tcell.KeyUp:
		vp.PanBy(0, PanStep*ch)
	case tcell.KeyDown:
		vp.PanBy(0, -PanStep*ch)
	case tcell.KeyTab:
		v.cycle(1)
	case tcell.KeyBacktab:
		v.cycle(-1)
	case tcell.KeyDelete, tcell.KeyBackspace, tcell.KeyBackspace2:
		v.report(b.DeleteSelected())
	case tcell.KeyRune:
		return v.handleRune(ev.Rune())
	}
	return true
}

func (v *Viewer) handleRune(r rune) bool {
	b := v.board
	vp := b.Viewport()
	w, h := vp.Size()
	cw, ch := v.painter.CellSize()
	scale := vp.State().Scale
	nudge := func(dx, dy float64) { v.report(b.Nudge(dx*cw/scale, dy*ch/scale)) }
	switch r {
	case 'q':
		return false
	case '+', '=':
		vp.ZoomAt(w/2, h/2, ZoomFactor)
	case '-', '_':
		vp.ZoomAt(w/2, h/2, 1/ZoomFactor)
	case 'f':
		b.FitToContent()
	case '0':
		b.ResetViewport()
	case 'd':
		v.report(b.DeleteSelected())
	case 'u':
		v.report(b.Undo())
	case 'r':
		v.report(b.Redo())
	case 'h':
		nudge(-1, 0)
	case 'l':
		nudge(1, 0)
	case 'k':
		nudge(0, -1)
	case 'j':
		nudge(0, 1)
	case 's':
		if v.savePath == "" {
			v.message = "no file to save to"
			break
		}
		if err := b.Save(v.savePath); err != nil {
			v.report(err)
			break
		}
		v.message = "saved"
	case 'v':
		rep := b.Validator().ValidateNow()
		v.message = fmt.Sprintf("%d issues, %d fixed", len(rep.Issues), len(rep.Fixed))
	}
	return true
}

func (v *Viewer) report(err error) {
	if err != nil {
		v.message = err.Error()
		v.logger.Warn("command failed", "error", err)
	}
}

// cycle moves the selection to the next (or previous) element in paint
// order.
func (v *Viewer) cycle(dir int) {
	order := v.board.Store().Doc().Order()
	if len(order) == 0 {
		return
	}
	next := 0
	if dir < 0 {
		next = len(order) - 1
	}
	if sel := v.board.Selection().IDs(); len(sel) > 0 {
		if i := slices.Index(order, sel[len(sel)-1]); i >= 0 {
			next = (i + dir + len(order)) % len(order)
		}
	}
	v.board.SetSelection(order[next])
}

// pick selects the topmost visible element under cell (x, y). Shift
// toggles it in the selection instead; a miss clears the selection.
func (v *Viewer) pick(x, y int, toggle bool) {
	b := v.board
	world := b.Viewport().StageToWorld(v.painter.CellToStage(x, y))
	cw, ch := v.painter.CellSize()
	scale := b.Viewport().State().Scale
	hit := geom.Rect{X: world.X - cw/2/scale, Y: world.Y - ch/2/scale, Width: cw / scale, Height: ch / scale}

	var found element.ID
	els := b.Store().Doc().Ordered()
	for i := len(els) - 1; i >= 0; i-- {
		if els[i].Visible && els[i].Bounds.Intersects(hit) {
			found = els[i].ID
			break
		}
	}
	switch {
	case found == "" && !toggle:
		b.Selection().Clear()
	case found == "":
	case toggle:
		b.Selection().Toggle(found)
	default:
		b.SetSelection(found)
	}
}
