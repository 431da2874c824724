package term

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/uniseg"
)

// Cell is one terminal cell. Text holds a grapheme cluster; an empty Text
// is a blank. Wide clusters occupy the next cell with a continuation cell.
type Cell struct {
	Text string
	Fg   tcell.Color
	Bg   tcell.Color

	cont bool
}

// Blank is an empty cell with default colours.
var Blank = Cell{Fg: tcell.ColorDefault, Bg: tcell.ColorDefault}

func (c Cell) style() tcell.Style {
	return tcell.StyleDefault.Foreground(c.Fg).Background(c.Bg)
}

// Frame is a double-buffered cell grid. Drawing goes to the back buffer;
// Sync pushes only the cells that differ from what was last shown.
type Frame struct {
	width, height int
	front, back   []Cell
	full          bool
}

// NewFrame creates a blank frame.
func NewFrame(width, height int) *Frame {
	f := &Frame{}
	f.Resize(width, height)
	return f
}

// Resize reallocates the buffers. The next Sync repaints everything.
func (f *Frame) Resize(width, height int) {
	width, height = max(width, 0), max(height, 0)
	if width == f.width && height == f.height && f.back != nil {
		return
	}
	f.width, f.height = width, height
	f.front = make([]Cell, width*height)
	f.back = make([]Cell, width*height)
	for i := range f.back {
		f.front[i] = Blank
		f.back[i] = Blank
	}
	f.full = true
}

// Size returns the frame dimensions.
func (f *Frame) Size() (width, height int) {
	return f.width, f.height
}

func (f *Frame) in(x, y int) bool {
	return x >= 0 && x < f.width && y >= 0 && y < f.height
}

// Clear blanks the back buffer with background bg.
func (f *Frame) Clear(bg tcell.Color) {
	for i := range f.back {
		f.back[i] = Cell{Fg: tcell.ColorDefault, Bg: bg}
	}
}

// Cell returns the back-buffer cell at (x, y).
func (f *Frame) Cell(x, y int) Cell {
	if !f.in(x, y) {
		return Blank
	}
	return f.back[y*f.width+x]
}

// Set writes a cell.
func (f *Frame) Set(x, y int, c Cell) {
	if f.in(x, y) {
		f.back[y*f.width+x] = c
	}
}

// SetRune draws r in fg, keeping the cell background.
func (f *Frame) SetRune(x, y int, r rune, fg tcell.Color) {
	if !f.in(x, y) {
		return
	}
	c := &f.back[y*f.width+x]
	c.Text, c.Fg, c.cont = string(r), fg, false
}

// SetBg paints the cell background, keeping its content.
func (f *Frame) SetBg(x, y int, bg tcell.Color) {
	if f.in(x, y) {
		f.back[y*f.width+x].Bg = bg
	}
}

// SetString writes s from (x, y) cluster by cluster and returns the
// number of columns used. Cells keep their background. Clipped at maxX.
func (f *Frame) SetString(x, y int, s string, fg tcell.Color, maxX int) int {
	col := x
	state := -1
	for len(s) > 0 {
		var cluster string
		var width int
		cluster, s, width, state = uniseg.FirstGraphemeClusterInString(s, state)
		if width == 0 {
			continue
		}
		if cluster == "\n" || cluster == "\r\n" {
			break
		}
		if col+width > maxX {
			break
		}
		if f.in(col, y) {
			c := &f.back[y*f.width+col]
			c.Text, c.Fg, c.cont = cluster, fg, false
			for i := 1; i < width; i++ {
				if f.in(col+i, y) {
					n := &f.back[y*f.width+col+i]
					n.Text, n.Fg, n.cont = "", fg, true
				}
			}
		}
		col += width
	}
	return col - x
}

// Text returns row y as a string with blanks as spaces. Continuation
// cells are skipped.
func (f *Frame) Text(y int) string {
	if y < 0 || y >= f.height {
		return ""
	}
	var out []byte
	for x := 0; x < f.width; x++ {
		c := f.back[y*f.width+x]
		switch {
		case c.cont:
		case c.Text == "":
			out = append(out, ' ')
		default:
			out = append(out, c.Text...)
		}
	}
	return string(out)
}

// Sync copies changed cells to s and returns how many were written. It
// does not call Show.
func (f *Frame) Sync(s tcell.Screen) int {
	n := 0
	for i, c := range f.back {
		if !f.full && c == f.front[i] {
			continue
		}
		x, y := i%f.width, i/f.width
		switch {
		case c.cont:
			// Owned by the wide cluster to the left.
		case c.Text == "":
			s.SetContent(x, y, ' ', nil, c.style())
		default:
			runes := []rune(c.Text)
			s.SetContent(x, y, runes[0], runes[1:], c.style())
		}
		f.front[i] = c
		n++
	}
	f.full = false
	return n
}

// Invalidate forces the next Sync to write every cell.
func (f *Frame) Invalidate() {
	f.full = true
}
