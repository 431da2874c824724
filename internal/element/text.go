package element

import (
	"strings"

	"github.com/rivo/uniseg"

	"github.com/dshills/whiteboard/internal/geom"
)

// Text layout constants used to estimate text box sizes. Glyph shaping
// belongs to the graphics library; these only need to be stable.
const (
	DefaultFontSize = 16.0
	advanceRatio    = 0.6
	lineHeightRatio = 1.25
	textPadding     = 4.0
	minTextColumns  = 1
)

// MeasureText estimates the box needed to display text at fontSize. Width
// is driven by the widest line in grapheme clusters so combining marks and
// emoji sequences count once.
func MeasureText(text string, fontSize float64) geom.Size {
	if fontSize <= 0 {
		fontSize = DefaultFontSize
	}
	lines := strings.Split(text, "\n")
	widest := minTextColumns
	for _, line := range lines {
		if n := uniseg.StringWidth(line); n > widest {
			widest = n
		}
	}
	return geom.Size{
		Width:  float64(widest)*fontSize*advanceRatio + 2*textPadding,
		Height: float64(len(lines))*fontSize*lineHeightRatio + 2*textPadding,
	}
}

// GraphemeCount returns the number of user-perceived characters in s.
func GraphemeCount(s string) int {
	return uniseg.GraphemeClusterCount(s)
}
