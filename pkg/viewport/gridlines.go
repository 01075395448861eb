package viewport

import (
	"math"
	"strconv"
)

// Axis names which increment produced a guide line.
type Axis string

const (
	// AxisX guides are horizontal: they sit at a y position and span the view width.
	AxisX Axis = "x"
	// AxisY guides are vertical: they sit at an x position and span the view height.
	AxisY Axis = "y"
)

// MaxGridLinesPerAxis caps the output when the increment is tiny compared to
// the visible extent.
const MaxGridLinesPerAxis = 4096

// GridLine is one synthesised guide and the segment it occupies in the view.
type GridLine struct {
	Axis     Axis    `json:"axis"`
	Position float64 `json:"position"`
	X1       float64 `json:"x1"`
	Y1       float64 `json:"y1"`
	X2       float64 `json:"x2"`
	Y2       float64 `json:"y2"`
	// LabelX/LabelY anchor the caption: left edge for horizontal guides,
	// bottom edge for vertical ones.
	LabelX float64 `json:"labelX"`
	LabelY float64 `json:"labelY"`
	Label  string  `json:"label"`
}

// Key identifies the line within one rendering.
func (g GridLine) Key() string {
	return "axline-" + string(g.Axis) + "-" + strconv.FormatFloat(g.Position, 'g', -1, 64)
}

// GridLines returns the guides for view, horizontal ones first. The result
// depends only on its arguments.
func GridLines(view ViewRect, inc AxisLines) []GridLine {
	if !view.valid() {
		return nil
	}
	var out []GridLine

	if validIncrement(inc.X) {
		for _, y := range steps(view.Y, view.H, inc.X) {
			out = append(out, GridLine{
				Axis:     AxisX,
				Position: y,
				X1:       view.X,
				Y1:       y,
				X2:       view.X + view.W,
				Y2:       y,
				LabelX:   view.X,
				LabelY:   y,
				Label:    label(y),
			})
		}
	}

	if validIncrement(inc.Y) {
		for _, x := range steps(view.X, view.W, inc.Y) {
			out = append(out, GridLine{
				Axis:     AxisY,
				Position: x,
				X1:       x,
				Y1:       view.Y,
				X2:       x,
				Y2:       view.Y + view.H,
				LabelX:   x,
				LabelY:   view.Y + view.H,
				Label:    label(x),
			})
		}
	}
	return out
}

// steps lists multiples of inc from the one at or below lower while they stay
// below lower+extent. Positions are computed from the index rather than by
// repeated addition so rounding error does not accumulate.
func steps(lower, extent, inc float64) []float64 {
	start := math.Floor(lower/inc) * inc
	end := lower + extent
	var out []float64
	for i := 0; i < MaxGridLinesPerAxis; i++ {
		p := start + float64(i)*inc
		if p >= end {
			break
		}
		out = append(out, p)
	}
	return out
}

func label(v float64) string {
	// avoid "-0.00" for tiny negative rounding
	if math.Abs(v) < 0.005 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
