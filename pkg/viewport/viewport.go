// Package viewport keeps a rectangular window over an unbounded 2D plane and
// translates pointer drags and wheel input into pan and zoom.
//
// The whole view state lives in State. Every transition takes a State and
// returns a complete new State, so a caller can never observe a half-updated
// window. Viewport wraps a State for callers that prefer methods.
package viewport

import (
	"fmt"
	"math"
	"strconv"
)

// ViewRect is the region of the plane currently visible.
// W and H are strictly positive once a rect went through Config.
type ViewRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// DefaultRect is the window a viewport starts with when nothing else is configured.
var DefaultRect = ViewRect{X: 0, Y: 0, W: 200, H: 100}

// String renders the rect in SVG viewBox order.
func (r ViewRect) String() string {
	return fmtNum(r.X) + " " + fmtNum(r.Y) + " " + fmtNum(r.W) + " " + fmtNum(r.H)
}

// valid reports whether the rect can be shown at all.
func (r ViewRect) valid() bool {
	return finite(r.X) && finite(r.Y) && finite(r.W) && finite(r.H) && r.W > 0 && r.H > 0
}

// ParseRect reads "x,y,w,h" (commas or spaces). The bool is false when the
// text does not describe a usable rect.
func ParseRect(s string) (ViewRect, bool) {
	var r ViewRect
	fields := splitNumbers(s)
	if len(fields) != 4 {
		return r, false
	}
	vals := make([]float64, 4)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return r, false
		}
		vals[i] = v
	}
	r = ViewRect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
	return r, r.valid()
}

// PanState is the anchor of an active drag gesture, in screen pixels.
// Active is false whenever no pointer is down.
type PanState struct {
	Active bool    `json:"active"`
	StartX float64 `json:"startX"`
	StartY float64 `json:"startY"`
}

// State is everything a viewport knows.
type State struct {
	View ViewRect `json:"view"`
	Pan  PanState `json:"pan"`
}

// panBase converts view width into the pan factor. At W == panBase one
// screen pixel moves the window by one plane unit.
const panBase = 200.0

// PanFactor converts a screen-pixel drag into plane units for the given view.
// It is proportional to the zoom level, so a drag feels the same at any zoom.
func PanFactor(v ViewRect) float64 {
	return panBase / v.W
}

// PointerDown starts a drag at (sx, sy). A second pointer-down without a
// pointer-up replaces the anchor: only one pointer is tracked.
func (c Config) PointerDown(s State, sx, sy float64) State {
	s = c.sized(s)
	if !finite(sx) || !finite(sy) {
		return s
	}
	return State{
		View: s.View,
		Pan:  PanState{Active: true, StartX: sx, StartY: sy},
	}
}

// PointerMove pans the window by the distance travelled since the last
// anchor and moves the anchor to (sx, sy). Without an active drag the state
// is returned untouched.
func (c Config) PointerMove(s State, sx, sy float64) State {
	s = c.sized(s)
	if !s.Pan.Active || !finite(sx) || !finite(sy) {
		return s
	}
	factor := PanFactor(s.View)
	dx := (sx - s.Pan.StartX) / factor
	dy := (sy - s.Pan.StartY) / factor

	// dragging right moves the window left
	view := ViewRect{X: s.View.X - dx, Y: s.View.Y - dy, W: s.View.W, H: s.View.H}
	if !finite(view.X) || !finite(view.Y) {
		view = s.View
	}
	return State{
		View: view,
		Pan:  PanState{Active: true, StartX: sx, StartY: sy},
	}
}

// PointerUp ends the drag. Calling it without a drag is harmless.
func (c Config) PointerUp(s State) State {
	return State{View: c.sized(s).View}
}

// sized swaps a window without a positive finite size for the configured
// initial window. Every transition starts here.
func (c Config) sized(s State) State {
	if !s.View.valid() {
		s.View = c.Normalize().Initial
	}
	return s
}

// wheelScale turns wheel delta into the fractional size change.
const wheelScale = 1000.0

// Wheel scales the window by deltaY/1000, keeping the top-left corner fixed
// and the aspect ratio intact. The result is clamped to the zoom range.
func (c Config) Wheel(s State, deltaY float64) State {
	c = c.Normalize()
	s = c.sized(s)
	if !finite(deltaY) || deltaY == 0 {
		return s
	}
	amount := deltaY / wheelScale
	aspect := s.View.H / s.View.W

	w := s.View.W + s.View.W*amount
	w = c.clampWidth(w)

	view := ViewRect{X: s.View.X, Y: s.View.Y, W: w, H: w * aspect}
	if !view.valid() {
		return s
	}
	return State{View: view, Pan: s.Pan}
}

// clampWidth keeps w inside [base/max, base/min]. A width that collapsed to
// zero or below counts as fully zoomed in.
func (c Config) clampWidth(w float64) float64 {
	minW := c.Initial.W / c.Zoom.Max
	maxW := c.Initial.W / c.Zoom.Min
	if math.IsNaN(w) || w < minW {
		return minW
	}
	if w > maxW {
		return maxW
	}
	return w
}

// ZoomLevel reports how far the view is zoomed relative to its initial width.
func (c Config) ZoomLevel(v ViewRect) float64 {
	return c.Normalize().Initial.W / v.W
}

// Viewport is one mounted view window. It is not safe for concurrent use;
// each session owns its own instance.
type Viewport struct {
	cfg   Config
	state State
}

// New builds a viewport from cfg after normalising it.
func New(cfg Config) *Viewport {
	cfg = cfg.Normalize()
	return &Viewport{cfg: cfg, state: State{View: cfg.Initial}}
}

// Config returns the normalised configuration.
func (v *Viewport) Config() Config { return v.cfg }

// State returns a copy of the current state.
func (v *Viewport) State() State { return v.state }

// View returns the visible rect.
func (v *Viewport) View() ViewRect { return v.state.View }

// Dragging reports whether a pointer is down.
func (v *Viewport) Dragging() bool { return v.state.Pan.Active }

func (v *Viewport) OnPointerDown(sx, sy float64) { v.state = v.cfg.PointerDown(v.state, sx, sy) }

func (v *Viewport) OnPointerMove(sx, sy float64) { v.state = v.cfg.PointerMove(v.state, sx, sy) }

func (v *Viewport) OnPointerUp() { v.state = v.cfg.PointerUp(v.state) }

func (v *Viewport) OnWheel(deltaY float64) { v.state = v.cfg.Wheel(v.state, deltaY) }

// GridLines synthesises guide lines for the current view.
func (v *Viewport) GridLines() []GridLine { return GridLines(v.state.View, v.cfg.AxisLines) }

// ViewBox is the SVG viewBox attribute for the current view.
func (v *Viewport) ViewBox() string { return v.state.View.String() }

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// fmtNum prints the shortest form that round-trips, so viewBox strings stay
// compact and stable for tests.
func fmtNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func splitNumbers(s string) []string {
	var out []string
	start := -1
	for i, ch := range s {
		sep := ch == ',' || ch == ' ' || ch == '\t'
		if sep {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// GoString keeps %#v output readable in test failures.
func (r ViewRect) GoString() string {
	return fmt.Sprintf("ViewRect{X:%g, Y:%g, W:%g, H:%g}", r.X, r.Y, r.W, r.H)
}
