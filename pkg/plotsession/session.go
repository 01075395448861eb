// Package plotsession drives one viewport per websocket connection. The
// browser forwards raw pointer and wheel events; the session applies them in
// arrival order and answers with freshly rendered SVG frames.
package plotsession

import (
	"bytes"
	"math"
	"sort"
	"strings"
	"time"

	"waterway-dashboard/pkg/database"
	"waterway-dashboard/pkg/viewport"
)

// Event is one message from the browser. X and Y are screen pixels.
type Event struct {
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	DeltaY float64 `json:"deltaY"`
}

const (
	EventPointerDown = "pointerdown"
	EventPointerMove = "pointermove"
	EventPointerUp   = "pointerup"
	EventWheel       = "wheel"
)

// Frame is what the browser swaps into the page.
type Frame struct {
	Session string  `json:"session"`
	ViewBox string  `json:"viewBox"`
	Zoom    float64 `json:"zoom"`
	Points  int     `json:"points"`
	SVG     string  `json:"svg"`
}

const secondsPerDay = 86400

// Session owns a viewport and the series drawn in it. It is not safe for
// concurrent use; the connection goroutine is its only caller.
type Session struct {
	ID     string
	vp     *viewport.Viewport
	origin int64
	points []viewport.PlottablePoint
	seen   map[int64]struct{}
}

// NewSession plots readings on a plane where x counts days since the
// earliest sample and y is the negated value, so larger values sit higher.
// A zero cfg.Initial is replaced by a window fitted to the data.
func NewSession(id string, cfg viewport.Config, readings []database.Reading) *Session {
	s := &Session{ID: id, seen: make(map[int64]struct{}, len(readings))}
	for _, r := range readings {
		if s.origin == 0 || r.Date < s.origin {
			s.origin = r.Date
		}
	}
	for _, r := range readings {
		s.add(r)
	}

	if cfg.Initial == (viewport.ViewRect{}) && len(s.points) > 0 {
		cfg.Initial = FitRect(s.points)
	}
	if cfg.AxisLines == (viewport.AxisLines{}) {
		init := cfg.Initial
		if init == (viewport.ViewRect{}) {
			init = viewport.DefaultRect
		}
		cfg.AxisLines = viewport.AxisLines{X: NiceStep(init.H / 5), Y: NiceStep(init.W / 8)}
	}
	if cfg.Labels.X == "" && s.origin != 0 {
		cfg.Labels.X = "days since " + time.Unix(s.origin, 0).UTC().Format("2006-01-02")
	}
	if cfg.Labels.Y == "" && len(readings) > 0 {
		cfg.Labels.Y = seriesCaption(readings)
	}
	s.vp = viewport.New(cfg)
	return s
}

// Apply feeds one browser event to the viewport and reports whether the
// visible window changed. Unknown event types are ignored.
func (s *Session) Apply(ev Event) bool {
	before := s.vp.View()
	switch ev.Type {
	case EventPointerDown:
		s.vp.OnPointerDown(ev.X, ev.Y)
	case EventPointerMove:
		s.vp.OnPointerMove(ev.X, ev.Y)
	case EventPointerUp:
		s.vp.OnPointerUp()
	case EventWheel:
		s.vp.OnWheel(ev.DeltaY)
	default:
		return false
	}
	return s.vp.View() != before
}

// Append adds a live reading. It reports false for readings already plotted.
func (s *Session) Append(r database.Reading) bool {
	if s.origin == 0 {
		s.origin = r.Date
	}
	return s.add(r)
}

func (s *Session) add(r database.Reading) bool {
	if _, dup := s.seen[r.ID]; dup {
		return false
	}
	p := viewport.PlottablePoint{
		ID: r.ID,
		X:  float64(r.Date-s.origin) / secondsPerDay,
		Y:  -r.Value,
	}
	if math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
		return false
	}
	s.seen[r.ID] = struct{}{}
	// keep the series in sample order so segments join consecutive dates
	i := sort.Search(len(s.points), func(i int) bool {
		q := s.points[i]
		return q.X > p.X || (q.X == p.X && q.ID > p.ID)
	})
	s.points = append(s.points, viewport.PlottablePoint{})
	copy(s.points[i+1:], s.points[i:])
	s.points[i] = p
	return true
}

// Points returns the plotted series in drawing order.
func (s *Session) Points() []viewport.PlottablePoint { return s.points }

// View is the current window.
func (s *Session) View() viewport.ViewRect { return s.vp.View() }

// Frame renders the current state.
func (s *Session) Frame() (Frame, error) {
	var buf bytes.Buffer
	if err := s.vp.Render(&buf, s.points); err != nil {
		return Frame{}, err
	}
	view := s.vp.View()
	return Frame{
		Session: s.ID,
		ViewBox: view.String(),
		Zoom:    s.vp.Config().ZoomLevel(view),
		Points:  len(s.points),
		SVG:     buf.String(),
	}, nil
}

// FitRect frames points with a 5% margin. Degenerate extents get one unit.
func FitRect(points []viewport.PlottablePoint) viewport.ViewRect {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	w, h := maxX-minX, maxY-minY
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	return viewport.ViewRect{X: minX - w*0.05, Y: minY - h*0.05, W: w * 1.1, H: h * 1.1}
}

// NiceStep rounds span up to 1, 2 or 5 times a power of ten.
func NiceStep(span float64) float64 {
	if !(span > 0) || math.IsInf(span, 0) {
		return 0
	}
	mag := math.Pow(10, math.Floor(math.Log10(span)))
	for _, m := range []float64{1, 2, 5, 10} {
		if step := m * mag; step >= span {
			return step
		}
	}
	return 10 * mag
}

func seriesCaption(readings []database.Reading) string {
	measures := map[string]struct{}{}
	units := map[string]struct{}{}
	for _, r := range readings {
		measures[r.Measure] = struct{}{}
		units[r.Unit] = struct{}{}
	}
	if len(measures) != 1 {
		return "value"
	}
	caption := readings[0].Measure
	if len(units) == 1 && readings[0].Unit != "" && readings[0].Unit != database.NotAvailable {
		caption += " (" + readings[0].Unit + ")"
	}
	return strings.TrimSpace(caption)
}
