package viewport

import "strconv"

// AxisLines holds gridline increments. X spaces the horizontal guides (their
// positions run along y), Y spaces the vertical guides (positions along x).
// A zero value means no guides for that axis.
type AxisLines struct {
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
}

// ParseAxisLines reads "x,y" increments. A single number sets both axes.
func ParseAxisLines(s string) (AxisLines, bool) {
	fields := splitNumbers(s)
	if len(fields) == 0 || len(fields) > 2 {
		return AxisLines{}, false
	}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return AxisLines{}, false
		}
		vals[i] = v
	}
	if len(vals) == 1 {
		return AxisLines{X: vals[0], Y: vals[0]}, true
	}
	return AxisLines{X: vals[0], Y: vals[1]}, true
}

// String renders the increments the way ParseAxisLines reads them.
func (a AxisLines) String() string {
	return fmtNum(a.X) + "," + fmtNum(a.Y)
}

// ZoomLimits bounds the zoom level, defined as Initial.W / View.W.
type ZoomLimits struct {
	Min float64 `json:"min,omitempty"`
	Max float64 `json:"max,omitempty"`
}

// Labels are cosmetic axis captions.
type Labels struct {
	X string `json:"x,omitempty"`
	Y string `json:"y,omitempty"`
}

// Config is fixed when a viewport is created.
type Config struct {
	AxisLines AxisLines  `json:"axisLines"`
	Zoom      ZoomLimits `json:"zoom"`
	Labels    Labels     `json:"labels"`
	Initial   ViewRect   `json:"initial"`
	Height    string     `json:"height,omitempty"`
}

const (
	DefaultZoomMin = 0.01
	DefaultZoomMax = 100.0
	DefaultHeight  = "400px"
)

// Normalize replaces every unusable setting with its default. Invalid
// configuration never becomes an error: the widget must keep drawing.
//
//   - increments that are zero, negative or not finite disable that axis
//   - zoom bounds that are not positive and finite, or out of order, revert
//     to [DefaultZoomMin, DefaultZoomMax]
//   - the zoom range is widened to contain level 1 so the initial window
//     stays reachable
//   - an initial rect without positive finite size reverts to DefaultRect
func (c Config) Normalize() Config {
	if !validIncrement(c.AxisLines.X) {
		c.AxisLines.X = 0
	}
	if !validIncrement(c.AxisLines.Y) {
		c.AxisLines.Y = 0
	}

	zmin, zmax := c.Zoom.Min, c.Zoom.Max
	if !positive(zmin) {
		zmin = DefaultZoomMin
	}
	if !positive(zmax) {
		zmax = DefaultZoomMax
	}
	if zmin > zmax {
		zmin, zmax = DefaultZoomMin, DefaultZoomMax
	}
	// level 1 is the initial window; keep it reachable
	if zmin > 1 {
		zmin = 1
	}
	if zmax < 1 {
		zmax = 1
	}
	c.Zoom = ZoomLimits{Min: zmin, Max: zmax}

	if !c.Initial.valid() {
		c.Initial = DefaultRect
	}
	if c.Height == "" {
		c.Height = DefaultHeight
	}
	return c
}

func validIncrement(v float64) bool {
	return positive(v)
}

func positive(v float64) bool {
	return finite(v) && v > 0
}
