package viewport

import (
	"bufio"
	"html"
	"io"
	"strings"
)

// Style holds the presentation attributes of a rendering. Sizes are in plane
// units, as everything inside the viewBox is.
type Style struct {
	GridStroke   string
	GridWidth    float64
	GridOpacity  float64
	FontSize     float64
	SeriesStroke string
	SeriesWidth  float64
	MarkerRadius float64
	MarkerFill   string
}

// DefaultStyle mirrors the legacy plot look.
var DefaultStyle = Style{
	GridStroke:   "black",
	GridWidth:    0.25,
	GridOpacity:  0.25,
	FontSize:     3,
	SeriesStroke: "rgba(0,0,0,1)",
	SeriesWidth:  0.25,
	MarkerRadius: 0.5,
	MarkerFill:   "black",
}

// Render writes the complete <svg> element for the current view and points.
func (v *Viewport) Render(w io.Writer, points []PlottablePoint) error {
	return RenderSVG(w, v.cfg, v.state.View, points, DefaultStyle)
}

// RenderBody writes only the children of the <svg> element. Live sessions
// swap this into an existing element and update viewBox separately.
func (v *Viewport) RenderBody(w io.Writer, points []PlottablePoint) error {
	bw := bufio.NewWriter(w)
	writeBody(bw, v.cfg, v.state.View, points, DefaultStyle)
	return bw.Flush()
}

// RenderSVG is the pure rendering path: the output depends only on its arguments.
func RenderSVG(w io.Writer, cfg Config, view ViewRect, points []PlottablePoint, st Style) error {
	cfg = cfg.Normalize()
	bw := bufio.NewWriter(w)
	bw.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="100%" height="`)
	bw.WriteString(html.EscapeString(cfg.Height))
	bw.WriteString(`" viewBox="`)
	bw.WriteString(view.String())
	bw.WriteString(`" preserveAspectRatio="xMinYMin meet" style="border: 2px solid black; touch-action: none">`)
	writeBody(bw, cfg, view, points, st)
	bw.WriteString(`</svg>`)
	return bw.Flush()
}

func writeBody(bw *bufio.Writer, cfg Config, view ViewRect, points []PlottablePoint, st Style) {
	for _, g := range GridLines(view, cfg.AxisLines) {
		bw.WriteString(`<line data-key="`)
		bw.WriteString(g.Key())
		bw.WriteString(`" x1="` + fmtNum(g.X1) + `" y1="` + fmtNum(g.Y1) + `" x2="` + fmtNum(g.X2) + `" y2="` + fmtNum(g.Y2) + `"`)
		bw.WriteString(` stroke="` + html.EscapeString(st.GridStroke) + `" stroke-width="` + fmtNum(st.GridWidth) + `" opacity="` + fmtNum(st.GridOpacity) + `"/>`)
		bw.WriteString(`<text data-key="`)
		bw.WriteString(g.Key() + "-text")
		bw.WriteString(`" x="` + fmtNum(g.LabelX) + `" y="` + fmtNum(g.LabelY) + `" font-size="` + fmtNum(st.FontSize) + `" style="pointer-events: none; user-select: none">`)
		bw.WriteString(g.Label)
		bw.WriteString(`</text>`)
	}

	writeAxisCaptions(bw, cfg.Labels, view, st)

	for _, el := range Series(points) {
		switch el.Kind {
		case KindSegment:
			bw.WriteString(`<line data-key="` + el.Key + `" x1="` + fmtNum(el.X1) + `" y1="` + fmtNum(el.Y1) + `" x2="` + fmtNum(el.X2) + `" y2="` + fmtNum(el.Y2) + `"`)
			bw.WriteString(` stroke="` + html.EscapeString(st.SeriesStroke) + `" stroke-width="` + fmtNum(st.SeriesWidth) + `"/>`)
		case KindMarker:
			bw.WriteString(`<circle data-key="` + el.Key + `" cx="` + fmtNum(el.X1) + `" cy="` + fmtNum(el.Y1) + `" r="` + fmtNum(st.MarkerRadius) + `" fill="` + html.EscapeString(st.MarkerFill) + `"/>`)
		}
	}
}

// writeAxisCaptions puts the X caption at the bottom right and the Y caption
// at the top left of the view.
func writeAxisCaptions(bw *bufio.Writer, labels Labels, view ViewRect, st Style) {
	if x := strings.TrimSpace(labels.X); x != "" {
		bw.WriteString(`<text data-key="caption-x" x="` + fmtNum(view.X+view.W) + `" y="` + fmtNum(view.Y+view.H-st.FontSize) + `" font-size="` + fmtNum(st.FontSize) + `" text-anchor="end" style="pointer-events: none; user-select: none">`)
		bw.WriteString(html.EscapeString(x))
		bw.WriteString(`</text>`)
	}
	if y := strings.TrimSpace(labels.Y); y != "" {
		bw.WriteString(`<text data-key="caption-y" x="` + fmtNum(view.X+st.FontSize) + `" y="` + fmtNum(view.Y+st.FontSize) + `" font-size="` + fmtNum(st.FontSize) + `" style="pointer-events: none; user-select: none">`)
		bw.WriteString(html.EscapeString(y))
		bw.WriteString(`</text>`)
	}
}
