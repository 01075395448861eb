package viewport

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func keysOf(els []SeriesElement) map[string]SeriesElement {
	out := make(map[string]SeriesElement, len(els))
	for _, el := range els {
		out[el.Key] = el
	}
	return out
}

func TestSeriesMarkersAndSegments(t *testing.T) {
	pts := []PlottablePoint{{ID: 7, X: 0, Y: 1}, {ID: 3, X: 1, Y: 4}, {ID: 9, X: 2, Y: 2}}
	els := Series(pts)
	if len(els) != 5 {
		t.Fatalf("got %d elements, want 2 segments + 3 markers", len(els))
	}
	if els[0].Kind != KindSegment || els[0].Key != "line-3" {
		t.Fatalf("first element = %+v, want segment line-3", els[0])
	}
	if els[0].X1 != 0 || els[0].Y1 != 1 || els[0].X2 != 1 || els[0].Y2 != 4 {
		t.Fatalf("segment coordinates = %+v", els[0])
	}
	if els[4].Kind != KindMarker || els[4].Key != "dot-9" {
		t.Fatalf("last element = %+v, want marker dot-9", els[4])
	}
}

func TestSeriesDropsMalformedPoints(t *testing.T) {
	pts := []PlottablePoint{
		{ID: 1, X: 0, Y: 0},
		{ID: 2, X: math.NaN(), Y: 1},
		{ID: 3, X: 2, Y: math.Inf(-1)},
		{ID: 1, X: 5, Y: 5},
		{ID: 4, X: 3, Y: 3},
	}
	clean := CleanSeries(pts)
	if len(clean) != 2 || clean[0].ID != 1 || clean[1].ID != 4 {
		t.Fatalf("CleanSeries = %+v", clean)
	}
	if clean[0].X != 0 {
		t.Fatal("duplicate ID replaced the first occurrence")
	}
	if got := len(Series(pts)); got != 3 {
		t.Fatalf("Series produced %d elements, want 3", got)
	}
}

func TestSeriesEmpty(t *testing.T) {
	if els := Series(nil); els != nil {
		t.Fatalf("Series(nil) = %+v", els)
	}
	if els := Series([]PlottablePoint{{ID: 1, X: math.NaN()}}); els != nil {
		t.Fatalf("Series(bad only) = %+v", els)
	}
}

// Removing a middle point must only remove that point's elements. The
// segment that used to end at the next point keeps its key.
func TestSeriesKeysStableOnRemoval(t *testing.T) {
	full := []PlottablePoint{{ID: 10, X: 0, Y: 0}, {ID: 20, X: 1, Y: 1}, {ID: 30, X: 2, Y: 0}, {ID: 40, X: 3, Y: 2}}
	removed := []PlottablePoint{full[0], full[2], full[3]}

	before := keysOf(Series(full))
	after := keysOf(Series(removed))

	for _, gone := range []string{"dot-20", "line-20"} {
		if _, ok := after[gone]; ok {
			t.Fatalf("%s survived removal", gone)
		}
	}
	for key, el := range after {
		prev, ok := before[key]
		if !ok {
			t.Fatalf("new key %s appeared after removal", key)
		}
		if el.ID != prev.ID || el.Kind != prev.Kind {
			t.Fatalf("key %s changed identity: %+v -> %+v", key, prev, el)
		}
	}
	for _, key := range []string{"dot-10", "dot-30", "dot-40", "line-40"} {
		if after[key] != before[key] {
			t.Fatalf("%s changed: %+v -> %+v", key, before[key], after[key])
		}
	}
	if got := after["line-30"]; got.X1 != 0 || got.Y1 != 0 {
		t.Fatalf("line-30 should now start at point 10: %+v", got)
	}
}

func TestRenderSVG(t *testing.T) {
	v := New(Config{
		AxisLines: AxisLines{X: 5},
		Initial:   ViewRect{X: 0, Y: 0, W: 10, H: 10},
		Labels:    Labels{X: "time", Y: "<mg/l>"},
	})
	var buf bytes.Buffer
	if err := v.Render(&buf, []PlottablePoint{{ID: 1, X: 1, Y: 2}, {ID: 2, X: 3, Y: 4}}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`viewBox="0 0 10 10"`,
		`height="400px"`,
		`data-key="axline-x-0"`,
		`data-key="axline-x-5"`,
		`>5.00</text>`,
		`<line data-key="line-2" x1="1" y1="2" x2="3" y2="4"`,
		`<circle data-key="dot-1" cx="1" cy="2"`,
		`&lt;mg/l&gt;`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered SVG missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "axline-y") {
		t.Error("vertical guides rendered without a y increment")
	}
	if !strings.HasPrefix(out, "<svg") || !strings.HasSuffix(out, "</svg>") {
		t.Error("output is not a single svg element")
	}
}

func TestRenderBodyMatchesRender(t *testing.T) {
	v := New(Config{AxisLines: AxisLines{X: 2, Y: 3}})
	pts := []PlottablePoint{{ID: 1, X: 1, Y: 1}}
	var body, full bytes.Buffer
	if err := v.RenderBody(&body, pts); err != nil {
		t.Fatal(err)
	}
	if err := v.Render(&full, pts); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(full.String(), body.String()) {
		t.Fatal("full rendering does not embed the body rendering")
	}
}
