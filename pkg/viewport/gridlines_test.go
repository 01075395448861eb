package viewport

import (
	"math"
	"reflect"
	"testing"
)

func TestGridLinesHorizontalOnly(t *testing.T) {
	lines := GridLines(ViewRect{X: 0, Y: 0, W: 10, H: 10}, AxisLines{X: 5})
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %+v", len(lines), lines)
	}
	for i, wantY := range []float64{0, 5} {
		g := lines[i]
		if g.Axis != AxisX || g.Position != wantY {
			t.Fatalf("line %d = %+v, want horizontal at y=%v", i, g, wantY)
		}
		if g.X1 != 0 || g.X2 != 10 || g.Y1 != wantY || g.Y2 != wantY {
			t.Fatalf("line %d spans (%v,%v)-(%v,%v), want x 0..10", i, g.X1, g.Y1, g.X2, g.Y2)
		}
	}
	if lines[1].Label != "5.00" {
		t.Fatalf("label = %q, want 5.00", lines[1].Label)
	}
}

func TestGridLinesVertical(t *testing.T) {
	lines := GridLines(ViewRect{X: -3, Y: 2, W: 7, H: 4}, AxisLines{Y: 2})
	var got []float64
	for _, g := range lines {
		if g.Axis != AxisY {
			t.Fatalf("unexpected axis %q", g.Axis)
		}
		if g.Y1 != 2 || g.Y2 != 6 {
			t.Fatalf("vertical line spans y %v..%v, want 2..6", g.Y1, g.Y2)
		}
		if g.LabelY != 6 {
			t.Fatalf("label anchored at y=%v, want bottom edge 6", g.LabelY)
		}
		got = append(got, g.Position)
	}
	want := []float64{-4, -2, 0, 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("positions = %v, want %v", got, want)
	}
}

func TestGridLinesOrderHorizontalFirst(t *testing.T) {
	lines := GridLines(ViewRect{X: 0, Y: 0, W: 10, H: 10}, AxisLines{X: 10, Y: 10})
	if len(lines) != 2 || lines[0].Axis != AxisX || lines[1].Axis != AxisY {
		t.Fatalf("lines = %+v", lines)
	}
}

func TestGridLinesInvalidIncrement(t *testing.T) {
	view := ViewRect{X: 0, Y: 0, W: 10, H: 10}
	for _, inc := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		if lines := GridLines(view, AxisLines{X: inc}); len(lines) != 0 {
			t.Errorf("increment %v produced %d lines", inc, len(lines))
		}
	}
}

func TestGridLinesPure(t *testing.T) {
	view := ViewRect{X: 13.7, Y: -41.2, W: 123.4, H: 61.7}
	inc := AxisLines{X: 10, Y: 7.5}
	a := GridLines(view, inc)
	b := GridLines(view, inc)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("GridLines is not deterministic")
	}
	if len(a) == 0 {
		t.Fatal("expected some lines")
	}
}

func TestGridLinesCapped(t *testing.T) {
	lines := GridLines(ViewRect{X: 0, Y: 0, W: 1e6, H: 1e6}, AxisLines{X: 1e-6})
	if len(lines) != MaxGridLinesPerAxis {
		t.Fatalf("got %d lines, want cap %d", len(lines), MaxGridLinesPerAxis)
	}
}

func TestGridLinesFollowView(t *testing.T) {
	v := New(Config{AxisLines: AxisLines{X: 10, Y: 10}})
	before := v.GridLines()
	v.OnPointerDown(0, 0)
	v.OnPointerMove(-25, 0)
	after := v.GridLines()
	if reflect.DeepEqual(before, after) {
		t.Fatal("gridlines did not move with the view")
	}
	if got := after[0].X1; got != 25 {
		t.Fatalf("horizontal guide starts at x=%v, want 25", got)
	}
}
