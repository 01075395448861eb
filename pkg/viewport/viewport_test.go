package viewport

import (
	"math"
	"testing"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) <= eps*math.Max(1, math.Abs(b)) }

func TestDragMovesViewByPanFactor(t *testing.T) {
	v := New(Config{})
	start := v.View()
	if PanFactor(start) != 1 {
		t.Fatalf("default pan factor = %v, want 1", PanFactor(start))
	}

	v.OnPointerDown(100, 100)
	v.OnPointerMove(90, 100)

	got := v.View()
	want := start.X + 10/PanFactor(start)
	if !near(got.X, want) || got.Y != start.Y {
		t.Fatalf("after drag view = %#v, want X=%v Y=%v", got, want, start.Y)
	}
	if got.W != start.W || got.H != start.H {
		t.Fatalf("drag changed size: %#v", got)
	}

	v.OnPointerUp()
	before := v.View()
	v.OnPointerMove(50, 50)
	if v.View() != before {
		t.Fatalf("move after pointer-up changed view: %#v -> %#v", before, v.View())
	}
}

func TestPointerMoveWithoutDragIsNoop(t *testing.T) {
	cfg := Config{}.Normalize()
	s := State{View: cfg.Initial}
	if got := cfg.PointerMove(s, 500, -500); got != s {
		t.Fatalf("PointerMove without drag = %#v, want unchanged", got)
	}
}

func TestPanIsIncremental(t *testing.T) {
	v := New(Config{})
	v.OnPointerDown(0, 0)
	v.OnPointerMove(10, 0)
	v.OnPointerMove(20, 0)
	if !near(v.View().X, -20) {
		t.Fatalf("two moves of 10px = X %v, want -20", v.View().X)
	}
	st := v.State()
	if !st.Pan.Active || st.Pan.StartX != 20 || st.Pan.StartY != 0 {
		t.Fatalf("anchor not reset: %+v", st.Pan)
	}
}

func TestPanInverseLaw(t *testing.T) {
	tests := []struct {
		name   string
		wheel  float64
		dx, dy float64
	}{
		{name: "default zoom", dx: 37, dy: -12},
		{name: "zoomed out", wheel: 400, dx: -5.5, dy: 80},
		{name: "zoomed in", wheel: -600, dx: 3, dy: 3},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v := New(Config{Initial: ViewRect{X: 12, Y: -7, W: 200, H: 100}})
			v.OnWheel(tc.wheel)
			orig := v.View()

			v.OnPointerDown(100, 100)
			v.OnPointerMove(100+tc.dx, 100+tc.dy)
			v.OnPointerMove(100, 100)
			v.OnPointerUp()

			got := v.View()
			if !near(got.X, orig.X) || !near(got.Y, orig.Y) {
				t.Fatalf("pan there and back = %#v, want %#v", got, orig)
			}
		})
	}
}

func TestSecondPointerDownOverwritesAnchor(t *testing.T) {
	v := New(Config{})
	v.OnPointerDown(10, 10)
	v.OnPointerDown(50, 60)
	st := v.State()
	if !st.Pan.Active || st.Pan.StartX != 50 || st.Pan.StartY != 60 {
		t.Fatalf("anchor = %+v, want last pointer-down", st.Pan)
	}
}

func TestPointerUpIdempotent(t *testing.T) {
	v := New(Config{})
	v.OnPointerUp()
	v.OnPointerUp()
	if v.Dragging() {
		t.Fatal("dragging after pointer-up")
	}
	if v.View() != DefaultRect {
		t.Fatalf("pointer-up changed view: %#v", v.View())
	}
}

func TestWheelScalesFromCorner(t *testing.T) {
	v := New(Config{Initial: ViewRect{X: 5, Y: 6, W: 200, H: 100}})
	v.OnWheel(100)
	got := v.View()
	if !near(got.W, 220) || !near(got.H, 110) {
		t.Fatalf("wheel(100) size = %vx%v, want 220x110", got.W, got.H)
	}
	if got.X != 5 || got.Y != 6 {
		t.Fatalf("wheel moved the corner: %#v", got)
	}
}

func TestWheelInverseIsApproximate(t *testing.T) {
	v := New(Config{})
	v.OnWheel(100)
	// 1.1 * (1 - 1/11) == 1 in exact arithmetic
	v.OnWheel(-1000.0 / 11)
	got := v.View()
	if math.Abs(got.W-200) > 1e-9 || math.Abs(got.H-100) > 1e-9 {
		t.Fatalf("inverse wheel = %vx%v, want about 200x100", got.W, got.H)
	}
}

func TestWheelClamp(t *testing.T) {
	cfg := Config{Zoom: ZoomLimits{Min: 0.5, Max: 4}}
	v := New(cfg)
	for i := 0; i < 100; i++ {
		v.OnWheel(-900)
	}
	if got := v.View().W; !near(got, 50) {
		t.Fatalf("fully zoomed in W = %v, want 50", got)
	}
	if got := v.View().H; !near(got, 25) {
		t.Fatalf("fully zoomed in H = %v, want 25", got)
	}
	for i := 0; i < 100; i++ {
		v.OnWheel(5000)
	}
	if got := v.View().W; !near(got, 400) {
		t.Fatalf("fully zoomed out W = %v, want 400", got)
	}
}

func TestSizeStaysPositive(t *testing.T) {
	v := New(Config{})
	deltas := []float64{-1000, -5000, -1e9, 1e9, math.MaxFloat64, -math.MaxFloat64, math.NaN(), math.Inf(1), -999.999}
	for _, d := range deltas {
		v.OnWheel(d)
		v.OnPointerDown(0, 0)
		v.OnPointerMove(d, -d)
		v.OnPointerUp()
		view := v.View()
		if !(view.W > 0) || !(view.H > 0) {
			t.Fatalf("after wheel(%v) view = %#v, want positive size", d, view)
		}
	}
}

func TestTransitionsRepairDegenerateView(t *testing.T) {
	t.Parallel()
	var c Config
	initial := c.Normalize().Initial
	broken := []ViewRect{
		{},
		{X: 3, Y: 4, W: 0, H: 5},
		{W: -10, H: -5},
		{W: math.NaN(), H: 1},
		{W: 1, H: math.Inf(1)},
	}
	steps := map[string]func(State) State{
		"wheel":      func(s State) State { return c.Wheel(s, 100) },
		"wheel-zero": func(s State) State { return c.Wheel(s, 0) },
		"down":       func(s State) State { return c.PointerDown(s, 10, 10) },
		"move":       func(s State) State { return c.PointerMove(s, 20, 20) },
		"up":         c.PointerUp,
	}
	for name, step := range steps {
		for _, view := range broken {
			got := step(State{View: view, Pan: PanState{Active: true}}).View
			if !got.valid() {
				t.Errorf("%s from %#v = %#v, want positive finite size", name, view, got)
			}
		}
	}

	if got := c.Wheel(State{}, 100).View; !near(got.W, initial.W*1.1) || !near(got.H, initial.H*1.1) {
		t.Errorf("wheel on zero state = %#v, want the initial window scaled", got)
	}
	if got := c.PointerUp(State{}).View; got != initial {
		t.Errorf("pointer-up on zero state = %#v, want %#v", got, initial)
	}
}

func TestWheelKeepsDrag(t *testing.T) {
	v := New(Config{})
	v.OnPointerDown(1, 2)
	v.OnWheel(50)
	if !v.Dragging() {
		t.Fatal("wheel cancelled the drag")
	}
}

func TestNormalizeDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{
			name: "zero",
			in:   Config{},
			want: Config{Zoom: ZoomLimits{Min: DefaultZoomMin, Max: DefaultZoomMax}, Initial: DefaultRect, Height: DefaultHeight},
		},
		{
			name: "bad increments and rect",
			in: Config{
				AxisLines: AxisLines{X: -1, Y: math.NaN()},
				Initial:   ViewRect{W: 0, H: 10},
			},
			want: Config{Zoom: ZoomLimits{Min: DefaultZoomMin, Max: DefaultZoomMax}, Initial: DefaultRect, Height: DefaultHeight},
		},
		{
			name: "swapped zoom",
			in:   Config{Zoom: ZoomLimits{Min: 10, Max: 1}, AxisLines: AxisLines{X: 5}},
			want: Config{AxisLines: AxisLines{X: 5}, Zoom: ZoomLimits{Min: DefaultZoomMin, Max: DefaultZoomMax}, Initial: DefaultRect, Height: DefaultHeight},
		},
		{
			name: "range widened to level one",
			in:   Config{Zoom: ZoomLimits{Min: 2, Max: 10}},
			want: Config{Zoom: ZoomLimits{Min: 1, Max: 10}, Initial: DefaultRect, Height: DefaultHeight},
		},
	}
	for _, tc := range tests {
		if got := tc.in.Normalize(); got != tc.want {
			t.Errorf("%s: Normalize() = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestParseRect(t *testing.T) {
	r, ok := ParseRect("1.5, -2 300 150")
	if !ok || r != (ViewRect{X: 1.5, Y: -2, W: 300, H: 150}) {
		t.Fatalf("ParseRect = %#v %v", r, ok)
	}
	for _, bad := range []string{"", "1,2,3", "1,2,0,4", "a,b,c,d", "1,2,3,-4"} {
		if _, ok := ParseRect(bad); ok {
			t.Errorf("ParseRect(%q) accepted", bad)
		}
	}
}

func TestParseAxisLines(t *testing.T) {
	if a, ok := ParseAxisLines("10,2.5"); !ok || a != (AxisLines{X: 10, Y: 2.5}) || a.String() != "10,2.5" {
		t.Fatalf("ParseAxisLines = %+v %v", a, ok)
	}
	if a, ok := ParseAxisLines("5"); !ok || a != (AxisLines{X: 5, Y: 5}) {
		t.Fatalf("single increment = %+v %v", a, ok)
	}
	for _, bad := range []string{"", "1,2,3", "x"} {
		if _, ok := ParseAxisLines(bad); ok {
			t.Errorf("ParseAxisLines(%q) accepted", bad)
		}
	}
}

func TestViewBoxString(t *testing.T) {
	v := New(Config{Initial: ViewRect{X: -1.25, Y: 0, W: 10, H: 5}})
	if got := v.ViewBox(); got != "-1.25 0 10 5" {
		t.Fatalf("ViewBox() = %q", got)
	}
}
