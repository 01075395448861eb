package plotsession

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"waterway-dashboard/pkg/database"
	"waterway-dashboard/pkg/readingstream"
	"waterway-dashboard/pkg/viewport"
)

var day0 = time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC).Unix()

func sampleReadings() []database.Reading {
	return []database.Reading{
		{ID: 1, Value: 1, Measure: "Lead", Unit: "mg/l", Location: "Kohsoom", Date: day0},
		{ID: 2, Value: 2, Measure: "Lead", Unit: "mg/l", Location: "Kohsoom", Date: day0 + 2*secondsPerDay},
		{ID: 3, Value: 3, Measure: "Lead", Unit: "mg/l", Location: "Kohsoom", Date: day0 + secondsPerDay},
	}
}

var fixedView = viewport.Config{Initial: viewport.ViewRect{X: 0, Y: 0, W: 200, H: 100}}

func TestNewSessionOrdersByDate(t *testing.T) {
	t.Parallel()
	s := NewSession("s", viewport.Config{}, sampleReadings())
	want := []viewport.PlottablePoint{{ID: 1, X: 0, Y: -1}, {ID: 3, X: 1, Y: -3}, {ID: 2, X: 2, Y: -2}}
	got := s.Points()
	if len(got) != len(want) {
		t.Fatalf("points = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if v := s.View(); v.X >= 0 || v.Y >= -3 || v.W <= 2 || v.H <= 2 {
		t.Fatalf("fitted view %+v does not frame the data", v)
	}
}

func TestApplyInOrder(t *testing.T) {
	t.Parallel()
	s := NewSession("s", fixedView, sampleReadings())

	steps := []struct {
		ev      Event
		changed bool
		view    viewport.ViewRect
	}{
		{Event{Type: EventPointerDown, X: 10, Y: 10}, false, viewport.ViewRect{X: 0, Y: 0, W: 200, H: 100}},
		{Event{Type: EventPointerMove, X: 20, Y: 15}, true, viewport.ViewRect{X: -10, Y: -5, W: 200, H: 100}},
		{Event{Type: EventPointerUp}, false, viewport.ViewRect{X: -10, Y: -5, W: 200, H: 100}},
		{Event{Type: EventPointerMove, X: 90, Y: 90}, false, viewport.ViewRect{X: -10, Y: -5, W: 200, H: 100}},
		{Event{Type: "click", X: 1, Y: 1}, false, viewport.ViewRect{X: -10, Y: -5, W: 200, H: 100}},
		{Event{Type: EventWheel, DeltaY: 500}, true, viewport.ViewRect{X: -10, Y: -5, W: 300, H: 150}},
	}
	for i, st := range steps {
		if changed := s.Apply(st.ev); changed != st.changed {
			t.Fatalf("step %d (%s): changed = %v, want %v", i, st.ev.Type, changed, st.changed)
		}
		if v := s.View(); v != st.view {
			t.Fatalf("step %d (%s): view = %#v, want %#v", i, st.ev.Type, v, st.view)
		}
	}
}

func TestAppend(t *testing.T) {
	t.Parallel()
	s := NewSession("s", fixedView, sampleReadings())
	if s.Append(database.Reading{ID: 2, Value: 9, Date: day0}) {
		t.Fatal("duplicate id appended")
	}
	if !s.Append(database.Reading{ID: 7, Value: 4, Date: day0 + secondsPerDay/2}) {
		t.Fatal("new reading rejected")
	}
	var ids []int64
	for _, p := range s.Points() {
		ids = append(ids, p.ID)
	}
	if len(ids) != 4 || ids[1] != 7 {
		t.Fatalf("order after append = %v", ids)
	}

	empty := NewSession("e", fixedView, nil)
	if !empty.Append(database.Reading{ID: 1, Value: 1, Date: day0}) || empty.Points()[0].X != 0 {
		t.Fatalf("first live reading = %+v", empty.Points())
	}
}

func TestFrame(t *testing.T) {
	t.Parallel()
	s := NewSession("abc", fixedView, sampleReadings())
	f, err := s.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if f.Session != "abc" || f.ViewBox != "0 0 200 100" || f.Zoom != 1 || f.Points != 3 {
		t.Fatalf("frame = %+v", f)
	}
	for _, key := range []string{`data-key="dot-1"`, `data-key="line-3"`, `viewBox="0 0 200 100"`, "days since 2015-03-01", "Lead (mg/l)"} {
		if !strings.Contains(f.SVG, key) {
			t.Errorf("svg lacks %s", key)
		}
	}
}

func TestNiceStep(t *testing.T) {
	t.Parallel()
	cases := map[float64]float64{0.7: 1, 3: 5, 12: 20, 40: 50, 100: 100, 0: 0, -1: 0}
	for in, want := range cases {
		if got := NiceStep(in); got != want {
			t.Errorf("NiceStep(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestFitRectDegenerate(t *testing.T) {
	t.Parallel()
	r := FitRect([]viewport.PlottablePoint{{ID: 1, X: 5, Y: -2}})
	if r.W <= 0 || r.H <= 0 || r.X >= 5 || r.Y >= -2 {
		t.Fatalf("FitRect single point = %+v", r)
	}
}

type fakeSource struct {
	mu       sync.Mutex
	readings []database.Reading
	filter   database.ReadingFilter
}

func (f *fakeSource) CollectReadings(_ context.Context, filter database.ReadingFilter) ([]database.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	return append([]database.Reading(nil), f.readings...), nil
}

func (f *fakeSource) lastFilter() database.ReadingFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/plot?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v (%v)", err, resp)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWebsocketSession(t *testing.T) {
	bus := readingstream.NewBus(16)
	src := &fakeSource{readings: sampleReadings()}
	srv := httptest.NewServer(NewServer(src, bus, viewport.Config{}, t.Logf))
	defer srv.Close()

	conn := dial(t, srv, "view=0,0,200,100&grid=10,10&measure=lead")
	if f := src.lastFilter(); len(f.Chemicals) != 1 || f.Chemicals[0] != "lead" {
		t.Fatalf("filter = %+v", f)
	}

	first := readFrame(t, conn)
	if first.ViewBox != "0 0 200 100" || first.Points != 3 || first.Session == "" {
		t.Fatalf("initial frame = %+v", first)
	}

	send := func(ev Event) {
		t.Helper()
		if err := conn.WriteJSON(ev); err != nil {
			t.Fatal(err)
		}
	}
	send(Event{Type: EventWheel, DeltaY: 1000})
	if f := readFrame(t, conn); f.ViewBox != "0 0 400 200" {
		t.Fatalf("after wheel viewBox = %q", f.ViewBox)
	}

	// pointerdown changes no window, so the next frame is the drag's
	send(Event{Type: EventPointerDown, X: 0, Y: 0})
	send(Event{Type: EventPointerMove, X: 1, Y: 0})
	if f := readFrame(t, conn); f.ViewBox != "-2 0 400 200" {
		t.Fatalf("after drag viewBox = %q", f.ViewBox)
	}

	if !bus.Publish(database.Reading{ID: 40, Value: 5, Measure: "Lead", Location: "Kohsoom", Date: day0 + 5*secondsPerDay}) {
		t.Fatal("bus full")
	}
	if f := readFrame(t, conn); f.Points != 4 {
		t.Fatalf("live reading not plotted: %+v", f)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseUnsupportedData) {
		t.Fatalf("malformed message: got %v, want close 1003", err)
	}
}

func TestRejectsBadView(t *testing.T) {
	t.Parallel()
	s := NewServer(&fakeSource{}, nil, viewport.Config{}, nil)
	for _, q := range []string{"view=0,0,-1,1", "grid=a,b"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/plot?"+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", q, rec.Code)
		}
	}
}
