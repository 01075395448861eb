package readingstream

import (
	"context"
	"testing"
	"time"

	"waterway-dashboard/pkg/database"
)

func receive(t *testing.T, ch <-chan database.Reading) database.Reading {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reading")
	}
	return database.Reading{}
}

func TestBusRoutesByTopic(t *testing.T) {
	t.Parallel()
	bus := NewBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nitrates := bus.Subscribe(ctx, NewTopic("nitrates", ""), 4)
	boonsriLead := bus.Subscribe(ctx, NewTopic("Lead", "boonsri"), 4)
	everything := bus.Subscribe(ctx, Topic{}, 4)

	bus.Publish(database.Reading{ID: 1, Measure: "Lead", Location: "Boonsri"})
	bus.Publish(database.Reading{ID: 2, Measure: "Nitrates", Location: "Kohsoom"})

	if r := receive(t, boonsriLead); r.ID != 1 {
		t.Fatalf("lead listener got %d", r.ID)
	}
	if r := receive(t, nitrates); r.ID != 2 {
		t.Fatalf("nitrates listener got %d", r.ID)
	}
	if a, b := receive(t, everything), receive(t, everything); a.ID != 1 || b.ID != 2 {
		t.Fatalf("wildcard listener got %d, %d", a.ID, b.ID)
	}
}

func TestBusUnsubscribeOnCancel(t *testing.T) {
	t.Parallel()
	bus := NewBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	ch := bus.Subscribe(ctx, Topic{}, 1)
	if n := bus.Listeners(); n != 1 {
		t.Fatalf("listeners = %d, want 1", n)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected reading")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if n := bus.Listeners(); n != 0 {
		t.Fatalf("listeners = %d after cancel, want 0", n)
	}
}

func TestTopicMatches(t *testing.T) {
	t.Parallel()
	r := database.Reading{Measure: "Nitrates", Location: "Kohsoom"}
	cases := []struct {
		topic Topic
		want  bool
	}{
		{Topic{}, true},
		{NewTopic(" nitrates ", ""), true},
		{NewTopic("", "KOHSOOM"), true},
		{NewTopic("Lead", ""), false},
		{NewTopic("Nitrates", "Boonsri"), false},
	}
	for _, tc := range cases {
		if got := tc.topic.Matches(r); got != tc.want {
			t.Errorf("%+v.Matches = %v, want %v", tc.topic, got, tc.want)
		}
	}
}
