// Package readingstream fans freshly imported readings out to live viewers.
package readingstream

import (
	"context"
	"strings"

	"waterway-dashboard/pkg/database"
)

// Topic selects readings by chemical and location display name. An empty
// field matches everything; comparison ignores case.
type Topic struct {
	Measure  string
	Location string
}

// NewTopic normalises names so they compare the way the store keys them.
func NewTopic(measure, location string) Topic {
	return Topic{
		Measure:  strings.ToUpper(strings.TrimSpace(measure)),
		Location: strings.ToUpper(strings.TrimSpace(location)),
	}
}

// Matches reports whether r belongs to the topic.
func (t Topic) Matches(r database.Reading) bool {
	if t.Measure != "" && t.Measure != strings.ToUpper(r.Measure) {
		return false
	}
	if t.Location != "" && t.Location != strings.ToUpper(r.Location) {
		return false
	}
	return true
}

// Bus fans readings out to subscribed listeners without locks.
// Producers never block: a slow or absent listener just misses readings.
type Bus struct {
	publish     chan database.Reading
	subscribe   chan subscription
	unsubscribe chan subscription
	stats       chan chan int
}

type subscription struct {
	topic Topic
	ch    chan database.Reading
}

// NewBus starts the fan-out goroutine. It lives as long as the process and
// relies on subscriber contexts to prune listeners.
func NewBus(buffer int) *Bus {
	b := &Bus{
		publish:     make(chan database.Reading, buffer),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		stats:       make(chan chan int),
	}

	go b.run()
	return b
}

// Publish forwards a reading to listeners whose topic matches. When the
// publish queue is full the reading is dropped.
func (b *Bus) Publish(r database.Reading) bool {
	select {
	case b.publish <- r:
		return true
	default:
		return false
	}
}

// Subscribe registers interest in a topic. The returned channel closes when
// ctx ends.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, buffer int) <-chan database.Reading {
	ch := make(chan database.Reading, buffer)
	req := subscription{topic: topic, ch: ch}

	b.subscribe <- req

	go func() {
		<-ctx.Done()
		b.unsubscribe <- req
		close(ch)
	}()

	return ch
}

// Listeners reports how many subscriptions are active.
func (b *Bus) Listeners() int {
	reply := make(chan int)
	b.stats <- reply
	return <-reply
}

func (b *Bus) run() {
	var listeners []subscription

	for {
		select {
		case req := <-b.subscribe:
			listeners = append(listeners, req)
		case req := <-b.unsubscribe:
			filtered := listeners[:0]
			for _, existing := range listeners {
				if existing.ch != req.ch {
					filtered = append(filtered, existing)
				}
			}
			listeners = filtered
		case reply := <-b.stats:
			reply <- len(listeners)
		case r := <-b.publish:
			for _, sub := range listeners {
				if !sub.topic.Matches(r) {
					continue
				}
				select {
				case sub.ch <- r:
				default:
				}
			}
		}
	}
}
