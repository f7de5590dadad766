// Package eventtest records emitted events for tests.
package eventtest

import (
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/cortex/schema"
)

// Recorder is an EventSink that keeps every event in emit order.
type Recorder struct {
	mu     sync.Mutex
	events []schema.Event
	notify chan struct{}
}

// NewRecorder constructs an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Emit records the event.
func (r *Recorder) Emit(topic string, payload any) error {
	r.mu.Lock()
	r.events = append(r.events, schema.Event{Seq: uint64(len(r.events) + 1), Topic: topic, Payload: payload})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Events returns a snapshot of recorded events.
func (r *Recorder) Events() []schema.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Event(nil), r.events...)
}

// Topic returns the payloads recorded for topic.
func (r *Recorder) Topic(topic string) []any {
	var out []any
	for _, ev := range r.Events() {
		if ev.Topic == topic {
			out = append(out, ev.Payload)
		}
	}
	return out
}

// Wait blocks until match accepts the recorded events or timeout elapses.
func (r *Recorder) Wait(t testing.TB, timeout time.Duration, what string, match func([]schema.Event) bool) []schema.Event {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		events := r.Events()
		if match(events) {
			return events
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline.C:
			t.Fatalf("timed out waiting for %s; got %d events: %s", what, len(events), summarize(events))
			return nil
		}
	}
}

// WaitTopic blocks until at least one event with topic is recorded and
// returns the first such payload.
func (r *Recorder) WaitTopic(t testing.TB, timeout time.Duration, topic string) any {
	t.Helper()
	events := r.Wait(t, timeout, topic, func(events []schema.Event) bool {
		for _, ev := range events {
			if ev.Topic == topic {
				return true
			}
		}
		return false
	})
	for _, ev := range events {
		if ev.Topic == topic {
			return ev.Payload
		}
	}
	return nil
}

func summarize(events []schema.Event) string {
	topics := make([]string, 0, len(events))
	for _, ev := range events {
		topics = append(topics, ev.Topic)
	}
	return strings.Join(topics, ",")
}
