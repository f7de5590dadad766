// Package eventbus fans renderer events out to live in-process subscribers.
package eventbus

import (
	"context"
	"strings"
	"sync"

	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// DefaultDepth is the per-subscriber queue length.
const DefaultDepth = 256

// Bus delivers every emitted event to the subscribers whose topic filter
// matches. A full subscriber queue drops the event for that subscriber only.
type Bus struct {
	mu    sync.Mutex
	subs  map[*subscription]struct{}
	log   pslog.Logger
	depth int
}

type subscription struct {
	ch     chan schema.Event
	topics []string
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[*subscription]struct{}),
		log:   logger,
		depth: DefaultDepth,
	}
}

// Subscribe registers a subscriber and returns its channel and cancel func.
// No topics subscribes to everything; a topic ending in '*' matches by prefix.
func (b *Bus) Subscribe(topics ...string) (<-chan schema.Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	sub := &subscription{ch: make(chan schema.Event, b.depth), topics: append([]string(nil), topics...)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	b.log.Debug("eventbus subscribe", "subs", count, "topics", strings.Join(topics, ","))
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			close(sub.ch)
			b.mu.Unlock()
			b.log.Debug("eventbus unsubscribe")
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Emit implements core.EventSink.
func (b *Bus) Emit(topic string, payload any) error {
	if b == nil {
		return nil
	}
	b.Publish(schema.Event{Topic: topic, Payload: payload})
	return nil
}

// Publish delivers an already sequenced event.
func (b *Bus) Publish(event schema.Event) {
	dropped := 0
	b.mu.Lock()
	for sub := range b.subs {
		if !Match(sub.topics, event.Topic) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.Trace("eventbus dropped", "topic", event.Topic, "count", dropped)
	}
}

// Match reports whether topic passes the filter.
func Match(patterns []string, topic string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(topic, prefix) {
				return true
			}
			continue
		}
		if p == topic {
			return true
		}
	}
	return false
}
