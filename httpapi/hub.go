package httpapi

import (
	"context"
	"strings"
	"sync"

	"pkt.systems/cortex/internal/eventbus"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

const subscriberDepth = 1024

// Hub numbers every renderer event, keeps a bounded history for replay and
// broadcasts to stream subscribers.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	history     []schema.Event
	historySize int
	subs        map[*hubSubscriber]struct{}
	log         pslog.Logger
}

type hubSubscriber struct {
	ch     chan schema.Event
	topics []string
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int, logger pslog.Logger) *Hub {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Hub{
		historySize: historySize,
		subs:        make(map[*hubSubscriber]struct{}),
		log:         logger,
	}
}

// Emit implements core.EventSink.
func (h *Hub) Emit(topic string, payload any) error {
	h.Publish(topic, payload)
	return nil
}

// Publish assigns the next sequence number, records the event and delivers
// it to matching subscribers. Delivery happens under the lock so that
// unsubscribe never closes a channel mid-send and subscribers see events in
// sequence order. A full subscriber loses the event.
func (h *Hub) Publish(topic string, payload any) schema.Event {
	h.mu.Lock()
	h.seq++
	event := schema.Event{Seq: h.seq, Topic: topic, Payload: payload}
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	dropped := 0
	for sub := range h.subs {
		if !eventbus.Match(sub.topics, topic) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		h.log.Warn("hub event dropped", "topic", topic, "seq", event.Seq, "dropped", dropped)
	}
	return event
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Subscribe registers a subscriber and returns, atomically with the
// registration, the recorded events after seq `after` that match topics.
func (h *Hub) Subscribe(after uint64, topics []string) (<-chan schema.Event, []schema.Event, func()) {
	sub := &hubSubscriber{ch: make(chan schema.Event, subscriberDepth), topics: append([]string(nil), topics...)}
	h.mu.Lock()
	replay := h.replayLocked(after, topics)
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()
	h.log.Info("hub subscribe", "subs", count, "after", after, "replay", len(replay), "topics", strings.Join(topics, ","))

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			close(sub.ch)
			remaining := len(h.subs)
			h.mu.Unlock()
			h.log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return sub.ch, replay, unsub
}

// Replay returns the recorded events after seq that match topics.
func (h *Hub) Replay(after uint64, topics []string) []schema.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.replayLocked(after, topics)
}

func (h *Hub) replayLocked(after uint64, topics []string) []schema.Event {
	if after == 0 {
		return nil
	}
	if len(h.history) > 0 && h.history[0].Seq > after+1 {
		h.log.Debug("hub replay truncated", "after", after, "oldest", h.history[0].Seq)
	}
	var events []schema.Event
	for _, event := range h.history {
		if event.Seq > after && eventbus.Match(topics, event.Topic) {
			events = append(events, event)
		}
	}
	return events
}
