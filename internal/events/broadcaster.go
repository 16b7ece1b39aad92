// ABOUTME: In-memory fan-out of committed gateway events
// ABOUTME: Feeds the SSE stream; slow subscribers lose events rather than block writers

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/pulsar-gateway/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// allKinds is the topic that receives every event.
const allKinds store.EventKind = ""

// Broadcaster provides in-memory pub/sub for committed events, keyed by
// event kind.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[store.EventKind]map[string]chan *store.Event // kind -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[store.EventKind]map[string]chan *store.Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events of kind, or all kinds when kind is empty.
// The channel is closed when ctx is cancelled, on Unsubscribe, or when the
// broadcaster closes.
func (b *Broadcaster) Subscribe(ctx context.Context, kind store.EventKind) (<-chan *store.Event, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[kind]; !ok {
		b.subscribers[kind] = make(map[string]chan *store.Event)
	}
	b.subscribers[kind][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "kind", kind, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(kind, subID)
	}()

	return ch, subID
}

// Notify implements Notifier by publishing ev to its kind's subscribers and
// to all-kinds subscribers. It never blocks.
func (b *Broadcaster) Notify(_ context.Context, ev *store.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.publishLocked(ev.Kind, ev)
	b.publishLocked(allKinds, ev)
	return nil
}

// publishLocked sends without blocking. Must be called with mu held so a
// concurrent Unsubscribe cannot close a channel mid-send.
func (b *Broadcaster) publishLocked(topic store.EventKind, ev *store.Event) {
	for subID, ch := range b.subscribers[topic] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"kind", topic,
				"sub_id", subID,
				"event_id", ev.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(kind store.EventKind, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[kind]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, kind)
	}

	b.logger.Debug("subscriber removed", "kind", kind, "sub_id", subID)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for kind, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, kind)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
