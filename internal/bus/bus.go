package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	// DefaultHistorySize is the number of recent events retained for replay.
	DefaultHistorySize = 1000

	// DefaultChannelBuffer is the buffer size for subscriber channels.
	DefaultChannelBuffer = 256
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// SubscriptionID identifies a subscription.
type SubscriptionID string

// subscriber is one handler with its own queue and goroutine. An empty
// filter matches every event.
type subscriber struct {
	filter  map[EventType]bool
	handler func(Event)
	queue   chan Event
}

func (s *subscriber) wants(t EventType) bool {
	return len(s.filter) == 0 || s.filter[t]
}

// Bus fans lifecycle events out to subscribers and keeps a bounded replay
// history. Handlers run on a per-subscriber goroutine; when a subscriber's
// queue is full the event is skipped for that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	subs   map[SubscriptionID]*subscriber
	closed bool
	wg     sync.WaitGroup

	histMu  sync.Mutex
	history []Event
	limit   int

	dropped atomic.Uint64
}

// New creates a bus with the default history size.
func New() *Bus {
	return NewWithHistory(DefaultHistorySize)
}

// NewWithHistory creates a bus retaining the last limit events.
func NewWithHistory(limit int) *Bus {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &Bus{
		subs:    make(map[SubscriptionID]*subscriber),
		history: make([]Event, 0, min(limit, 64)),
		limit:   limit,
	}
}

// Subscribe registers handler for the listed event types, or for every event
// when none are listed. It returns "" on a closed bus.
func (b *Bus) Subscribe(handler func(Event), types ...EventType) SubscriptionID {
	sub := &subscriber{
		filter:  make(map[EventType]bool, len(types)),
		handler: handler,
		queue:   make(chan Event, DefaultChannelBuffer),
	}
	for _, t := range types {
		sub.filter[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ""
	}
	id := SubscriptionID(uuid.NewString())
	b.subs[id] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range sub.queue {
			sub.handler(ev)
		}
	}()
	return id
}

// Unsubscribe removes a subscription. Events already queued for it are still
// handled.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	sub, ok := b.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subs, id)
	close(sub.queue)
	return nil
}

// Publish records ev in the history and queues it for every matching
// subscriber without blocking.
func (b *Bus) Publish(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.record(ev)
	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

func (b *Bus) record(ev Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history = append(b.history, ev)
	if over := len(b.history) - b.limit; over > 0 {
		b.history = append(b.history[:0], b.history[over:]...)
	}
}

// History returns a copy of the retained events, oldest first.
func (b *Bus) History() []Event {
	return b.Recent(b.limit)
}

// Recent returns the last n retained events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	n = max(0, min(n, len(b.history)))
	return append([]Event(nil), b.history[len(b.history)-n:]...)
}

// Dropped returns how many deliveries were skipped on full queues.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriptionsCount returns the number of active subscriptions.
func (b *Bus) SubscriptionsCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close rejects further publishes, lets every subscriber drain its queue and
// waits for the handlers to return.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("close: %w", ErrClosed)
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.queue)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
