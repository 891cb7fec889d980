package eventbus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

// subscriberBuffer is the bounded per-subscriber buffer size from spec.md
// §4.2/§5: a subscriber that falls behind loses the oldest events and
// records a drop count. The publisher never blocks.
const subscriberBuffer = 256

// Bus dispatches events to registered in-process subscribers and,
// when SetJetStream has been called, publishes them to a JetStream
// stream for cross-process fanout (consumed by internal/stream).
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscription
	js   nats.JetStreamContext
	next uint64
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*subscription)}
}

// SetJetStream attaches a JetStream context used for cross-process
// publishing. The JetStream publish waits for the server's
// acknowledgement; its errors are logged but never returned to
// Publish's caller.
func (b *Bus) SetJetStream(js nats.JetStreamContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.js = js
}

// JetStreamEnabled reports whether cross-process fanout is configured.
func (b *Bus) JetStreamEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.js != nil
}

// JetStream returns the attached JetStream context, or nil.
func (b *Bus) JetStream() nats.JetStreamContext {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.js
}

// subscription is one in-process subscriber: a bounded channel plus the
// topic filter and drop counter spec.md §5 requires.
type subscription struct {
	id      string
	topics  map[Topic]bool // nil/empty means "all topics"
	ch      chan Event
	dropped atomic.Uint64
}

func (s *subscription) matches(t Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	return s.topics[t]
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID      string
	Events  <-chan Event
	Dropped func() uint64
}

// Subscribe registers a new in-process subscriber. When topics is empty,
// the subscriber receives every topic. The returned unsubscribe func
// removes the subscriber and closes its channel; it is safe to call more
// than once.
func (b *Bus) Subscribe(topics ...Topic) (*Subscription, func()) {
	b.mu.Lock()
	b.next++
	id := subscriberID(b.next)
	filter := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		filter[t] = true
	}
	sub := &subscription{id: id, topics: filter, ch: make(chan Event, subscriberBuffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}

	return &Subscription{
		ID:      id,
		Events:  sub.ch,
		Dropped: sub.dropped.Load,
	}, unsubscribe
}

// Publish delivers event to every matching in-process subscriber without
// blocking (a full subscriber buffer drops the oldest queued event and
// increments its drop counter), then forwards the event to JetStream for
// cross-process fanout if configured. In-process delivery never blocks
// the caller; the JetStream forward waits for the server's
// acknowledgement. Publish never returns an error — by the time an event reaches the bus its
// owning transaction has already committed (see Recorder).
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(event.Topic) {
			targets = append(targets, s)
		}
	}
	js := b.js
	b.mu.RUnlock()

	// Deterministic order makes tests and logs easier to reason about.
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	for _, s := range targets {
		deliver(s, event)
	}

	if js != nil {
		publishToJetStream(ctx, js, event)
	}
}

// deliver pushes event onto a subscriber's buffer, dropping the oldest
// queued event on overflow instead of blocking the publisher.
func deliver(s *subscription, event Event) {
	select {
	case s.ch <- event:
		return
	default:
	}

	// Buffer full: drop the oldest event and retry once.
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- event:
	default:
		// Another publisher raced us; count this event as dropped too.
		s.dropped.Add(1)
	}
}

func publishToJetStream(ctx context.Context, js nats.JetStreamContext, event Event) {
	data, err := marshalEvent(event)
	if err != nil {
		slog.WarnContext(ctx, "eventbus: marshal event for jetstream failed", "topic", event.Topic, "error", err)
		return
	}
	subject := SubjectForTopic(event.Topic)
	if _, err := js.Publish(subject, data); err != nil {
		slog.WarnContext(ctx, "eventbus: jetstream publish failed", "subject", subject, "error", err)
	}
}

func subscriberID(n uint64) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "sub-0"
	}
	buf := make([]byte, 0, 12)
	for n > 0 {
		buf = append([]byte{alphabet[n%uint64(len(alphabet))]}, buf...)
		n /= uint64(len(alphabet))
	}
	return "sub-" + string(buf)
}
