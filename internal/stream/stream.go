// Package stream implements the Change Streamer (C8, spec.md §4.8): a
// long-lived per-subscriber connection over internal/eventbus that
// coalesces duplicate entity:updated events within a 100ms window per
// entity id and sends a keep-alive every 20s, adapted from the
// teacher's internal/rpc SSE transport (http_sse.go's in-memory
// fan-out / JetStream dual path).
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/pm/internal/eventbus"
)

// CoalesceWindow is the duplicate-update coalescing window of spec.md
// §4.8 ("coalesces duplicate entity:updated within a 100ms window per
// id").
const CoalesceWindow = 100 * time.Millisecond

// KeepAliveInterval is the idle keep-alive cadence of spec.md §4.8/§5.
const KeepAliveInterval = 20 * time.Second

// FrameWriter is the transport-agnostic sink a Subscriber streams
// frames to — an HTTP handler adapts this to SSE's "event:\ndata:\n\n"
// wire format; tests can use an in-memory fake.
type FrameWriter interface {
	WriteEvent(topic eventbus.Topic, payload any) error
	WritePing() error
}

// Subscriber is one long-lived authenticated connection: a user
// identity plus an optional topic filter (spec.md §4.8 "a subscriber
// supplies an authenticated user identity and optional topic
// filters").
type Subscriber struct {
	UserID uuid.UUID
	Topics []eventbus.Topic
}

// Stream runs the subscriber's event loop until ctx is cancelled or the
// bus subscription is closed, coalescing entity:updated and sending
// periodic keep-alives. It blocks; callers run it per connection.
func Stream(ctx context.Context, bus *eventbus.Bus, sub Subscriber, out FrameWriter) error {
	subscription, unsubscribe := bus.Subscribe(sub.Topics...)
	defer unsubscribe()

	c := newCoalescer(out)
	defer c.stop()

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-c.errCh:
			return err
		case <-keepAlive.C:
			if err := out.WritePing(); err != nil {
				return err
			}
		case event, ok := <-subscription.Events:
			if !ok {
				return nil
			}
			if err := c.handle(event); err != nil {
				return err
			}
		}
	}
}

// coalescer buffers entity:updated events per entity id, flushing each
// id's latest payload once CoalesceWindow has elapsed since the first
// unflushed update for that id arrived. Every other topic passes
// through immediately.
type coalescer struct {
	out   FrameWriter
	errCh chan error

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingUpdate
}

type pendingUpdate struct {
	payload eventbus.EntityUpdatedPayload
	timer   *time.Timer
}

func newCoalescer(out FrameWriter) *coalescer {
	return &coalescer{out: out, errCh: make(chan error, 1), pending: make(map[uuid.UUID]*pendingUpdate)}
}

func (c *coalescer) handle(event eventbus.Event) error {
	if event.Topic != eventbus.TopicEntityUpdated {
		return c.out.WriteEvent(event.Topic, event.Payload)
	}

	payload, ok := event.Payload.(eventbus.EntityUpdatedPayload)
	if !ok {
		return c.out.WriteEvent(event.Topic, event.Payload)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.pending[payload.ID]; ok {
		existing.payload = payload
		return nil
	}

	pu := &pendingUpdate{payload: payload}
	pu.timer = time.AfterFunc(CoalesceWindow, func() { c.flush(payload.ID) })
	c.pending[payload.ID] = pu
	return nil
}

func (c *coalescer) flush(id uuid.UUID) {
	c.mu.Lock()
	pu, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.out.WriteEvent(eventbus.TopicEntityUpdated, pu.payload); err != nil {
		select {
		case c.errCh <- err:
		default:
		}
	}
}

func (c *coalescer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, pu := range c.pending {
		pu.timer.Stop()
		delete(c.pending, id)
	}
}
