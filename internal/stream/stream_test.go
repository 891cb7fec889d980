package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/pm/internal/eventbus"
)

type fakeWriter struct {
	mu     sync.Mutex
	events []eventbus.Topic
	pings  int
}

func (f *fakeWriter) WriteEvent(topic eventbus.Topic, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, topic)
	return nil
}

func (f *fakeWriter) WritePing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestCoalescer_NonUpdateTopicsPassThroughImmediately(t *testing.T) {
	w := &fakeWriter{}
	c := newCoalescer(w)
	defer c.stop()

	err := c.handle(eventbus.Event{Topic: eventbus.TopicEntityCreated, Payload: eventbus.EntityCreatedPayload{ID: uuid.New()}})
	require.NoError(t, err)
	assert.Equal(t, 1, w.count())
}

func TestCoalescer_DuplicateUpdatesCoalesceIntoOneFrame(t *testing.T) {
	w := &fakeWriter{}
	c := newCoalescer(w)
	defer c.stop()

	id := uuid.New()
	for i := 0; i < 5; i++ {
		err := c.handle(eventbus.Event{Topic: eventbus.TopicEntityUpdated, Payload: eventbus.EntityUpdatedPayload{ID: id}})
		require.NoError(t, err)
	}

	assert.Equal(t, 0, w.count(), "flush should not have fired yet")

	time.Sleep(CoalesceWindow + 50*time.Millisecond)
	assert.Equal(t, 1, w.count(), "five rapid updates to the same id should coalesce into one frame")
}

func TestCoalescer_DifferentIDsFlushIndependently(t *testing.T) {
	w := &fakeWriter{}
	c := newCoalescer(w)
	defer c.stop()

	a, b := uuid.New(), uuid.New()
	require.NoError(t, c.handle(eventbus.Event{Topic: eventbus.TopicEntityUpdated, Payload: eventbus.EntityUpdatedPayload{ID: a}}))
	require.NoError(t, c.handle(eventbus.Event{Topic: eventbus.TopicEntityUpdated, Payload: eventbus.EntityUpdatedPayload{ID: b}}))

	time.Sleep(CoalesceWindow + 50*time.Millisecond)
	assert.Equal(t, 2, w.count())
}
