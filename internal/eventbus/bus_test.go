package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingTopic(t *testing.T) {
	bus := New()
	sub, unsubscribe := bus.Subscribe(TopicEntityCreated)
	defer unsubscribe()

	id := uuid.New()
	bus.Publish(context.Background(), Event{Topic: TopicEntityCreated, Payload: EntityCreatedPayload{ID: id, Type: "task"}})
	bus.Publish(context.Background(), Event{Topic: TopicEntityUpdated, Payload: EntityUpdatedPayload{ID: id}})

	select {
	case got := <-sub.Events:
		require.Equal(t, TopicEntityCreated, got.Topic)
		payload, ok := got.Payload.(EntityCreatedPayload)
		require.True(t, ok)
		require.Equal(t, id, payload.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case _, ok := <-sub.Events:
		if ok {
			t.Fatal("received event for unsubscribed topic")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	sub, unsubscribe := bus.Subscribe()
	unsubscribe()
	unsubscribe() // must be safe to call twice

	bus.Publish(context.Background(), Event{Topic: TopicEntityCreated, Payload: EntityCreatedPayload{ID: uuid.New()}})

	_, ok := <-sub.Events
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestOverflowDropsOldestAndCounts(t *testing.T) {
	bus := New()
	sub, unsubscribe := bus.Subscribe(TopicEntityUpdated)
	defer unsubscribe()

	total := subscriberBuffer + 10
	for i := 0; i < total; i++ {
		bus.Publish(context.Background(), Event{Topic: TopicEntityUpdated, Payload: EntityUpdatedPayload{ID: uuid.New()}})
	}

	require.Equal(t, uint64(10), sub.Dropped(), "expected exactly the overflow count to be dropped")
	require.Len(t, sub.Events, subscriberBuffer)
}

func TestRecorderFlushPublishesInOrder(t *testing.T) {
	bus := New()
	sub, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	rec := NewRecorder(bus)
	idA, idB := uuid.New(), uuid.New()
	rec.Stage(TopicEntityCreated, EntityCreatedPayload{ID: idA, Type: "task"})
	rec.Stage(TopicEntityUpdated, EntityUpdatedPayload{ID: idB})

	// Nothing is published until Flush is called.
	select {
	case <-sub.Events:
		t.Fatal("event delivered before flush")
	default:
	}

	rec.Flush(context.Background())

	first := <-sub.Events
	require.Equal(t, TopicEntityCreated, first.Topic)
	second := <-sub.Events
	require.Equal(t, TopicEntityUpdated, second.Topic)
}

func TestRecorderDiscardPublishesNothing(t *testing.T) {
	bus := New()
	sub, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	rec := NewRecorder(bus)
	rec.Stage(TopicEntityCreated, EntityCreatedPayload{ID: uuid.New(), Type: "task"})
	rec.Discard()
	rec.Flush(context.Background())

	select {
	case <-sub.Events:
		t.Fatal("discarded recorder must not publish")
	case <-time.After(20 * time.Millisecond):
	}
}
