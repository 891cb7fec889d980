package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	// StreamMutationEvents is the JetStream stream backing cross-process
	// fanout of entity-graph mutations to SSE clients (internal/stream).
	StreamMutationEvents = "MUTATION_EVENTS"

	// SubjectMutationPrefix is the subject prefix every topic is
	// published under, e.g. "mutations.entity:created".
	SubjectMutationPrefix = "mutations."
)

// SubjectForTopic returns the NATS subject a topic is published under.
func SubjectForTopic(t Topic) string {
	return SubjectMutationPrefix + string(t)
}

// EnsureStream creates the MUTATION_EVENTS JetStream stream if it does not
// already exist. Called once during process startup when NATS is enabled.
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamMutationEvents); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     StreamMutationEvents,
			Subjects: []string{SubjectMutationPrefix + ">"},
			Storage:  nats.FileStorage,
			// This is a cache-invalidation channel, not a durable log
			// (spec.md §4.8): retain a bounded recent window only.
			MaxMsgs:  10000,
			MaxBytes: 50 << 20,
		})
		if err != nil {
			return fmt.Errorf("create %s stream: %w", StreamMutationEvents, err)
		}
	}
	return nil
}

// marshalEvent encodes an Event for JetStream publishing.
func marshalEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}

// UnmarshalEvent decodes a raw JetStream message body back into an Event.
// The Payload field decodes as a map[string]any; callers that need typed
// payloads should re-marshal/unmarshal into the concrete *Payload struct
// for event.Topic.
func UnmarshalEvent(data []byte) (Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return event, err
}
