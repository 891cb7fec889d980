// Package eventbus implements the typed pub/sub topic tree (C2) that
// broadcasts entity-graph change notifications to in-process subscribers
// and, when configured, to a NATS JetStream backend for cross-process
// fanout to SSE clients (internal/stream).
package eventbus

import "github.com/google/uuid"

// Topic identifies one of the fixed event shapes the bus carries.
type Topic string

const (
	TopicEntityCreated        Topic = "entity:created"
	TopicEntityUpdated        Topic = "entity:updated"
	TopicEntityEventAdded     Topic = "entity:event_added"
	TopicRawNoteProcessed     Topic = "raw_note:processed"
	TopicReviewQueueCreated   Topic = "review_queue:created"
	TopicReviewQueueResolved  Topic = "review_queue:resolved"
	TopicProjectStatsUpdated  Topic = "project:stats_updated"
)

// Event is the envelope published on the bus. Payload holds one of the
// Topic-specific structs below; subscribers type-assert on Topic.
type Event struct {
	Topic   Topic `json:"topic"`
	Payload any   `json:"payload"`
}

// EntityCreatedPayload backs TopicEntityCreated.
type EntityCreatedPayload struct {
	ID   uuid.UUID `json:"id"`
	Type string    `json:"type"`
}

// EntityUpdatedPayload backs TopicEntityUpdated.
type EntityUpdatedPayload struct {
	ID uuid.UUID `json:"id"`
}

// EntityEventAddedPayload backs TopicEntityEventAdded.
type EntityEventAddedPayload struct {
	EntityID uuid.UUID `json:"entityId"`
	EventID  uuid.UUID `json:"eventId"`
	Type     string    `json:"type"`
}

// RawNoteProcessedPayload backs TopicRawNoteProcessed.
type RawNoteProcessedPayload struct {
	RawNoteID uuid.UUID   `json:"rawNoteId"`
	EntityIDs []uuid.UUID `json:"entityIds"`
}

// ReviewQueueCreatedPayload backs TopicReviewQueueCreated.
type ReviewQueueCreatedPayload struct {
	ID         uuid.UUID  `json:"id"`
	ReviewType string     `json:"reviewType"`
	EntityID   *uuid.UUID `json:"entityId,omitempty"`
	ProjectID  *uuid.UUID `json:"projectId,omitempty"`
}

// ReviewQueueResolvedPayload backs TopicReviewQueueResolved.
type ReviewQueueResolvedPayload struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// ProjectStatsUpdatedPayload backs TopicProjectStatsUpdated.
type ProjectStatsUpdatedPayload struct {
	ProjectID uuid.UUID `json:"projectId"`
}
