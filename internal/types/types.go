// Package types defines the data model shared across the store, the
// extraction/organization pipeline, the review engine, and the event
// bus: projects, epics, entities, raw notes, relationships, tags, review
// items, users, and API keys, per spec.md §3.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// EntityType discriminates the three entity kinds. Status values are
// typed per EntityType — see StatusesForType.
type EntityType string

const (
	EntityTask     EntityType = "task"
	EntityDecision EntityType = "decision"
	EntityInsight  EntityType = "insight"
)

// Status values, grouped by the EntityType they are valid for.
const (
	TaskCaptured    = "captured"
	TaskNeedsAction = "needs_action"
	TaskInProgress  = "in_progress"
	TaskDone        = "done"

	DecisionPending = "pending"
	DecisionDecided = "decided"

	InsightCaptured     = "captured"
	InsightAcknowledged = "acknowledged"
)

// StatusesForType returns the permitted status set for an entity type,
// and DefaultStatusForType returns its initial status. Both are used by
// the store to enforce invariant (i) in spec.md §3 and by the review
// engine when a type_classification review changes an entity's type.
func StatusesForType(t EntityType) []string {
	switch t {
	case EntityTask:
		return []string{TaskCaptured, TaskNeedsAction, TaskInProgress, TaskDone}
	case EntityDecision:
		return []string{DecisionPending, DecisionDecided}
	case EntityInsight:
		return []string{InsightCaptured, InsightAcknowledged}
	default:
		return nil
	}
}

// DefaultStatusForType returns the initial status assigned when an
// entity is created, or when its type changes via a type_classification
// review resolution.
func DefaultStatusForType(t EntityType) string {
	switch t {
	case EntityTask:
		return TaskCaptured
	case EntityDecision:
		return DecisionPending
	case EntityInsight:
		return InsightCaptured
	default:
		return ""
	}
}

// StatusValidForType reports whether status is a member of the
// permitted set for t (spec.md §8 invariant 1).
func StatusValidForType(t EntityType, status string) bool {
	for _, s := range StatusesForType(t) {
		if s == status {
			return true
		}
	}
	return false
}

// ProjectStatus enumerates project lifecycle states.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// Project is a named container for epics and entities.
type Project struct {
	ID          uuid.UUID
	Name        string
	Description *string
	Status      ProjectStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// EpicCreator distinguishes AI-proposed epics (via epic_creation review)
// from user-created ones.
type EpicCreator string

const (
	CreatedByUser EpicCreator = "user"
	CreatedByAI   EpicCreator = "ai"
)

// Epic is a sub-container within one project.
type Epic struct {
	ID          uuid.UUID
	Name        string
	Description *string
	ProjectID   uuid.UUID
	CreatedBy   EpicCreator
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Evidence is a literal quote from a raw note supporting an extracted
// field (spec.md §3, GLOSSARY).
type Evidence struct {
	RawNoteID    uuid.UUID
	Quote        string
	StartOffset  *int
	EndOffset    *int
	Permalink    *string
}

// FieldConfidence is one entry of the aiMeta per-field confidence map
// (spec.md §9 "Confidence partition").
type FieldConfidence struct {
	FieldPath  string
	Value      any
	Confidence float64
	Evidence   []Evidence
}

// AIMeta is per-entity provenance: model, prompt version, extraction run,
// and per-field confidences.
type AIMeta struct {
	Model            string
	PromptVersion    string
	ExtractionRunID  uuid.UUID
	FieldConfidences []FieldConfidence
}

// Entity is the central unit: a task, decision, or insight.
type Entity struct {
	ID            uuid.UUID
	Type          EntityType
	Content       string
	Status        string
	ProjectID     *uuid.UUID
	EpicID        *uuid.UUID
	ParentTaskID  *uuid.UUID
	AssigneeID    *uuid.UUID
	Confidence    float64
	Attributes    map[string]any
	AIMeta        *AIMeta
	Evidence      []Evidence
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// NoteSource enumerates where a raw note originated.
type NoteSource string

const (
	SourceCLI               NoteSource = "cli"
	SourceSlack             NoteSource = "slack"
	SourceVoiceMemo         NoteSource = "voice_memo"
	SourceMeetingTranscript NoteSource = "meeting_transcript"
	SourceObsidian          NoteSource = "obsidian"
	SourceMCP               NoteSource = "mcp"
	SourceAPI               NoteSource = "api"
)

// RawNote is the append-only ingested note.
type RawNote struct {
	ID          uuid.UUID
	Content     string
	Source      NoteSource
	SourceMeta  map[string]any
	ExternalID  *string
	CapturedAt  time.Time
	CapturedBy  *string
	Processed   bool
	ProcessedAt *time.Time
	DedupeHash  string
	CreatedAt   time.Time
}

// DedupeHash computes the raw note idempotency key of spec.md §3:
// H(source, content, capturedBy), used whenever a note arrives without
// an externalId.
func DedupeHash(source NoteSource, content string, capturedBy *string) string {
	by := ""
	if capturedBy != nil {
		by = *capturedBy
	}
	sum := sha256.Sum256([]byte(string(source) + "\x00" + content + "\x00" + by))
	return hex.EncodeToString(sum[:])
}

// EntitySource is the join row recording which note produced which entity.
type EntitySource struct {
	EntityID  uuid.UUID
	RawNoteID uuid.UUID
	CreatedAt time.Time
}

// RelationshipType enumerates directed entity-relationship edge labels.
type RelationshipType string

const (
	RelDerivedFrom RelationshipType = "derived_from"
	RelRelatedTo   RelationshipType = "related_to"
	RelDuplicateOf RelationshipType = "duplicate_of"
	RelBlocks      RelationshipType = "blocks"
)

// EntityRelationship is a directed labelled edge between two entities.
type EntityRelationship struct {
	ID        uuid.UUID
	SourceID  uuid.UUID
	TargetID  uuid.UUID
	Type      RelationshipType
	Metadata  map[string]any
	CreatedAt time.Time
}

// Tag is a lowercase, unique tag name.
type Tag struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// EntityEventType enumerates the append-only entity activity log kinds.
type EntityEventType string

const (
	EventCreated          EntityEventType = "created"
	EventComment          EntityEventType = "comment"
	EventStatusChange     EntityEventType = "status_change"
	EventAssignmentChange EntityEventType = "assignment_change"
	EventReviewResolved    EntityEventType = "review_resolved"
)

// EntityEvent is one row of an entity's append-only activity log.
type EntityEvent struct {
	ID          uuid.UUID
	EntityID    uuid.UUID
	Type        EntityEventType
	ActorUserID *uuid.UUID
	RawNoteID   *uuid.UUID
	Body        *string
	OldStatus   *string
	NewStatus   *string
	Meta        map[string]any
	CreatedAt   time.Time
}

// ReviewType enumerates the kinds of review queue item.
type ReviewType string

const (
	ReviewTypeClassification ReviewType = "type_classification"
	ReviewProjectAssignment  ReviewType = "project_assignment"
	ReviewProjectCreation    ReviewType = "project_creation"
	ReviewEpicAssignment     ReviewType = "epic_assignment"
	ReviewEpicCreation       ReviewType = "epic_creation"
	ReviewDuplicateDetection ReviewType = "duplicate_detection"
	ReviewLowConfidence      ReviewType = "low_confidence"
	ReviewAssigneeSuggestion ReviewType = "assignee_suggestion"
)

// ReviewStatus enumerates the review item state machine (spec.md §4.7).
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewAccepted ReviewStatus = "accepted"
	ReviewRejected ReviewStatus = "rejected"
	ReviewModified ReviewStatus = "modified"
)

// ReviewItem is one row of the human review queue.
type ReviewItem struct {
	ID              uuid.UUID
	EntityID        *uuid.UUID
	ProjectID       *uuid.UUID
	ReviewType      ReviewType
	Status          ReviewStatus
	AISuggestion    map[string]any
	AIConfidence    float64
	ResolvedBy      *uuid.UUID
	ResolvedAt      *time.Time
	UserResolution  map[string]any
	TrainingComment *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// User is a minimal identity record.
type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// APIKey is a hashed credential scoped to a user. Plaintext is generated
// once by the (out-of-scope) HTTP shell and never stored.
type APIKey struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Name       string
	KeyHash    string
	LastUsedAt *time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}
