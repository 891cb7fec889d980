// Package review implements the Review Engine (C7, spec.md §4.7): the
// fixed per-reviewType effect table applied inside store.ResolveReview's
// transaction, the type_classification auto-reject cascade, and batch
// resolution. It operates directly against the pgx.Tx that
// store.ResolveReview already holds open, mirroring the embedded-tx
// style of store.AutoRejectPending rather than reopening a connection
// from the pool.
package review

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/steveyegge/pm/internal/apierrors"
	"github.com/steveyegge/pm/internal/eventbus"
	"github.com/steveyegge/pm/internal/store"
	"github.com/steveyegge/pm/internal/types"
)

// Engine resolves review items against a Store, applying the
// reviewType-specific effect table of spec.md §4.7.
type Engine struct {
	store *store.Store
}

// New constructs an Engine bound to a Store.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Resolve transitions one review item to a terminal status, applying
// its reviewType's effect and — for type_classification — the
// auto-reject cascade, all inside store.ResolveReview's transaction.
func (e *Engine) Resolve(ctx context.Context, id uuid.UUID, newStatus types.ReviewStatus, resolvedBy uuid.UUID, userResolution map[string]any, trainingComment *string) (types.ReviewItem, error) {
	return e.store.ResolveReview(ctx, id, newStatus, resolvedBy, userResolution, trainingComment,
		func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder, current types.ReviewItem) error {
			return applyEffect(ctx, tx, rec, e.store, current, newStatus, resolvedBy, userResolution)
		})
}

// BatchItem is one request in a resolveBatch call.
type BatchItem struct {
	ID              uuid.UUID
	Status          types.ReviewStatus
	ResolvedBy      uuid.UUID
	UserResolution  map[string]any
	TrainingComment *string
}

// BatchOutcome is one resolveBatch result (spec.md §4.7 "the batch
// result lists per-item outcomes").
type BatchOutcome struct {
	ID    uuid.UUID
	Item  types.ReviewItem
	Err   error
}

// ResolveBatch resolves each item in its own sub-transaction (each
// Resolve call opens and commits its own transaction via
// store.ResolveReview); a failure on one item does not undo the
// effects already committed by preceding items, but aborts the
// remainder of the batch and reports it (spec.md §4.7 "Batch resolve").
func (e *Engine) ResolveBatch(ctx context.Context, items []BatchItem) []BatchOutcome {
	out := make([]BatchOutcome, 0, len(items))
	for _, it := range items {
		resolved, err := e.Resolve(ctx, it.ID, it.Status, it.ResolvedBy, it.UserResolution, it.TrainingComment)
		out = append(out, BatchOutcome{ID: it.ID, Item: resolved, Err: err})
		if err != nil {
			for _, rest := range items[len(out):] {
				out = append(out, BatchOutcome{ID: rest.ID, Err: apierrors.New(apierrors.CodeConflict, "aborted: preceding batch item failed")})
			}
			break
		}
	}
	return out
}

// applyEffect dispatches on reviewType per the table in spec.md §4.7.
// On accept, the AI suggestion (current.AISuggestion) is applied; on
// modify, userResolution is applied instead; reject applies the clear
// action (or is a no-op where the table says "no change").
func applyEffect(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder, s *store.Store, current types.ReviewItem, newStatus types.ReviewStatus, resolvedBy uuid.UUID, userResolution map[string]any) error {
	switch current.ReviewType {
	case types.ReviewTypeClassification:
		return applyTypeClassification(ctx, tx, rec, s, current, newStatus, resolvedBy, userResolution)
	case types.ReviewProjectAssignment:
		return applyScalarFieldChange(ctx, tx, rec, current, newStatus, userResolution, "project_id", "suggestedProjectId")
	case types.ReviewEpicAssignment:
		return applyScalarFieldChange(ctx, tx, rec, current, newStatus, userResolution, "epic_id", "suggestedEpicId")
	case types.ReviewAssigneeSuggestion:
		return applyScalarFieldChange(ctx, tx, rec, current, newStatus, userResolution, "assignee_id", "suggestedAssigneeId")
	case types.ReviewDuplicateDetection:
		return applyDuplicateDetection(ctx, tx, rec, current, newStatus, userResolution)
	case types.ReviewEpicCreation:
		return applyEpicCreation(ctx, tx, rec, current, newStatus, userResolution)
	case types.ReviewLowConfidence:
		return nil // training signal only, no structural change
	case types.ReviewProjectCreation:
		return applyProjectCreation(ctx, tx, rec, current, newStatus, userResolution)
	default:
		return apierrors.New(apierrors.CodeInternal, fmt.Sprintf("review: unknown reviewType %q", current.ReviewType))
	}
}

// applyTypeClassification sets entity.type (and resets status to the
// new type's default), then cascades: every other pending review for
// this entity is auto-rejected, since it may have been produced
// against the old type (spec.md §4.7 "Auto-rejection cascade").
func applyTypeClassification(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder, s *store.Store, current types.ReviewItem, newStatus types.ReviewStatus, resolvedBy uuid.UUID, userResolution map[string]any) error {
	if newStatus == types.ReviewRejected {
		return nil
	}
	if current.EntityID == nil {
		return apierrors.New(apierrors.CodeInternal, "type_classification review missing entityId")
	}

	var newType types.EntityType
	if newStatus == types.ReviewModified {
		t, ok := userResolution["suggestedType"].(string)
		if !ok {
			return apierrors.New(apierrors.CodeValidation, "modify type_classification requires userResolution.suggestedType")
		}
		newType = types.EntityType(t)
	} else {
		t, ok := current.AISuggestion["suggestedType"].(string)
		if !ok {
			return apierrors.New(apierrors.CodeInternal, "type_classification aiSuggestion missing suggestedType")
		}
		newType = types.EntityType(t)
	}

	newStatusValue := types.DefaultStatusForType(newType)
	if newStatusValue == "" {
		return apierrors.New(apierrors.CodeValidation, fmt.Sprintf("unrecognized entity type %q", newType))
	}

	if _, err := tx.Exec(ctx, `
		UPDATE entities SET type = $2 WHERE id = $1
	`, *current.EntityID, newType); err != nil {
		return err
	}
	// A review resolution is always user-driven (the human accepted or
	// modified the suggestion), so the status_change event records
	// resolvedBy as the actor rather than leaving it null.
	if _, err := s.TransitionEntityStatusTx(ctx, tx, rec, *current.EntityID, newStatusValue, &resolvedBy); err != nil {
		return err
	}

	return s.AutoRejectPending(ctx, tx, rec, *current.EntityID, current.ID, "auto-rejected: entity type changed by type_classification review")
}

// applyScalarFieldChange handles project/epic/assignee assignment
// reviews, all of which share the same accept/modify/reject shape:
// accept sets the column to aiSuggestion[suggestionKey], modify sets it
// to userResolution[suggestionKey], reject clears it to NULL.
func applyScalarFieldChange(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder, current types.ReviewItem, newStatus types.ReviewStatus, userResolution map[string]any, column, suggestionKey string) error {
	if current.EntityID == nil {
		return apierrors.New(apierrors.CodeInternal, "field assignment review missing entityId")
	}

	var value *uuid.UUID
	switch newStatus {
	case types.ReviewAccepted:
		value = idFromMap(current.AISuggestion, suggestionKey)
	case types.ReviewModified:
		value = idFromMap(userResolution, suggestionKey)
		if value == nil {
			return apierrors.New(apierrors.CodeValidation, fmt.Sprintf("modify requires userResolution.%s", suggestionKey))
		}
	case types.ReviewRejected:
		value = nil
	}

	query := fmt.Sprintf(`UPDATE entities SET %s = $2 WHERE id = $1`, column)
	if _, err := tx.Exec(ctx, query, *current.EntityID, value); err != nil {
		return err
	}
	rec.Stage(eventbus.TopicEntityUpdated, eventbus.EntityUpdatedPayload{ID: *current.EntityID})
	return nil
}

// applyDuplicateDetection inserts the duplicate_of relationship and
// soft-deletes the reviewed entity on accept/modify; reject leaves it
// untouched.
func applyDuplicateDetection(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder, current types.ReviewItem, newStatus types.ReviewStatus, userResolution map[string]any) error {
	if newStatus == types.ReviewRejected {
		return nil
	}
	if current.EntityID == nil {
		return apierrors.New(apierrors.CodeInternal, "duplicate_detection review missing entityId")
	}

	var duplicateOf *uuid.UUID
	if newStatus == types.ReviewModified {
		duplicateOf = idFromMap(userResolution, "duplicateEntityId")
	} else {
		duplicateOf = idFromMap(current.AISuggestion, "duplicateEntityId")
	}
	if duplicateOf == nil {
		return apierrors.New(apierrors.CodeValidation, "duplicate_detection resolution missing duplicateEntityId")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO entity_relationships (source_id, target_id, type) VALUES ($1, $2, $3)
	`, *current.EntityID, *duplicateOf, types.RelDuplicateOf); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE entities SET deleted_at = now() WHERE id = $1`, *current.EntityID); err != nil {
		return err
	}
	rec.Stage(eventbus.TopicEntityUpdated, eventbus.EntityUpdatedPayload{ID: *current.EntityID})
	return nil
}

// applyEpicCreation materializes the proposed epic and, for each
// candidate entity, inserts a follow-up pending epic_assignment review
// targeting the new epic (spec.md §4.7).
func applyEpicCreation(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder, current types.ReviewItem, newStatus types.ReviewStatus, userResolution map[string]any) error {
	if newStatus == types.ReviewRejected {
		return nil
	}

	proposal := current.AISuggestion
	if newStatus == types.ReviewModified {
		proposal = userResolution
	}

	name, _ := proposal["name"].(string)
	if name == "" {
		return apierrors.New(apierrors.CodeValidation, "epic_creation resolution missing name")
	}
	var description *string
	if d, ok := proposal["description"].(string); ok && d != "" {
		description = &d
	}
	projectID := idFromMap(proposal, "projectId")
	if projectID == nil {
		return apierrors.New(apierrors.CodeValidation, "epic_creation resolution missing projectId")
	}

	var epicID uuid.UUID
	if err := tx.QueryRow(ctx, `
		INSERT INTO epics (name, description, project_id, created_by) VALUES ($1, $2, $3, $4)
		RETURNING id
	`, name, description, *projectID, types.CreatedByAI).Scan(&epicID); err != nil {
		return err
	}

	candidateIDs, _ := proposal["candidateEntityIds"].([]any)
	for _, raw := range candidateIDs {
		entityIDStr, ok := raw.(string)
		if !ok {
			continue
		}
		entityID, err := uuid.Parse(entityIDStr)
		if err != nil {
			continue
		}
		suggestion, err := json.Marshal(map[string]any{"suggestedEpicId": epicID.String()})
		if err != nil {
			return err
		}
		var newReviewID uuid.UUID
		row := tx.QueryRow(ctx, `
			INSERT INTO review_items (entity_id, project_id, review_type, ai_suggestion, ai_confidence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (entity_id, review_type) WHERE status = 'pending' AND review_type <> 'low_confidence' AND entity_id IS NOT NULL DO NOTHING
			RETURNING id
		`, entityID, *projectID, types.ReviewEpicAssignment, suggestion, current.AIConfidence)
		if err := row.Scan(&newReviewID); err != nil {
			if err == pgx.ErrNoRows {
				continue // a pending epic_assignment review for this entity already exists
			}
			return err
		}
		rec.Stage(eventbus.TopicReviewQueueCreated, eventbus.ReviewQueueCreatedPayload{
			ID: newReviewID, ReviewType: string(types.ReviewEpicAssignment), EntityID: &entityID, ProjectID: projectID,
		})
	}

	return nil
}

// applyProjectCreation materializes a proposed project the same way
// epic_creation materializes an epic — an ambient extension beyond
// spec.md's table, since organization-stage project proposals land in
// the same review_items shape as epic proposals.
func applyProjectCreation(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder, current types.ReviewItem, newStatus types.ReviewStatus, userResolution map[string]any) error {
	if newStatus == types.ReviewRejected {
		return nil
	}
	proposal := current.AISuggestion
	if newStatus == types.ReviewModified {
		proposal = userResolution
	}
	name, _ := proposal["name"].(string)
	if name == "" {
		return apierrors.New(apierrors.CodeValidation, "project_creation resolution missing name")
	}
	var description *string
	if d, ok := proposal["description"].(string); ok && d != "" {
		description = &d
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO projects (name, description) VALUES ($1, $2)
	`, name, description); err != nil {
		return err
	}
	_ = rec
	return nil
}

func idFromMap(m map[string]any, key string) *uuid.UUID {
	if m == nil {
		return nil
	}
	raw, ok := m[key].(string)
	if !ok || raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
