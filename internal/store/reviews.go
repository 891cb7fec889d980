package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/steveyegge/pm/internal/apierrors"
	"github.com/steveyegge/pm/internal/eventbus"
	"github.com/steveyegge/pm/internal/types"
)

const selectReviewSQL = `
	SELECT id, entity_id, project_id, review_type, status, ai_suggestion, ai_confidence,
	       resolved_by, resolved_at, user_resolution, training_comment, created_at, updated_at
	FROM review_items
`

// CreateReviewItem inserts a pending review row. Per the partial unique
// index uq_review_pending_per_entity_type, a second pending item of the
// same (entityId, reviewType) — other than low_confidence, which may
// stack — is a conflict; CreateReviewItem treats that as success and
// returns the existing pending row (spec.md §4.7 "review creation is
// idempotent per entity+reviewType").
func (s *Store) CreateReviewItem(ctx context.Context, r types.ReviewItem) (types.ReviewItem, error) {
	var out types.ReviewItem
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder) error {
		suggestion, err := json.Marshal(r.AISuggestion)
		if err != nil {
			return apierrors.Wrap(apierrors.CodeValidation, "create review: marshal aiSuggestion", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO review_items (entity_id, project_id, review_type, ai_suggestion, ai_confidence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (entity_id, review_type) WHERE status = 'pending' AND review_type <> 'low_confidence' AND entity_id IS NOT NULL DO NOTHING
			RETURNING id, entity_id, project_id, review_type, status, ai_suggestion, ai_confidence, resolved_by, resolved_at, user_resolution, training_comment, created_at, updated_at
		`, r.EntityID, r.ProjectID, r.ReviewType, suggestion, r.AIConfidence)

		created, err := scanReviewItem(row)
		if err == nil {
			out = created
			rec.Stage(eventbus.TopicReviewQueueCreated, eventbus.ReviewQueueCreatedPayload{
				ID: created.ID, ReviewType: string(created.ReviewType), EntityID: created.EntityID, ProjectID: created.ProjectID,
			})
			return nil
		}
		if err != pgx.ErrNoRows {
			return wrapDBError("create review", err)
		}

		existing := tx.QueryRow(ctx, selectReviewSQL+`
			WHERE entity_id = $1 AND review_type = $2 AND status = 'pending'
		`, r.EntityID, r.ReviewType)
		created, err = scanReviewItem(existing)
		if err != nil {
			return wrapDBError("create review: fetch existing pending", err)
		}
		out = created
		return nil
	})
	return out, err
}

// getReviewItem fetches one review item within tx, locking its row FOR
// UPDATE when forUpdate is true — used by ResolveReview to serialize
// concurrent resolutions of the same item (spec.md §4.7).
func (s *Store) getReviewItem(ctx context.Context, tx pgx.Tx, id uuid.UUID, forUpdate bool) (types.ReviewItem, error) {
	q := selectReviewSQL + ` WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	row := tx.QueryRow(ctx, q, id)
	return scanReviewItem(row)
}

// GetReviewItem fetches one review item without locking.
func (s *Store) GetReviewItem(ctx context.Context, id uuid.UUID) (types.ReviewItem, error) {
	row := s.pool.QueryRow(ctx, selectReviewSQL+` WHERE id = $1`, id)
	r, err := scanReviewItem(row)
	if err != nil {
		return types.ReviewItem{}, wrapDBError("get review", err)
	}
	return r, nil
}

// ListReviews lists review items, optionally filtered by status and
// reviewType, newest first, with cursor pagination.
func (s *Store) ListReviews(ctx context.Context, status *types.ReviewStatus, reviewType *types.ReviewType, limit int, after *string) (Page[types.ReviewItem], error) {
	query := selectReviewSQL + ` WHERE 1=1`
	var args []any
	argN := 1

	if status != nil {
		argN++
		query += " AND status = $" + strconv.Itoa(argN)
		args = append(args, *status)
	}
	if reviewType != nil {
		argN++
		query += " AND review_type = $" + strconv.Itoa(argN)
		args = append(args, *reviewType)
	}
	if after != nil {
		c, err := decodeCursor(*after)
		if err != nil {
			return Page[types.ReviewItem]{}, err
		}
		keyArg, idArg := argN+1, argN+2
		argN += 2
		query += " AND (created_at, id) < ($" + strconv.Itoa(keyArg) + ", $" + strconv.Itoa(idArg) + ")"
		args = append(args, c.Key, c.ID)
	}
	args = append([]any{limit + 1}, args...)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page[types.ReviewItem]{}, wrapDBError("list reviews", err)
	}
	defer rows.Close()

	var items []types.ReviewItem
	for rows.Next() {
		r, err := scanReviewItem(rows)
		if err != nil {
			return Page[types.ReviewItem]{}, wrapDBError("list reviews", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return Page[types.ReviewItem]{}, wrapDBError("list reviews", err)
	}

	return buildPage(items, limit, func(r types.ReviewItem) (string, string) {
		return r.CreatedAt.Format(timeKeyLayout), r.ID.String()
	}), nil
}

// ListResolvedWithTrainingComment returns every non-pending review item
// resolved within [since, until) that carries a trainingComment,
// backing the review-queue:export-training-data job (spec.md §4.7).
func (s *Store) ListResolvedWithTrainingComment(ctx context.Context, since, until time.Time) ([]types.ReviewItem, error) {
	rows, err := s.pool.Query(ctx, selectReviewSQL+`
		WHERE status <> 'pending' AND training_comment IS NOT NULL
		AND resolved_at >= $1 AND resolved_at < $2
		ORDER BY resolved_at ASC
	`, since, until)
	if err != nil {
		return nil, wrapDBError("list resolved with training comment", err)
	}
	defer rows.Close()

	var items []types.ReviewItem
	for rows.Next() {
		r, err := scanReviewItem(rows)
		if err != nil {
			return nil, wrapDBError("list resolved with training comment", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("list resolved with training comment", err)
	}
	return items, nil
}

// CountReviews returns the count per reviewType of items in the given
// status, backing the
// review queue summary (spec.md §4.7).
func (s *Store) CountReviews(ctx context.Context, status types.ReviewStatus) (map[types.ReviewType]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT review_type, count(*) FROM review_items WHERE status = $1 GROUP BY review_type
	`, status)
	if err != nil {
		return nil, wrapDBError("count reviews", err)
	}
	defer rows.Close()

	out := map[types.ReviewType]int{}
	for rows.Next() {
		var rt types.ReviewType
		var n int
		if err := rows.Scan(&rt, &n); err != nil {
			return nil, wrapDBError("count reviews", err)
		}
		out[rt] = n
	}
	return out, rows.Err()
}

// ResolveReview transitions a pending review item to a terminal status
// (accepted/rejected/modified) under FOR UPDATE row locking, so two
// concurrent resolutions of the same item cannot both apply their
// effects (spec.md §4.7 "resolution is serialized per review item").
// applyEffect runs while the row is locked and the review is still
// pending; it is the caller's (review engine's) hook to perform the
// reviewType-specific side effect (materializing an entity, creating a
// project, auto-rejecting cascades, etc.) in the same transaction.
func (s *Store) ResolveReview(
	ctx context.Context,
	id uuid.UUID,
	newStatus types.ReviewStatus,
	resolvedBy uuid.UUID,
	userResolution map[string]any,
	trainingComment *string,
	applyEffect func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder, current types.ReviewItem) error,
) (types.ReviewItem, error) {
	if newStatus == types.ReviewPending {
		return types.ReviewItem{}, apierrors.New(apierrors.CodeValidation, "cannot resolve to pending")
	}

	var out types.ReviewItem
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder) error {
		current, err := s.getReviewItem(ctx, tx, id, true)
		if err != nil {
			return wrapDBError("resolve review", err)
		}
		if current.Status != types.ReviewPending {
			return apierrors.New(apierrors.CodeConflict, "review item already resolved")
		}

		if applyEffect != nil {
			if err := applyEffect(ctx, tx, rec, current); err != nil {
				return err
			}
		}

		resolution, err := json.Marshal(userResolution)
		if err != nil {
			return apierrors.Wrap(apierrors.CodeValidation, "resolve review: marshal userResolution", err)
		}

		row := tx.QueryRow(ctx, `
			UPDATE review_items
			SET status = $2, resolved_by = $3, resolved_at = now(), user_resolution = $4, training_comment = $5
			WHERE id = $1
			RETURNING id, entity_id, project_id, review_type, status, ai_suggestion, ai_confidence, resolved_by, resolved_at, user_resolution, training_comment, created_at, updated_at
		`, id, newStatus, resolvedBy, resolution, trainingComment)
		updated, err := scanReviewItem(row)
		if err != nil {
			return wrapDBError("resolve review", err)
		}

		out = updated
		rec.Stage(eventbus.TopicReviewQueueResolved, eventbus.ReviewQueueResolvedPayload{ID: updated.ID, Status: string(updated.Status)})
		return nil
	})
	return out, err
}

// AutoRejectPending rejects every other pending review item for an
// entity, used by the type_classification cascade of spec.md §4.7: when
// a type_classification review is accepted, every other pending review
// for that entity is stale and auto-rejected. Must be called with an
// already-open tx (inside a ResolveReview applyEffect).
func (s *Store) AutoRejectPending(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder, entityID uuid.UUID, except uuid.UUID, comment string) error {
	rows, err := tx.Query(ctx, `
		SELECT id FROM review_items WHERE entity_id = $1 AND status = 'pending' AND id <> $2 FOR UPDATE
	`, entityID, except)
	if err != nil {
		return wrapDBError("auto-reject pending", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return wrapDBError("auto-reject pending", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return wrapDBError("auto-reject pending", err)
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `
			UPDATE review_items SET status = 'rejected', training_comment = $2, resolved_at = now(), updated_at = now() WHERE id = $1
		`, id, comment); err != nil {
			return wrapDBError("auto-reject pending", err)
		}
		rec.Stage(eventbus.TopicReviewQueueResolved, eventbus.ReviewQueueResolvedPayload{ID: id, Status: string(types.ReviewRejected)})
	}
	return nil
}

func scanReviewItem(row rowScanner) (types.ReviewItem, error) {
	var r types.ReviewItem
	var suggestion, resolution []byte
	if err := row.Scan(
		&r.ID, &r.EntityID, &r.ProjectID, &r.ReviewType, &r.Status, &suggestion, &r.AIConfidence,
		&r.ResolvedBy, &r.ResolvedAt, &resolution, &r.TrainingComment, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return types.ReviewItem{}, err
	}
	if len(suggestion) > 0 {
		if err := json.Unmarshal(suggestion, &r.AISuggestion); err != nil {
			return types.ReviewItem{}, err
		}
	}
	if len(resolution) > 0 {
		if err := json.Unmarshal(resolution, &r.UserResolution); err != nil {
			return types.ReviewItem{}, err
		}
	}
	return r, nil
}

