package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/steveyegge/pm/internal/apierrors"
	"github.com/steveyegge/pm/internal/eventbus"
	"github.com/steveyegge/pm/internal/types"
)

const selectEntitySQL = `
	SELECT id, type, content, status, project_id, epic_id, parent_task_id, assignee_id,
	       confidence, attributes, ai_meta, evidence, created_at, updated_at, deleted_at
	FROM entities
`

// CreateEntity inserts a new entity and records its provenance (which
// raw notes produced it) and a "created" activity event, all in one
// transaction (spec.md §4.1, §9).
func (s *Store) CreateEntity(ctx context.Context, e types.Entity, sourceNoteIDs []uuid.UUID) (types.Entity, error) {
	if !types.StatusValidForType(e.Type, e.Status) {
		return types.Entity{}, apierrors.New(apierrors.CodeValidation, "status not valid for entity type")
	}

	var out types.Entity
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder) error {
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return apierrors.Wrap(apierrors.CodeValidation, "create entity: marshal attributes", err)
		}
		aiMeta, err := marshalAIMeta(e.AIMeta)
		if err != nil {
			return apierrors.Wrap(apierrors.CodeValidation, "create entity: marshal aiMeta", err)
		}
		evidence, err := json.Marshal(e.Evidence)
		if err != nil {
			return apierrors.Wrap(apierrors.CodeValidation, "create entity: marshal evidence", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO entities (type, content, status, project_id, epic_id, parent_task_id, assignee_id, confidence, attributes, ai_meta, evidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, type, content, status, project_id, epic_id, parent_task_id, assignee_id, confidence, attributes, ai_meta, evidence, created_at, updated_at, deleted_at
		`, e.Type, e.Content, e.Status, e.ProjectID, e.EpicID, e.ParentTaskID, e.AssigneeID, e.Confidence, attrs, aiMeta, evidence)

		created, err := scanEntity(row)
		if err != nil {
			return wrapDBError("create entity", err)
		}

		for _, noteID := range sourceNoteIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO entity_sources (entity_id, raw_note_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, created.ID, noteID); err != nil {
				return wrapDBError("create entity: link source", err)
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO entity_events (entity_id, type, new_status) VALUES ($1, $2, $3)
		`, created.ID, types.EventCreated, created.Status); err != nil {
			return wrapDBError("create entity: log created event", err)
		}

		out = created
		rec.Stage(eventbus.TopicEntityCreated, eventbus.EntityCreatedPayload{ID: created.ID, Type: string(created.Type)})
		return nil
	})
	return out, err
}

// GetEntity fetches one non-deleted entity by id.
func (s *Store) GetEntity(ctx context.Context, id uuid.UUID) (types.Entity, error) {
	row := s.pool.QueryRow(ctx, selectEntitySQL+` WHERE id = $1 AND deleted_at IS NULL`, id)
	e, err := scanEntity(row)
	if err != nil {
		return types.Entity{}, wrapDBError("get entity", err)
	}
	return e, nil
}

// EntityPatch is the set of mutable entity fields a PatchEntity call may
// change. Nil fields are left untouched.
type EntityPatch struct {
	Content    *string
	ProjectID  **uuid.UUID
	EpicID     **uuid.UUID
	AssigneeID **uuid.UUID
	Attributes map[string]any
}

// PatchEntity applies a partial update. Status is not one of the fields
// it can change directly — spec.md §4.1 names TransitionEntityStatus as
// the single path for status mutation, so a patch with only Status set
// (e.g. cmd/pm's `pm status`) should call that instead.
func (s *Store) PatchEntity(ctx context.Context, id uuid.UUID, patch EntityPatch) (types.Entity, error) {
	var out types.Entity
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder) error {
		row := tx.QueryRow(ctx, selectEntitySQL+` WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
		current, err := scanEntity(row)
		if err != nil {
			return wrapDBError("patch entity", err)
		}

		newContent := current.Content
		if patch.Content != nil {
			newContent = *patch.Content
		}
		newProjectID := current.ProjectID
		if patch.ProjectID != nil {
			newProjectID = *patch.ProjectID
		}
		newEpicID := current.EpicID
		if patch.EpicID != nil {
			newEpicID = *patch.EpicID
		}
		if newEpicID != nil && newProjectID == nil {
			return apierrors.New(apierrors.CodeValidation, "epicId requires projectId (invariant iii)")
		}
		newAssigneeID := current.AssigneeID
		if patch.AssigneeID != nil {
			newAssigneeID = *patch.AssigneeID
		}
		newAttrs := current.Attributes
		if patch.Attributes != nil {
			newAttrs = patch.Attributes
		}
		attrsJSON, err := json.Marshal(newAttrs)
		if err != nil {
			return apierrors.Wrap(apierrors.CodeValidation, "patch entity: marshal attributes", err)
		}

		row = tx.QueryRow(ctx, `
			UPDATE entities SET content = $2, project_id = $3, epic_id = $4, assignee_id = $5, attributes = $6
			WHERE id = $1
			RETURNING id, type, content, status, project_id, epic_id, parent_task_id, assignee_id, confidence, attributes, ai_meta, evidence, created_at, updated_at, deleted_at
		`, id, newContent, newProjectID, newEpicID, newAssigneeID, attrsJSON)
		updated, err := scanEntity(row)
		if err != nil {
			return wrapDBError("patch entity", err)
		}

		out = updated
		rec.Stage(eventbus.TopicEntityUpdated, eventbus.EntityUpdatedPayload{ID: updated.ID})
		return nil
	})
	return out, err
}

// TransitionEntityStatus is the single path for entity status mutation
// spec.md §4.1 names: it validates the new status against the entity's
// type, appends a status_change activity event recording which actor
// drove it when the status actually changes (a same-status call writes
// no event), and emits entityUpdated in either case. actor is nil for an AI-driven
// mutation, distinguishing the two in the audit trail (spec.md §9).
func (s *Store) TransitionEntityStatus(ctx context.Context, id uuid.UUID, newStatus string, actor *uuid.UUID) (types.Entity, error) {
	var out types.Entity
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder) error {
		updated, err := s.TransitionEntityStatusTx(ctx, tx, rec, id, newStatus, actor)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

// TransitionEntityStatusTx is TransitionEntityStatus's embedded-tx form,
// for callers that already hold tx open and must combine the status
// change with other mutations atomically (the review engine's
// type_classification effect changes entity.type first, then calls this
// to apply the resulting default status under the same lock).
func (s *Store) TransitionEntityStatusTx(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder, id uuid.UUID, newStatus string, actor *uuid.UUID) (types.Entity, error) {
	row := tx.QueryRow(ctx, selectEntitySQL+` WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
	current, err := scanEntity(row)
	if err != nil {
		return types.Entity{}, wrapDBError("transition entity status", err)
	}
	if !types.StatusValidForType(current.Type, newStatus) {
		return types.Entity{}, apierrors.New(apierrors.CodeValidation, "status not valid for entity type")
	}

	row = tx.QueryRow(ctx, `
		UPDATE entities SET status = $2 WHERE id = $1
		RETURNING id, type, content, status, project_id, epic_id, parent_task_id, assignee_id, confidence, attributes, ai_meta, evidence, created_at, updated_at, deleted_at
	`, id, newStatus)
	updated, err := scanEntity(row)
	if err != nil {
		return types.Entity{}, wrapDBError("transition entity status", err)
	}

	if newStatus != current.Status {
		if _, err := tx.Exec(ctx, `
			INSERT INTO entity_events (entity_id, type, actor_user_id, old_status, new_status) VALUES ($1, $2, $3, $4, $5)
		`, id, types.EventStatusChange, actor, current.Status, newStatus); err != nil {
			return types.Entity{}, wrapDBError("transition entity status: log event", err)
		}
	}

	rec.Stage(eventbus.TopicEntityUpdated, eventbus.EntityUpdatedPayload{ID: updated.ID})
	return updated, nil
}

// ListEntities lists non-deleted entities ordered by createdAt
// descending with cursor pagination, optionally filtered by project.
func (s *Store) ListEntities(ctx context.Context, projectID *uuid.UUID, limit int, after *string) (Page[types.Entity], error) {
	query := selectEntitySQL + ` WHERE deleted_at IS NULL`
	var args []any
	argN := 1

	if projectID != nil {
		argN++
		query += fmt.Sprintf(" AND project_id = $%d", argN)
		args = append(args, *projectID)
	}
	if after != nil {
		c, err := decodeCursor(*after)
		if err != nil {
			return Page[types.Entity]{}, err
		}
		keyArg, idArg := argN+1, argN+2
		argN += 2
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", keyArg, idArg)
		args = append(args, c.Key, c.ID)
	}
	args = append([]any{limit + 1}, args...)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page[types.Entity]{}, wrapDBError("list entities", err)
	}
	defer rows.Close()

	var items []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return Page[types.Entity]{}, wrapDBError("list entities", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return Page[types.Entity]{}, wrapDBError("list entities", err)
	}

	return buildPage(items, limit, func(e types.Entity) (string, string) {
		return e.CreatedAt.Format(timeKeyLayout), e.ID.String()
	}), nil
}

// AddEvent appends an activity-log row for an entity (comments, manual
// assignment changes, review resolutions).
func (s *Store) AddEvent(ctx context.Context, ev types.EntityEvent) (types.EntityEvent, error) {
	var out types.EntityEvent
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder) error {
		meta, err := json.Marshal(ev.Meta)
		if err != nil {
			return apierrors.Wrap(apierrors.CodeValidation, "add event: marshal meta", err)
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO entity_events (entity_id, type, actor_user_id, raw_note_id, body, old_status, new_status, meta)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, entity_id, type, actor_user_id, raw_note_id, body, old_status, new_status, meta, created_at
		`, ev.EntityID, ev.Type, ev.ActorUserID, ev.RawNoteID, ev.Body, ev.OldStatus, ev.NewStatus, meta)

		created, err := scanEntityEvent(row)
		if err != nil {
			return wrapDBError("add event", err)
		}
		out = created
		rec.Stage(eventbus.TopicEntityEventAdded, eventbus.EntityEventAddedPayload{
			EntityID: created.EntityID, EventID: created.ID, Type: string(created.Type),
		})
		return nil
	})
	return out, err
}

// ListEvents returns an entity's activity log ordered oldest-first.
func (s *Store) ListEvents(ctx context.Context, entityID uuid.UUID) ([]types.EntityEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_id, type, actor_user_id, raw_note_id, body, old_status, new_status, meta, created_at
		FROM entity_events WHERE entity_id = $1 ORDER BY created_at, id
	`, entityID)
	if err != nil {
		return nil, wrapDBError("list events", err)
	}
	defer rows.Close()

	var out []types.EntityEvent
	for rows.Next() {
		ev, err := scanEntityEvent(rows)
		if err != nil {
			return nil, wrapDBError("list events", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AddRelationship creates a directed labelled edge between two entities.
func (s *Store) AddRelationship(ctx context.Context, rel types.EntityRelationship) (types.EntityRelationship, error) {
	var out types.EntityRelationship
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder) error {
		meta, err := json.Marshal(rel.Metadata)
		if err != nil {
			return apierrors.Wrap(apierrors.CodeValidation, "add relationship: marshal metadata", err)
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO entity_relationships (source_id, target_id, type, metadata)
			VALUES ($1, $2, $3, $4)
			RETURNING id, source_id, target_id, type, metadata, created_at
		`, rel.SourceID, rel.TargetID, rel.Type, meta)

		created, err := scanRelationship(row)
		if err != nil {
			return wrapDBError("add relationship", err)
		}
		out = created
		rec.Stage(eventbus.TopicEntityUpdated, eventbus.EntityUpdatedPayload{ID: created.SourceID})
		return nil
	})
	return out, err
}

// LineageEdge is one hop returned by Lineage.
type LineageEdge struct {
	EntityID uuid.UUID
	Depth    int
	Via      string
}

// Lineage walks entity_relationships edges of every type plus
// parent_task_id links from an entity, via the get_entity_lineage stored procedure, with a
// server-side cycle guard and depth cap (spec.md §4.1, §9).
func (s *Store) Lineage(ctx context.Context, entityID uuid.UUID, direction string, maxDepth int) ([]LineageEdge, error) {
	if maxDepth <= 0 || maxDepth > 50 {
		maxDepth = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT entity_id, depth, via FROM get_entity_lineage($1, $2, $3)`, entityID, direction, maxDepth)
	if err != nil {
		return nil, wrapDBError("lineage", err)
	}
	defer rows.Close()

	var out []LineageEdge
	for rows.Next() {
		var e LineageEdge
		if err := rows.Scan(&e.EntityID, &e.Depth, &e.Via); err != nil {
			return nil, wrapDBError("lineage", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalAIMeta(m *types.AIMeta) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func scanEntity(row rowScanner) (types.Entity, error) {
	var e types.Entity
	var attrs, aiMeta, evidence []byte
	if err := row.Scan(
		&e.ID, &e.Type, &e.Content, &e.Status, &e.ProjectID, &e.EpicID, &e.ParentTaskID, &e.AssigneeID,
		&e.Confidence, &attrs, &aiMeta, &evidence, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt,
	); err != nil {
		return types.Entity{}, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return types.Entity{}, err
		}
	}
	if len(aiMeta) > 0 {
		e.AIMeta = &types.AIMeta{}
		if err := json.Unmarshal(aiMeta, e.AIMeta); err != nil {
			return types.Entity{}, err
		}
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &e.Evidence); err != nil {
			return types.Entity{}, err
		}
	}
	return e, nil
}

func scanEntityEvent(row rowScanner) (types.EntityEvent, error) {
	var ev types.EntityEvent
	var meta []byte
	if err := row.Scan(
		&ev.ID, &ev.EntityID, &ev.Type, &ev.ActorUserID, &ev.RawNoteID,
		&ev.Body, &ev.OldStatus, &ev.NewStatus, &meta, &ev.CreatedAt,
	); err != nil {
		return types.EntityEvent{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ev.Meta); err != nil {
			return types.EntityEvent{}, err
		}
	}
	return ev, nil
}

func scanRelationship(row rowScanner) (types.EntityRelationship, error) {
	var r types.EntityRelationship
	var meta []byte
	if err := row.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type, &meta, &r.CreatedAt); err != nil {
		return types.EntityRelationship{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return types.EntityRelationship{}, err
		}
	}
	return r, nil
}
