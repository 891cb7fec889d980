package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/steveyegge/pm/internal/types"
)

const selectEpicSQL = `
	SELECT id, name, description, project_id, created_by, created_at, updated_at, deleted_at FROM epics
`

// CreateEpic inserts a new epic under a project (invariant iii is
// enforced by the entities table, not here — an epic itself always has
// a projectId).
func (s *Store) CreateEpic(ctx context.Context, name string, description *string, projectID uuid.UUID, createdBy types.EpicCreator) (types.Epic, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO epics (name, description, project_id, created_by) VALUES ($1, $2, $3, $4)
		RETURNING id, name, description, project_id, created_by, created_at, updated_at, deleted_at
	`, name, description, projectID, createdBy)
	e, err := scanEpic(row)
	if err != nil {
		return types.Epic{}, wrapDBError("create epic", err)
	}
	return e, nil
}

// GetEpic fetches one non-deleted epic by id.
func (s *Store) GetEpic(ctx context.Context, id uuid.UUID) (types.Epic, error) {
	row := s.pool.QueryRow(ctx, selectEpicSQL+` WHERE id = $1 AND deleted_at IS NULL`, id)
	e, err := scanEpic(row)
	if err != nil {
		return types.Epic{}, wrapDBError("get epic", err)
	}
	return e, nil
}

// PatchEpic updates an epic's mutable fields.
func (s *Store) PatchEpic(ctx context.Context, id uuid.UUID, name *string, description **string) (types.Epic, error) {
	current, err := s.GetEpic(ctx, id)
	if err != nil {
		return types.Epic{}, err
	}
	newName := current.Name
	if name != nil {
		newName = *name
	}
	newDescription := current.Description
	if description != nil {
		newDescription = *description
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE epics SET name = $2, description = $3 WHERE id = $1 AND deleted_at IS NULL
		RETURNING id, name, description, project_id, created_by, created_at, updated_at, deleted_at
	`, id, newName, newDescription)
	e, err := scanEpic(row)
	if err != nil {
		return types.Epic{}, wrapDBError("patch epic", err)
	}
	return e, nil
}

// ListEpics lists non-deleted epics within one project, newest first.
func (s *Store) ListEpics(ctx context.Context, projectID uuid.UUID, limit int, after *string) (Page[types.Epic], error) {
	query := selectEpicSQL + ` WHERE project_id = $2 AND deleted_at IS NULL`
	args := []any{limit + 1, projectID}
	if after != nil {
		c, err := decodeCursor(*after)
		if err != nil {
			return Page[types.Epic]{}, err
		}
		query += ` AND (created_at, id) < ($3, $4)`
		args = append(args, c.Key, c.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page[types.Epic]{}, wrapDBError("list epics", err)
	}
	defer rows.Close()

	var items []types.Epic
	for rows.Next() {
		e, err := scanEpic(rows)
		if err != nil {
			return Page[types.Epic]{}, wrapDBError("list epics", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return Page[types.Epic]{}, wrapDBError("list epics", err)
	}

	return buildPage(items, limit, func(e types.Epic) (string, string) {
		return e.CreatedAt.Format(timeKeyLayout), e.ID.String()
	}), nil
}

func scanEpic(row rowScanner) (types.Epic, error) {
	var e types.Epic
	if err := row.Scan(&e.ID, &e.Name, &e.Description, &e.ProjectID, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt); err != nil {
		return types.Epic{}, err
	}
	return e, nil
}
