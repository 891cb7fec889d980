package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/steveyegge/pm/internal/types"
)

const selectProjectSQL = `
	SELECT id, name, description, status, created_at, updated_at, deleted_at FROM projects
`

// CreateProject inserts a new project.
func (s *Store) CreateProject(ctx context.Context, name string, description *string) (types.Project, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO projects (name, description) VALUES ($1, $2)
		RETURNING id, name, description, status, created_at, updated_at, deleted_at
	`, name, description)
	p, err := scanProject(row)
	if err != nil {
		return types.Project{}, wrapDBError("create project", err)
	}
	return p, nil
}

// GetProject fetches one non-deleted project by id.
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (types.Project, error) {
	row := s.pool.QueryRow(ctx, selectProjectSQL+` WHERE id = $1 AND deleted_at IS NULL`, id)
	p, err := scanProject(row)
	if err != nil {
		return types.Project{}, wrapDBError("get project", err)
	}
	return p, nil
}

// PatchProject updates a project's mutable fields.
func (s *Store) PatchProject(ctx context.Context, id uuid.UUID, name *string, description **string, status *types.ProjectStatus) (types.Project, error) {
	current, err := s.GetProject(ctx, id)
	if err != nil {
		return types.Project{}, err
	}
	newName := current.Name
	if name != nil {
		newName = *name
	}
	newDescription := current.Description
	if description != nil {
		newDescription = *description
	}
	newStatus := current.Status
	if status != nil {
		newStatus = *status
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE projects SET name = $2, description = $3, status = $4 WHERE id = $1 AND deleted_at IS NULL
		RETURNING id, name, description, status, created_at, updated_at, deleted_at
	`, id, newName, newDescription, newStatus)
	p, err := scanProject(row)
	if err != nil {
		return types.Project{}, wrapDBError("patch project", err)
	}
	return p, nil
}

// ListProjects lists non-deleted projects ordered by createdAt descending.
func (s *Store) ListProjects(ctx context.Context, limit int, after *string) (Page[types.Project], error) {
	query := selectProjectSQL + ` WHERE deleted_at IS NULL`
	args := []any{limit + 1}
	if after != nil {
		c, err := decodeCursor(*after)
		if err != nil {
			return Page[types.Project]{}, err
		}
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, c.Key, c.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page[types.Project]{}, wrapDBError("list projects", err)
	}
	defer rows.Close()

	var items []types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return Page[types.Project]{}, wrapDBError("list projects", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return Page[types.Project]{}, wrapDBError("list projects", err)
	}

	return buildPage(items, limit, func(p types.Project) (string, string) {
		return p.CreatedAt.Format(timeKeyLayout), p.ID.String()
	}), nil
}

// ProjectDashboard is the aggregate status snapshot spec.md §9's
// "Dashboard" operation returns: entity counts by type and status, and
// the pending review count, for one project.
type ProjectDashboard struct {
	Project        types.Project
	EntityCounts   map[types.EntityType]map[string]int
	PendingReviews int
}

// Dashboard aggregates a project's entity and review state in one
// read, grounded on the teacher's pattern of composing several queries
// behind a single read-model method rather than exposing raw joins.
func (s *Store) Dashboard(ctx context.Context, projectID uuid.UUID) (ProjectDashboard, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return ProjectDashboard{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT type, status, count(*) FROM entities
		WHERE project_id = $1 AND deleted_at IS NULL
		GROUP BY type, status
	`, projectID)
	if err != nil {
		return ProjectDashboard{}, wrapDBError("dashboard", err)
	}
	counts := map[types.EntityType]map[string]int{}
	for rows.Next() {
		var t types.EntityType
		var status string
		var n int
		if err := rows.Scan(&t, &status, &n); err != nil {
			rows.Close()
			return ProjectDashboard{}, wrapDBError("dashboard", err)
		}
		if counts[t] == nil {
			counts[t] = map[string]int{}
		}
		counts[t][status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ProjectDashboard{}, wrapDBError("dashboard", err)
	}

	var pending int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM review_items
		WHERE status = 'pending' AND (
			project_id = $1 OR entity_id IN (SELECT id FROM entities WHERE project_id = $1)
		)
	`, projectID).Scan(&pending); err != nil {
		return ProjectDashboard{}, wrapDBError("dashboard", err)
	}

	return ProjectDashboard{Project: project, EntityCounts: counts, PendingReviews: pending}, nil
}

func scanProject(row rowScanner) (types.Project, error) {
	var p types.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt); err != nil {
		return types.Project{}, err
	}
	return p, nil
}
