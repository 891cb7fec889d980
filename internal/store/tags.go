package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/steveyegge/pm/internal/types"
)

// CreateTag inserts a tag, returning the existing row if the name
// already exists (tags are a flat shared namespace, spec.md §3).
func (s *Store) CreateTag(ctx context.Context, name string) (types.Tag, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tags (name) VALUES (lower($1))
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at
	`, name)
	return scanTag(row)
}

// ListTags lists every tag, alphabetically.
func (s *Store) ListTags(ctx context.Context) ([]types.Tag, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM tags ORDER BY name`)
	if err != nil {
		return nil, wrapDBError("list tags", err)
	}
	defer rows.Close()

	var out []types.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, wrapDBError("list tags", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetEntityTags replaces the full tag set for an entity in one
// transaction: delete then reinsert, matching the teacher's "replace
// the whole set" pattern for many-to-many associations.
func (s *Store) SetEntityTags(ctx context.Context, entityID uuid.UUID, tagIDs []uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapDBError("set entity tags", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM entity_tags WHERE entity_id = $1`, entityID); err != nil {
		return wrapDBError("set entity tags", err)
	}
	for _, tagID := range tagIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO entity_tags (entity_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, entityID, tagID); err != nil {
			return wrapDBError("set entity tags", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapDBError("set entity tags", err)
	}
	return nil
}

// ListEntityTags returns the tags attached to one entity.
func (s *Store) ListEntityTags(ctx context.Context, entityID uuid.UUID) ([]types.Tag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.name, t.created_at FROM tags t
		JOIN entity_tags et ON et.tag_id = t.id
		WHERE et.entity_id = $1
		ORDER BY t.name
	`, entityID)
	if err != nil {
		return nil, wrapDBError("list entity tags", err)
	}
	defer rows.Close()

	var out []types.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, wrapDBError("list entity tags", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTag(row rowScanner) (types.Tag, error) {
	var t types.Tag
	if err := row.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
		return types.Tag{}, err
	}
	return t, nil
}
