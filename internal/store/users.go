package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/steveyegge/pm/internal/apierrors"
	"github.com/steveyegge/pm/internal/types"
)

// CreateUser inserts a new user. Password hashing happens above this
// layer (the out-of-scope HTTP/auth shell); the store only persists the
// hash it is given.
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (types.User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3)
		RETURNING id, name, email, password_hash, created_at
	`, name, email, passwordHash)
	u, err := scanUser(row)
	if err != nil {
		return types.User{}, wrapDBError("create user", err)
	}
	return u, nil
}

// GetUserByEmail fetches a user by email, used for login lookups.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (types.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1
	`, email)
	u, err := scanUser(row)
	if err != nil {
		return types.User{}, wrapDBError("get user by email", err)
	}
	return u, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (types.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash, created_at FROM users WHERE id = $1
	`, id)
	u, err := scanUser(row)
	if err != nil {
		return types.User{}, wrapDBError("get user", err)
	}
	return u, nil
}

// ListUsers returns every user, ordered by name, for building the
// organization stage's assignee candidate batch (spec.md §4.5).
func (s *Store) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, email, password_hash, created_at FROM users ORDER BY name
	`)
	if err != nil {
		return nil, wrapDBError("list users", err)
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapDBError("list users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("list users", err)
	}
	return users, nil
}

// CreateAPIKey inserts a new hashed API key for a user.
func (s *Store) CreateAPIKey(ctx context.Context, userID uuid.UUID, name, keyHash string) (types.APIKey, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO api_keys (user_id, name, key_hash) VALUES ($1, $2, $3)
		RETURNING id, user_id, name, key_hash, last_used_at, revoked_at, created_at
	`, userID, name, keyHash)
	k, err := scanAPIKey(row)
	if err != nil {
		return types.APIKey{}, wrapDBError("create api key", err)
	}
	return k, nil
}

// GetAPIKeyByHash looks up a non-revoked API key by its hash and touches
// lastUsedAt, matching the teacher's pattern of recording usage on the
// read path for credentials.
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (types.APIKey, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE api_keys SET last_used_at = now()
		WHERE key_hash = $1 AND revoked_at IS NULL
		RETURNING id, user_id, name, key_hash, last_used_at, revoked_at, created_at
	`, keyHash)
	k, err := scanAPIKey(row)
	if err != nil {
		return types.APIKey{}, wrapDBError("get api key", err)
	}
	return k, nil
}

// RevokeAPIKey marks an API key revoked.
func (s *Store) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return wrapDBError("revoke api key", err)
	}
	if tag.RowsAffected() == 0 {
		return apierrors.New(apierrors.CodeNotFound, "revoke api key: not found")
	}
	return nil
}

func scanUser(row rowScanner) (types.User, error) {
	var u types.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return types.User{}, err
	}
	return u, nil
}

func scanAPIKey(row rowScanner) (types.APIKey, error) {
	var k types.APIKey
	if err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
		return types.APIKey{}, err
	}
	return k, nil
}
