// Package spool is the CLI's offline capture cache: when the Postgres
// store is unreachable, pm capture writes the note to a local SQLite
// file instead of failing outright, and a later pm flush-spool drains
// it once connectivity returns. Grounded on
// KittClouds-Go-Machine-n/GoKitt's sqlite_store.go (database/sql over
// ncruces/go-sqlite3's driver, schema applied via one db.Exec at open).
package spool

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/pm/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS spooled_notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	source TEXT NOT NULL,
	external_id TEXT,
	captured_by TEXT,
	captured_at INTEGER NOT NULL,
	source_meta TEXT
);
`

// Spool is a local SQLite-backed queue of notes captured while the
// primary store was unreachable.
type Spool struct {
	db *sql.DB
}

// Open opens (creating if absent) the spool database at path.
func Open(path string) (*Spool, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("spool: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("spool: create schema: %w", err)
	}
	return &Spool{db: db}, nil
}

func (s *Spool) Close() error {
	return s.db.Close()
}

// Add appends a note to the spool for later flushing.
func (s *Spool) Add(ctx context.Context, note types.RawNote) error {
	meta, err := json.Marshal(note.SourceMeta)
	if err != nil {
		return fmt.Errorf("spool: marshal sourceMeta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO spooled_notes (content, source, external_id, captured_by, captured_at, source_meta)
		VALUES (?, ?, ?, ?, ?, ?)
	`, note.Content, string(note.Source), note.ExternalID, note.CapturedBy, note.CapturedAt.UnixMilli(), string(meta))
	if err != nil {
		return fmt.Errorf("spool: insert: %w", err)
	}
	return nil
}

// SpooledNote is one row pending flush, plus the id used to remove it.
type SpooledNote struct {
	ID   int64
	Note types.RawNote
}

// List returns every spooled note, oldest first.
func (s *Spool) List(ctx context.Context) ([]SpooledNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, external_id, captured_by, captured_at, source_meta
		FROM spooled_notes ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("spool: list: %w", err)
	}
	defer rows.Close()

	var out []SpooledNote
	for rows.Next() {
		var (
			id                        int64
			content, source           string
			externalID, capturedBy    sql.NullString
			capturedAtMillis          int64
			meta                      string
		)
		if err := rows.Scan(&id, &content, &source, &externalID, &capturedBy, &capturedAtMillis, &meta); err != nil {
			return nil, fmt.Errorf("spool: scan: %w", err)
		}
		note := types.RawNote{
			Content:    content,
			Source:     types.NoteSource(source),
			CapturedAt: time.UnixMilli(capturedAtMillis).UTC(),
		}
		if externalID.Valid {
			note.ExternalID = &externalID.String
		}
		if capturedBy.Valid {
			note.CapturedBy = &capturedBy.String
		}
		if note.ExternalID == nil {
			note.DedupeHash = types.DedupeHash(note.Source, note.Content, note.CapturedBy)
		}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &note.SourceMeta); err != nil {
				return nil, fmt.Errorf("spool: unmarshal sourceMeta: %w", err)
			}
		}
		out = append(out, SpooledNote{ID: id, Note: note})
	}
	return out, rows.Err()
}

// Remove deletes a flushed entry by id.
func (s *Spool) Remove(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spooled_notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("spool: remove %d: %w", id, err)
	}
	return nil
}
