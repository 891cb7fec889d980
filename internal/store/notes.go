package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/steveyegge/pm/internal/apierrors"
	"github.com/steveyegge/pm/internal/eventbus"
	"github.com/steveyegge/pm/internal/types"
)

// CaptureNote inserts a raw note, deduplicating on (source, externalId)
// when an externalId is present and on dedupeHash otherwise (spec.md
// §4.1 "CaptureNote is idempotent"). A duplicate capture returns the
// existing row rather than erroring.
func (s *Store) CaptureNote(ctx context.Context, note types.RawNote) (types.RawNote, error) {
	var out types.RawNote
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder) error {
		sourceMeta, err := json.Marshal(note.SourceMeta)
		if err != nil {
			return apierrors.Wrap(apierrors.CodeValidation, "capture note: marshal sourceMeta", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO raw_notes (content, source, source_meta, external_id, captured_at, captured_by, dedupe_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT DO NOTHING
			RETURNING id, content, source, source_meta, external_id, captured_at, captured_by, processed, processed_at, dedupe_hash, created_at
		`, note.Content, note.Source, sourceMeta, note.ExternalID, note.CapturedAt, note.CapturedBy, note.DedupeHash)

		n, err := scanRawNote(row)
		if err == nil {
			out = n
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return wrapDBError("capture note", err)
		}

		// ON CONFLICT DO NOTHING fired: this note was already captured.
		// Fetch the existing row so CaptureNote behaves idempotently.
		var existing pgx.Row
		if note.ExternalID != nil {
			existing = tx.QueryRow(ctx, selectRawNoteSQL+` WHERE source = $1 AND external_id = $2`, note.Source, note.ExternalID)
		} else {
			existing = tx.QueryRow(ctx, selectRawNoteSQL+` WHERE dedupe_hash = $1 AND external_id IS NULL`, note.DedupeHash)
		}
		n, err = scanRawNote(existing)
		if err != nil {
			return wrapDBError("capture note: fetch existing", err)
		}
		out = n
		return nil
	})
	return out, err
}

const selectRawNoteSQL = `
	SELECT id, content, source, source_meta, external_id, captured_at, captured_by, processed, processed_at, dedupe_hash, created_at
	FROM raw_notes
`

// GetNote fetches one raw note by id.
func (s *Store) GetNote(ctx context.Context, id uuid.UUID) (types.RawNote, error) {
	row := s.pool.QueryRow(ctx, selectRawNoteSQL+` WHERE id = $1`, id)
	n, err := scanRawNote(row)
	if err != nil {
		return types.RawNote{}, wrapDBError("get note", err)
	}
	return n, nil
}

// ListNotes returns notes ordered by capturedAt descending, newest first,
// with cursor pagination (spec.md §4.1).
func (s *Store) ListNotes(ctx context.Context, limit int, after *string) (Page[types.RawNote], error) {
	args := []any{limit + 1}
	query := selectRawNoteSQL
	if after != nil {
		c, err := decodeCursor(*after)
		if err != nil {
			return Page[types.RawNote]{}, err
		}
		query += ` WHERE (captured_at, id) < ($2, $3) `
		args = append(args, c.Key, c.ID)
	}
	query += ` ORDER BY captured_at DESC, id DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page[types.RawNote]{}, wrapDBError("list notes", err)
	}
	defer rows.Close()

	var items []types.RawNote
	for rows.Next() {
		n, err := scanRawNote(rows)
		if err != nil {
			return Page[types.RawNote]{}, wrapDBError("list notes", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return Page[types.RawNote]{}, wrapDBError("list notes", err)
	}

	return buildPage(items, limit, func(n types.RawNote) (string, string) {
		return n.CapturedAt.Format(timeKeyLayout), n.ID.String()
	}), nil
}

// MarkNoteProcessed flips a raw note's processed flag after the
// extraction pipeline (C4) has consumed it, publishing RawNoteProcessed
// with the entity ids it produced (possibly none, e.g. a note with no
// actionable content).
func (s *Store) MarkNoteProcessed(ctx context.Context, id uuid.UUID, entityIDs []uuid.UUID) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder) error {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE raw_notes SET processed = true, processed_at = $2 WHERE id = $1
		`, id, now)
		if err != nil {
			return wrapDBError("mark note processed", err)
		}
		if tag.RowsAffected() == 0 {
			return apierrors.New(apierrors.CodeNotFound, "mark note processed: not found")
		}
		rec.Stage(eventbus.TopicRawNoteProcessed, eventbus.RawNoteProcessedPayload{RawNoteID: id, EntityIDs: entityIDs})
		return nil
	})
}

const timeKeyLayout = "2006-01-02T15:04:05.999999999Z07:00"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRawNote(row rowScanner) (types.RawNote, error) {
	var n types.RawNote
	var sourceMeta []byte
	if err := row.Scan(
		&n.ID, &n.Content, &n.Source, &sourceMeta, &n.ExternalID,
		&n.CapturedAt, &n.CapturedBy, &n.Processed, &n.ProcessedAt,
		&n.DedupeHash, &n.CreatedAt,
	); err != nil {
		return types.RawNote{}, err
	}
	if len(sourceMeta) > 0 {
		if err := json.Unmarshal(sourceMeta, &n.SourceMeta); err != nil {
			return types.RawNote{}, err
		}
	}
	return n, nil
}
