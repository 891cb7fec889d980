// Package store implements the durable transactional entity store (C1):
// notes, entities, relationships, events, reviews, tags, epics, and
// projects, over Postgres via jackc/pgx/v5, per spec.md §3-§4.1.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/steveyegge/pm/internal/eventbus"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// longTxnWarning matches spec.md §5: a transaction longer than 1s logs a
// warning; the hard ceiling is 10s.
const longTxnWarning = time.Second

// Store wraps a Postgres connection pool and the event bus Recorder
// pattern used to implement spec.md §4.2's commit-then-flush semantics.
type Store struct {
	pool *pgxpool.Pool
	bus  *eventbus.Bus
}

// Open connects to Postgres and runs pending migrations.
func Open(ctx context.Context, databaseURL string, bus *eventbus.Bus) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := migrateUp(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{pool: pool, bus: bus}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func migrateUp(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// withTx runs fn inside a serializable-equivalent transaction (spec.md
// §4.1) and, only on commit success, flushes the Recorder's staged
// events to the bus (spec.md §4.2). On any failure the transaction rolls
// back and staged events are discarded — they were never committed, so
// they must never be observed by subscribers.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx, rec *eventbus.Recorder) error) error {
	start := time.Now()
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	rec := eventbus.NewRecorder(s.bus)
	if err := fn(ctx, tx, rec); err != nil {
		rec.Discard()
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		rec.Discard()
		return fmt.Errorf("store: commit: %w", err)
	}

	if elapsed := time.Since(start); elapsed > longTxnWarning {
		slog.WarnContext(ctx, "store: long transaction", "duration", elapsed)
	}

	rec.Flush(ctx)
	return nil
}
