package store

import (
	"context"
	"fmt"
)

// A migration is one additive schema step. Steps only ever create missing
// tables and indexes; existing records are never touched, so replaying a
// step against an already-upgraded schema is harmless.
type migration struct {
	version int
	name    string
	sql     string
}

// migratorLockKey serializes concurrent openers via a Postgres advisory lock.
const migratorLockKey = 9134027

var migrations = []migration{
	{
		version: 1,
		name:    "document collections",
		sql: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INT NOT NULL
			);
			CREATE TABLE IF NOT EXISTS documents (
				collection TEXT NOT NULL,
				key        TEXT NOT NULL,
				doc        JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (collection, key)
			);
		`,
	},
	{
		version: 2,
		name:    "sync queue",
		sql: `
			CREATE TABLE IF NOT EXISTS sync_queue (
				id          BIGSERIAL PRIMARY KEY,
				type        TEXT NOT NULL,
				temp_id     TEXT NOT NULL DEFAULT '',
				payload     JSONB NOT NULL,
				enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				status      TEXT NOT NULL DEFAULT 'pending',
				retry_count INT NOT NULL DEFAULT 0,
				last_error  TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_sync_queue_replay
				ON sync_queue (enqueued_at, id)
				WHERE status IN ('pending', 'failed');
			CREATE INDEX IF NOT EXISTS idx_sync_queue_temp_id
				ON sync_queue (temp_id);
		`,
	},
	{
		version: 3,
		name:    "offline search indexes",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_documents_name
				ON documents ((doc->>'name'))
				WHERE collection IN ('products', 'clients');
			CREATE INDEX IF NOT EXISTS idx_documents_sale_status
				ON documents ((doc->>'status'))
				WHERE collection = 'pending_sales';
		`,
	},
}

// migrate brings the schema up to the latest version. Each pending step runs
// in its own transaction together with the version bump, so a failed step
// leaves the version untouched and the next open retries it.
func (s *Store) migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migratorLockKey); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migratorLockKey)

	// The bootstrap step must run before schema_version can be read.
	current := 0
	var hasVersionTable bool
	err = conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_name = 'schema_version'
		)
	`).Scan(&hasVersionTable)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if hasVersionTable {
		err = conn.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM schema_version"); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to reset schema version for %d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", m.version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record schema version %d: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}
