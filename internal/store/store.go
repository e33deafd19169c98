// Package store provides SQLite-backed persistence for NarraForge.
//
// The database holds three logical memory partitions (structural entities,
// semantic nodes, and the append-only change ledger) alongside the job
// table, checkpoints, brief snapshots, and job leases. All writes commit
// before the call returns; the sequencer relies on that for its
// checkpoint-then-advance ordering.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store provides access to the NarraForge SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates a new Store and runs migrations.
func Open(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for better concurrency; synchronous=FULL so a committed
	// checkpoint survives power loss, not just process crash. The driver
	// only applies pragmas passed via _pragma= parameters.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		brief TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		completed_stages TEXT NOT NULL DEFAULT '[]',
		current_stage TEXT,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		warnings TEXT,
		last_error TEXT,
		resumable INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		job_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		seq INTEGER,
		payload TEXT NOT NULL,
		meta TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (job_id, stage)
	);

	CREATE TABLE IF NOT EXISTS checkpoint_seq (
		job_id TEXT PRIMARY KEY,
		next INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS brief_snapshots (
		job_id TEXT PRIMARY KEY,
		brief TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS job_leases (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL UNIQUE,
		holder_id TEXT NOT NULL,
		ttl_sec INTEGER NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS structural_entities (
		scope_id TEXT NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		genre TEXT,
		core_conflict TEXT,
		theme TEXT,
		attributes TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (scope_id, id)
	);

	CREATE TABLE IF NOT EXISTS semantic_nodes (
		id TEXT PRIMARY KEY,
		scope_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		connections TEXT,
		significance REAL NOT NULL DEFAULT 0,
		ordinal INTEGER NOT NULL DEFAULT -1,
		metadata TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scope_links (
		scope_id TEXT NOT NULL,
		linked_scope_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (scope_id, linked_scope_id)
	);

	CREATE TABLE IF NOT EXISTS change_records (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		entity_kind TEXT NOT NULL,
		change_kind TEXT NOT NULL,
		before_state TEXT,
		after_state TEXT,
		trigger_source TEXT,
		significance REAL NOT NULL DEFAULT 0.5,
		scope_id TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_job_seq ON checkpoints(job_id, seq);
	CREATE INDEX IF NOT EXISTS idx_nodes_scope_kind ON semantic_nodes(scope_id, kind);
	CREATE INDEX IF NOT EXISTS idx_changes_entity_ts ON change_records(entity_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_changes_scope ON change_records(scope_id);
	`

	_, err := s.db.Exec(schema)
	return err
}
