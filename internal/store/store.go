// Package store provides the durable state layer for templates, tasks,
// executions, and credential metadata: typed access, uniqueness/foreign-key/
// cascade enforcement, and schema migration on init.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps *sql.DB and provides migration + transaction support.
// Concurrency model: every statement, reads included, goes through a single
// connection (SetMaxOpenConns(1)) the same way the teacher's db.DB does, so
// writers serialize; WAL mode still only allows one writer at a time.
type Store struct {
	*sql.DB
}

// Open opens a SQLite connection with WAL mode and foreign keys enabled.
// Driver name is "sqlite" (modernc.org/sqlite, pure Go, no cgo).
func Open(path string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store.Open: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("store.Open: ping: %w", err)
	}
	// Limit to 1 writer at a time to avoid SQLITE_BUSY in WAL mode.
	sqlDB.SetMaxOpenConns(1)
	return &Store{sqlDB}, nil
}

const schemaVersion = 1

// Migrate applies all pending schema migrations, idempotently, fail-stop on
// partial failure. Built-in template seeding is deliberately NOT done here —
// seed content is out of scope (spec §1 Non-goals: "built-in template seeds
// (content, not design)").
func (s *Store) Migrate() error {
	if _, err := s.Exec(ddlSettings); err != nil {
		return fmt.Errorf("store.Migrate: settings table: %w", err)
	}
	if _, err := s.Exec(ddlMigrations); err != nil {
		return fmt.Errorf("store.Migrate: migrations table: %w", err)
	}

	var version int
	row := s.QueryRow(`SELECT value FROM settings WHERE key='schema_version' LIMIT 1`)
	_ = row.Scan(&version) // absent row => version 0

	if version >= schemaVersion {
		return nil
	}

	tables := []string{
		ddlTemplates,
		ddlTasks,
		ddlExecutions,
		ddlCredentials,
	}
	for _, ddl := range tables {
		if _, err := s.Exec(ddl); err != nil {
			return fmt.Errorf("store.Migrate: %w", err)
		}
	}
	for _, ddl := range indexes {
		if _, err := s.Exec(ddl); err != nil {
			return fmt.Errorf("store.Migrate: index: %w", err)
		}
	}

	_, err := s.Exec(`INSERT INTO settings (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, schemaVersion)
	if err != nil {
		return fmt.Errorf("store.Migrate: schema_version upsert: %w", err)
	}
	_, err = s.Exec(`INSERT OR IGNORE INTO _migrations (version) VALUES (?)`, schemaVersion)
	if err != nil {
		return fmt.Errorf("store.Migrate: record migration: %w", err)
	}
	return nil
}

// WithTx runs fn inside a single atomic transaction. Used for compound
// updates that must not be observed half-applied (e.g. the Scheduler
// stamping a task's last_run_at and next_run_at together). The Executor
// does not use it: closing an execution row and stamping the task's
// last_run_at are two separate writes.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store.WithTx: begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store.WithTx: commit: %w", err)
	}
	return nil
}

// GetSetting retrieves a settings value by key, returning fallback if absent.
func (s *Store) GetSetting(key, fallback string) string {
	var v string
	if err := s.QueryRow(`SELECT value FROM settings WHERE key=?`, key).Scan(&v); err != nil {
		return fallback
	}
	return v
}

// SetSetting upserts a settings key-value pair.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.Exec(
		`INSERT INTO settings (key, value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("store.SetSetting: %w", err)
	}
	return nil
}

// ── DDL ──────────────────────────────────────────────────────────────────────

const ddlSettings = `CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);`

const ddlMigrations = `CREATE TABLE IF NOT EXISTS _migrations (
	version    INTEGER PRIMARY KEY,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlTemplates = `CREATE TABLE IF NOT EXISTS templates (
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL UNIQUE,
	description           TEXT NOT NULL DEFAULT '',
	category              TEXT NOT NULL DEFAULT '',
	code                  TEXT NOT NULL,
	params_schema_json    TEXT NOT NULL DEFAULT '[]',
	required_creds_json   TEXT NOT NULL DEFAULT '[]',
	suggested_schedule    TEXT NOT NULL DEFAULT '',
	is_builtin            INTEGER NOT NULL DEFAULT 0,
	created_at            DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at            DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlTasks = `CREATE TABLE IF NOT EXISTS tasks (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	template_id     TEXT NOT NULL REFERENCES templates(id),
	name            TEXT NOT NULL UNIQUE,
	description     TEXT NOT NULL DEFAULT '',
	params_json     TEXT NOT NULL DEFAULT '{}',
	schedule_type   TEXT NOT NULL,
	schedule_value  TEXT NOT NULL,
	credentials_json TEXT NOT NULL DEFAULT '[]',
	enabled         INTEGER NOT NULL DEFAULT 1,
	last_run_at     DATETIME,
	next_run_at     DATETIME
);`

const ddlExecutions = `CREATE TABLE IF NOT EXISTS executions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id       INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME,
	status        TEXT NOT NULL,
	console_json  TEXT NOT NULL DEFAULT '[]',
	result_json   TEXT,
	error         TEXT,
	duration_ms   INTEGER
);`

const ddlCredentials = `CREATE TABLE IF NOT EXISTS credentials (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL UNIQUE,
	type             TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	encrypted_value  TEXT,
	created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
	last_used_at     DATETIME
);`

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_executions_task_id ON executions(task_id);`,
	`CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_next_run_at ON tasks(next_run_at) WHERE enabled=1;`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_template_id ON tasks(template_id);`,
	`CREATE INDEX IF NOT EXISTS idx_templates_category ON templates(category);`,
}
