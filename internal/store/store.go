// Package store is the embedded relational store for the coordination
// server. All durable entities are exclusively owned by it; every mutating
// operation that touches multiple tables runs in a single transaction.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	name TEXT PRIMARY KEY,
	team TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'offline',
	registered_at TEXT NOT NULL DEFAULT '',
	last_seen TEXT NOT NULL DEFAULT '',
	last_inbox_check TEXT NOT NULL DEFAULT '',
	heartbeat_at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_agent TEXT NOT NULL,
	to_agent TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	read_flag INTEGER NOT NULL DEFAULT 0,
	is_cc INTEGER NOT NULL DEFAULT 0,
	cc_original_to TEXT NOT NULL DEFAULT '',
	task_id TEXT NOT NULL DEFAULT '',
	reply_to INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS broadcast_reads (
	agent_name TEXT NOT NULL,
	message_id INTEGER NOT NULL,
	PRIMARY KEY (agent_name, message_id)
);
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	assigned_to TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL,
	status TEXT NOT NULL,
	result TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS handshakes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	initiator TEXT NOT NULL,
	message_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS handshake_acks (
	handshake_id INTEGER NOT NULL,
	agent TEXT NOT NULL,
	acked_at TEXT NOT NULL,
	PRIMARY KEY (handshake_id, agent)
);
CREATE TABLE IF NOT EXISTS contracts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	owner TEXT NOT NULL,
	spec TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (project, name, kind)
);
CREATE TABLE IF NOT EXISTS spawn_policies (
	scope TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL DEFAULT 1,
	max_minions INTEGER NOT NULL DEFAULT 3,
	set_by TEXT NOT NULL DEFAULT '',
	set_at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS minion_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pilot TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	result TEXT NOT NULL DEFAULT '',
	spawned_at TEXT NOT NULL,
	completed_at TEXT NOT NULL DEFAULT ''
);
`

// indexes for the hot paths (inbox reads, unread gate, task listings).
const indexes = `
CREATE INDEX IF NOT EXISTS idx_messages_to_read ON messages(to_agent, read_flag);
CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, assigned_to);
CREATE INDEX IF NOT EXISTS idx_minion_log_pilot ON minion_log(pilot, status);
`

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, applies the schema
// idempotently and runs additive column migrations. Parent directories are
// created if missing.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	// Single writer; the busy timeout covers readers in other processes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store indexes: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return s, nil
}

// migrate adds columns that older databases are missing. Migrations are
// additive only: read the current column set, ALTER TABLE ADD the rest.
func (s *Store) migrate() error {
	wanted := map[string]map[string]string{
		"agents": {
			"team":             "TEXT NOT NULL DEFAULT ''",
			"role":             "TEXT NOT NULL DEFAULT ''",
			"description":      "TEXT NOT NULL DEFAULT ''",
			"status":           "TEXT NOT NULL DEFAULT 'offline'",
			"last_inbox_check": "TEXT NOT NULL DEFAULT ''",
			"heartbeat_at":     "TEXT NOT NULL DEFAULT ''",
		},
		"messages": {
			"is_cc":          "INTEGER NOT NULL DEFAULT 0",
			"cc_original_to": "TEXT NOT NULL DEFAULT ''",
			"task_id":        "TEXT NOT NULL DEFAULT ''",
			"reply_to":       "INTEGER NOT NULL DEFAULT 0",
		},
		"tasks": {
			"project":      "TEXT NOT NULL DEFAULT ''",
			"result":       "TEXT NOT NULL DEFAULT ''",
			"completed_at": "TEXT NOT NULL DEFAULT ''",
		},
	}
	for table, cols := range wanted {
		existing, err := s.columnSet(table)
		if err != nil {
			return err
		}
		for col, decl := range cols {
			if existing[col] {
				continue
			}
			if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col, decl)); err != nil {
				return fmt.Errorf("add %s.%s: %w", table, col, err)
			}
		}
	}
	return nil
}

// columnSet returns the current column names of a table.
func (s *Store) columnSet(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// fmtTime formats a timestamp for storage; zero times store as "".
func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// parseTime parses a stored timestamp; "" parses to the zero time.
func parseTime(s, context string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: parse timestamp %q: %w", context, s, err)
	}
	return t, nil
}
