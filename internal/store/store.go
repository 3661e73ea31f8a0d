// Package store persists the server's audit trail in an embedded SQLite
// database: one row per observable event plus seat occupancy sessions.
// Chat and whisper contents are never written.
//
// Migration design: SQL statements live in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a
// new string; never edit or reorder existing entries.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"chatter/internal/core"
)

// maxAuditRows caps the audit_log table; the oldest rows are purged on
// insert once the cap is exceeded.
const maxAuditRows = 10000

// migrations holds the ordered list of DDL statements that bring the
// schema up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — audit log
	`CREATE TABLE IF NOT EXISTS audit_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       TEXT NOT NULL,
		channel    TEXT NOT NULL DEFAULT '',
		username   TEXT NOT NULL DEFAULT '',
		detail     TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — seat occupancy sessions
	`CREATE TABLE IF NOT EXISTS sessions (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		channel   TEXT NOT NULL,
		username  TEXT NOT NULL,
		joined_at INTEGER NOT NULL DEFAULT (unixepoch()),
		left_at   INTEGER,
		reason    TEXT NOT NULL DEFAULT ''
	)`,
	// v3 — indexes for reads
	`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at)`,
	// v4 — fast open-session lookup
	`CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(channel, username) WHERE left_at IS NULL`,
	// v5 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database holding the audit trail.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// New opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage.
func New(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Allow multiple read connections but serialise writes.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	// Enable WAL mode for concurrent readers.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Warn().Err(err).Msg("WAL mode not enabled")
	}
	// Busy timeout to avoid SQLITE_BUSY on concurrent access.
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Warn().Err(err).Msg("busy_timeout not set")
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent) and applies
// any migrations whose version number exceeds the current maximum.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		s.log.Debug().Int("version", v).Msg("applied migration")
	}
	return nil
}

// RecordEvent writes one event to the audit log and keeps the sessions
// table in step: a join opens a session, a leave or AFK eviction closes
// the member's open session, and an emptied channel closes every open
// session it has.
func (s *Store) RecordEvent(ev core.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.db.Exec(
		`INSERT INTO audit_log(kind, channel, username, detail, created_at) VALUES(?,?,?,?,?)`,
		string(ev.Kind), ev.Channel, ev.User, ev.Line, at.Unix(),
	); err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	// Auto-purge oldest entries beyond the cap.
	if _, err := s.db.Exec(
		`DELETE FROM audit_log WHERE id NOT IN (SELECT id FROM audit_log ORDER BY id DESC LIMIT ?)`,
		maxAuditRows,
	); err != nil {
		return fmt.Errorf("purge audit rows: %w", err)
	}

	switch ev.Kind {
	case core.KindJoin:
		if _, err := s.db.Exec(
			`INSERT INTO sessions(channel, username, joined_at) VALUES(?,?,?)`,
			ev.Channel, ev.User, at.Unix(),
		); err != nil {
			return fmt.Errorf("open session: %w", err)
		}
	case core.KindLeave, core.KindAFK:
		if _, err := s.db.Exec(
			`UPDATE sessions SET left_at = ?, reason = ?
			 WHERE id = (SELECT id FROM sessions WHERE channel = ? AND username = ? AND left_at IS NULL ORDER BY id DESC LIMIT 1)`,
			at.Unix(), string(ev.Kind), ev.Channel, ev.User,
		); err != nil {
			return fmt.Errorf("close session: %w", err)
		}
	case core.KindEmpty:
		if _, err := s.db.Exec(
			`UPDATE sessions SET left_at = ?, reason = 'empty' WHERE channel = ? AND left_at IS NULL`,
			at.Unix(), ev.Channel,
		); err != nil {
			return fmt.Errorf("close channel sessions: %w", err)
		}
	}
	return nil
}

// EventRow is one row of the audit_log table.
type EventRow struct {
	ID        int64
	Kind      string
	Channel   string
	User      string
	Detail    string
	CreatedAt int64
}

// RecentEvents returns audit rows, most recent first.
func (s *Store) RecentEvents(limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, kind, channel, username, detail, created_at FROM audit_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit rows: %w", err)
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.ID, &e.Kind, &e.Channel, &e.User, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SessionRow is one row of the sessions table. LeftAt is unset while
// the session is still open.
type SessionRow struct {
	ID       int64
	Channel  string
	User     string
	JoinedAt int64
	LeftAt   sql.NullInt64
	Reason   string
}

// Sessions returns every session of one channel, oldest first.
func (s *Store) Sessions(channel string) ([]SessionRow, error) {
	rows, err := s.db.Query(
		`SELECT id, channel, username, joined_at, left_at, reason FROM sessions WHERE channel = ? ORDER BY id ASC`,
		channel,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.ID, &r.Channel, &r.User, &r.JoinedAt, &r.LeftAt, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, r)
	}
	return sessions, rows.Err()
}
