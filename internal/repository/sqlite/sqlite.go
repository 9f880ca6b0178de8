// Package sqlite implements the repository interfaces on an embedded SQLite
// database (modernc.org/sqlite, pure Go, no cgo).
//
// TIMESTAMPS:
// Every instant is stored as INTEGER unix milliseconds in UTC. Visibility
// queries compare publish_date against "now", and integer comparison is exact
// where text timestamps with varying fractional precision are not. Values are
// truncated to milliseconds on write so a record reads back Equal to what was
// stored.
//
// ONE CONNECTION:
// The pool is capped at a single connection. SQLite serialises writers anyway,
// and ":memory:" databases exist per connection, so tests would otherwise see
// an empty database on the second connection. The consequence is that no
// query may be issued while a *sql.Rows from another query is still open.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps the connection pool. It implements ProfileStore, ContentStore,
// PrincipalStore and OrphanStore.
type DB struct {
	conn *sql.DB
}

// New opens dbPath (a file path or ":memory:") and runs migrations.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed during a write; it is a no-op for :memory:.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the readiness endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	steps := []struct {
		name string
		sql  string
	}{
		{"profiles", `
			CREATE TABLE IF NOT EXISTS profiles (
				user_id    TEXT PRIMARY KEY,
				user_name  TEXT NOT NULL,
				email      TEXT NOT NULL DEFAULT '',
				is_admin   INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_user_name ON profiles(user_name);
		`},
		{"principals", `
			CREATE TABLE IF NOT EXISTS principals (
				id            TEXT PRIMARY KEY,
				email         TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at    INTEGER NOT NULL
			);
		`},
		{"echoes", `
			CREATE TABLE IF NOT EXISTS echoes (
				id            TEXT PRIMARY KEY,
				title         TEXT NOT NULL,
				excerpt       TEXT NOT NULL,
				content       TEXT NOT NULL,
				created_at    INTEGER NOT NULL,
				publish_date  INTEGER NOT NULL,
				thumbnail_url TEXT NOT NULL DEFAULT '',
				pinned        INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_echoes_publish_date ON echoes(publish_date);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_echoes_single_pin ON echoes(pinned) WHERE pinned = 1;
		`},
		{"games", `
			CREATE TABLE IF NOT EXISTS games (
				id          TEXT PRIMARY KEY,
				title       TEXT NOT NULL,
				description TEXT NOT NULL,
				game_url    TEXT NOT NULL,
				image_url   TEXT NOT NULL DEFAULT '',
				created_at  INTEGER NOT NULL,
				glade_entry INTEGER NOT NULL,
				glade_exit  INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_games_glade_exit ON games(glade_exit);
		`},
		{"echo_games", `
			CREATE TABLE IF NOT EXISTS echo_games (
				echo_id  TEXT NOT NULL REFERENCES echoes(id) ON DELETE CASCADE,
				game_id  TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
				position INTEGER NOT NULL,
				PRIMARY KEY (echo_id, game_id)
			);
		`},
		{"signup_orphans", `
			CREATE TABLE IF NOT EXISTS signup_orphans (
				principal_id TEXT PRIMARY KEY,
				email        TEXT NOT NULL,
				user_name    TEXT NOT NULL,
				reason       TEXT NOT NULL DEFAULT '',
				created_at   INTEGER NOT NULL,
				resolved_at  INTEGER
			);
			CREATE INDEX IF NOT EXISTS idx_signup_orphans_pending ON signup_orphans(created_at) WHERE resolved_at IS NULL;
		`},
	}

	for _, step := range steps {
		if _, err := db.conn.Exec(step.sql); err != nil {
			return fmt.Errorf("creating %s: %w", step.name, err)
		}
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// truncMillis is what a timestamp looks like after a round trip.
func truncMillis(t time.Time) time.Time {
	return fromMillis(toMillis(t))
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure that
// mentions target (a "table.column" or an index name).
func isUniqueViolation(err error, target string) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	if sqliteErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	msg := sqliteErr.Error()
	return strings.Contains(msg, "UNIQUE") && strings.Contains(msg, target)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
