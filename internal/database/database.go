// Package database persists dead-lettered alert events in PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// DeadLetter represents a row in the dead_letters table.
type DeadLetter struct {
	ID         string
	Reason     string
	Attempt    int
	ServerID   int64
	EventKey   string
	Payload    string
	Failures   string // JSON array of per-recipient failures
	Panic      string
	OccurredAt time.Time
}

// DB wraps a database connection and provides dead-letter operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

const createDeadLettersTable = `
	CREATE TABLE IF NOT EXISTS dead_letters (
		id          UUID PRIMARY KEY,
		reason      TEXT        NOT NULL,
		attempt     INTEGER     NOT NULL,
		server_id   BIGINT      NOT NULL DEFAULT 0,
		event_key   TEXT        NOT NULL DEFAULT '',
		payload     TEXT        NOT NULL,
		failures    JSONB       NOT NULL DEFAULT '[]'::jsonb,
		panic       TEXT        NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL
	);
	ALTER TABLE dead_letters ADD COLUMN IF NOT EXISTS panic TEXT NOT NULL DEFAULT '';
`

// EnsureSchema creates the dead_letters table if it does not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, createDeadLettersTable); err != nil {
		return fmt.Errorf("failed to create dead_letters table: %w", err)
	}
	return nil
}

// InsertDeadLetter stores a dead letter. Inserting the same ID twice is a no-op.
func (db *DB) InsertDeadLetter(ctx context.Context, dl DeadLetter) error {
	failures := dl.Failures
	if failures == "" {
		failures = "[]"
	}

	query := `
		INSERT INTO dead_letters (id, reason, attempt, server_id, event_key, payload, failures, panic, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := db.conn.ExecContext(ctx, query,
		dl.ID, dl.Reason, dl.Attempt, dl.ServerID, dl.EventKey, dl.Payload, failures, dl.Panic, dl.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}

	slog.Debug("Stored dead letter",
		"dead_letter_id", dl.ID,
		"reason", dl.Reason,
		"server_id", dl.ServerID,
	)
	return nil
}

// CountDeadLetters returns the number of dead letters stored with reason,
// or across all reasons when reason is empty.
func (db *DB) CountDeadLetters(ctx context.Context, reason string) (int, error) {
	var (
		n   int
		err error
	)
	if reason == "" {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n)
	} else {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters WHERE reason = $1`, reason).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}
