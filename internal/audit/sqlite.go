// Package audit persists committed ownership transitions and failed sends.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/capitalize-ai/inbox-console/internal/model"
)

// SendFailure records a send whose optimistic entry was removed.
type SendFailure struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	TempID    string    `json:"tempId"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// SQLiteStore is the SQLite-backed audit log.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the audit database at dsn and applies migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dsn+sep+"_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// In-memory databases are per connection.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func runMigrations(db *sql.DB) error {
	migration := `
	CREATE TABLE IF NOT EXISTS ownership_transitions (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		action TEXT NOT NULL,
		from_owner TEXT NOT NULL,
		to_owner TEXT NOT NULL,
		actor_agent_id TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_chat ON ownership_transitions(chat_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS send_failures (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		temp_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_send_failures_chat ON send_failures(chat_id, created_at DESC);
	`

	_, err := db.Exec(migration)
	return err
}

// LogTransition stores a committed ownership transition. An empty ID is assigned one.
func (s *SQLiteStore) LogTransition(ctx context.Context, t model.OwnershipTransition) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	query := `
		INSERT INTO ownership_transitions (id, chat_id, action, from_owner, to_owner, actor_agent_id, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.ChatID, string(t.Action), t.FromOwner, t.ToOwner, t.ActorAgentID, t.Notes, t.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to log transition: %w", err)
	}
	return nil
}

// History returns the most recent transitions of a chat, newest first.
func (s *SQLiteStore) History(ctx context.Context, chatID string, limit int) ([]model.OwnershipTransition, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, chat_id, action, from_owner, to_owner, actor_agent_id, notes, created_at
		FROM ownership_transitions
		WHERE chat_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []model.OwnershipTransition
	for rows.Next() {
		var (
			t      model.OwnershipTransition
			action string
			nanos  int64
		)
		if err := rows.Scan(&t.ID, &t.ChatID, &action, &t.FromOwner, &t.ToOwner, &t.ActorAgentID, &t.Notes, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.Action = model.Action(action)
		t.Timestamp = time.Unix(0, nanos)
		out = append(out, t)
	}
	return out, rows.Err()
}

// LogSendFailure stores a failed send.
func (s *SQLiteStore) LogSendFailure(ctx context.Context, f SendFailure) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}

	query := `
		INSERT INTO send_failures (id, chat_id, temp_id, kind, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, f.ID, f.ChatID, f.TempID, f.Kind, f.Reason, f.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to log send failure: %w", err)
	}
	return nil
}

// SendFailures returns the most recent failed sends of a chat, newest first.
func (s *SQLiteStore) SendFailures(ctx context.Context, chatID string, limit int) ([]SendFailure, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, temp_id, kind, reason, created_at
		FROM send_failures
		WHERE chat_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query send failures: %w", err)
	}
	defer rows.Close()

	var out []SendFailure
	for rows.Next() {
		var (
			f     SendFailure
			nanos int64
		)
		if err := rows.Scan(&f.ID, &f.ChatID, &f.TempID, &f.Kind, &f.Reason, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan send failure: %w", err)
		}
		f.Timestamp = time.Unix(0, nanos)
		out = append(out, f)
	}
	return out, rows.Err()
}
