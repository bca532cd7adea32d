// Package history persists a transcript of relayed exchanges to SQLite.
// The transcript is an audit log only. Conversation state lives in the
// backend, keyed by context tokens, and is never reconstructed from here.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Exchange is one relayed request/reply pair.
type Exchange struct {
	ID        int64
	ConvKey   string // channel:chatID
	Channel   string
	ChatID    string
	SenderID  string
	Request   string
	Reply     string
	ContextID string
	Failed    bool
	ErrorKind string
	CreatedAt time.Time
}

// ConversationSummary aggregates per-conversation transcript stats.
type ConversationSummary struct {
	ConvKey   string
	Exchanges int
	Failures  int
	LastSeen  time.Time
}

// Store implements the transcript log using SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exchanges (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		conv_key    TEXT NOT NULL,
		channel     TEXT NOT NULL,
		chat_id     TEXT NOT NULL,
		sender_id   TEXT,
		request     TEXT NOT NULL,
		reply       TEXT,
		context_id  TEXT,
		failed      INTEGER DEFAULT 0,
		error_kind  TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_conv ON exchanges(conv_key, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordExchange appends one request/reply pair to the transcript.
func (s *Store) RecordExchange(ctx context.Context, ex Exchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (conv_key, channel, chat_id, sender_id, request, reply, context_id, failed, error_kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ConvKey, ex.Channel, ex.ChatID, ex.SenderID, ex.Request, ex.Reply, ex.ContextID, ex.Failed, ex.ErrorKind, ex.CreatedAt,
	)
	return err
}

// RecentExchanges returns the last N exchanges for a conversation,
// oldest first.
func (s *Store) RecentExchanges(ctx context.Context, convKey string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conv_key, channel, chat_id, sender_id, request, reply, context_id, failed, error_kind, created_at
		 FROM exchanges WHERE conv_key = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, convKey, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var ex Exchange
		var senderID, reply, contextID, errorKind sql.NullString
		if err := rows.Scan(&ex.ID, &ex.ConvKey, &ex.Channel, &ex.ChatID,
			&senderID, &ex.Request, &reply, &contextID, &ex.Failed, &errorKind, &ex.CreatedAt); err != nil {
			return nil, err
		}
		ex.SenderID = senderID.String
		ex.Reply = reply.String
		ex.ContextID = contextID.String
		ex.ErrorKind = errorKind.String
		exchanges = append(exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
		exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
	}
	return exchanges, nil
}

// Conversations lists per-conversation transcript summaries, most recent first.
func (s *Store) Conversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conv_key, COUNT(*), SUM(failed), MAX(created_at)
		 FROM exchanges GROUP BY conv_key
		 ORDER BY MAX(created_at) DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(&c.ConvKey, &c.Exchanges, &c.Failures, &c.LastSeen); err != nil {
			return nil, err
		}
		sums = append(sums, c)
	}
	return sums, rows.Err()
}

// Prune deletes exchanges older than the retention window.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM exchanges WHERE created_at < ?`, time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
