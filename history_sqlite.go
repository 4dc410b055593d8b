package shamwari

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteHistoryStore is the durable per-user tier backed by SQLite. Each
// user owns one row holding the history document, the retained-token count,
// and the lifetime usage counter. Save and Reset never touch the usage
// columns; AddUsage never touches the history columns.
type SQLiteHistoryStore struct {
	db           *sql.DB
	systemPrompt string
	logger       Logger
}

// NewSQLiteHistoryStore opens (or creates) the database at databasePath and
// initializes the schema.
func NewSQLiteHistoryStore(databasePath, systemPrompt string, logger Logger) (*SQLiteHistoryStore, error) {
	db, err := sql.Open("sqlite3", databasePath+"?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &SQLiteHistoryStore{
		db:           db,
		systemPrompt: systemPrompt,
		logger:       logger,
	}

	if err := store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteHistoryStore) initSchema(ctx context.Context) error {
	createTableSQL := `
    CREATE TABLE IF NOT EXISTS chat_users (
        user_id TEXT PRIMARY KEY,
        history TEXT NOT NULL,
        total_tokens INTEGER NOT NULL DEFAULT 0,
        usage_total INTEGER NOT NULL DEFAULT 0,
        usage_updated_at DATETIME,
        updated_at DATETIME NOT NULL
    );`

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create chat_users table: %w", err)
	}
	return nil
}

// Load fetches the user's history, lazily creating a seeded document on
// first access. The seed itself is a write so concurrent first requests
// converge on one row.
func (s *SQLiteHistoryStore) Load(ctx context.Context, id Identity) (*ChatHistory, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT history FROM chat_users WHERE user_id = ?`, id.Key()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		history := NewChatHistory(s.systemPrompt)
		if err := s.insertSeed(ctx, id, history); err != nil {
			return nil, err
		}
		return history, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var history ChatHistory
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("failed to decode history for user %s: %w", id.Key(), err)
	}
	return &history, nil
}

func (s *SQLiteHistoryStore) insertSeed(ctx context.Context, id Identity, history *ChatHistory) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode seed history: %w", err)
	}
	// ON CONFLICT DO NOTHING: a concurrent request may have seeded already,
	// and its row must win over ours.
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO chat_users (user_id, history, total_tokens, updated_at)
        VALUES (?, ?, 0, ?)
        ON CONFLICT(user_id) DO NOTHING`,
		id.Key(), string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Save upserts the history document and retained-token count with merge
// semantics: the usage columns are left alone.
func (s *SQLiteHistoryStore) Save(ctx context.Context, id Identity, history *ChatHistory, totalTokens int) error {
	stored := copyHistory(history)
	stored.TotalTokens = totalTokens
	stored.UpdatedAt = time.Now()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO chat_users (user_id, history, total_tokens, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            history = excluded.history,
            total_tokens = excluded.total_tokens,
            updated_at = excluded.updated_at`,
		id.Key(), string(data), totalTokens, stored.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// SaveWithUsage persists the history document and applies the usage
// increment in one transaction: a completed turn is recorded fully or not
// at all.
func (s *SQLiteHistoryStore) SaveWithUsage(ctx context.Context, id Identity, history *ChatHistory, totalTokens int, usageDelta int64) error {
	stored := copyHistory(history)
	stored.TotalTokens = totalTokens
	stored.UpdatedAt = time.Now()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO chat_users (user_id, history, total_tokens, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            history = excluded.history,
            total_tokens = excluded.total_tokens,
            updated_at = excluded.updated_at`,
		id.Key(), string(data), totalTokens, stored.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// The upsert above guarantees the row exists.
	_, err = tx.ExecContext(ctx, `
        UPDATE chat_users SET
            usage_total = usage_total + ?,
            usage_updated_at = ?
        WHERE user_id = ?`,
		usageDelta, time.Now().UTC(), id.Key())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// AddUsage atomically increments the user's lifetime counter. The increment
// happens inside the database, so concurrent turns by the same user never
// lose a delta.
func (s *SQLiteHistoryStore) AddUsage(ctx context.Context, id Identity, delta int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer tx.Rollback()

	seed, err := json.Marshal(NewChatHistory(s.systemPrompt))
	if err != nil {
		return fmt.Errorf("failed to encode seed history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO chat_users (user_id, history, total_tokens, usage_total, usage_updated_at, updated_at)
        VALUES (?, ?, 0, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            usage_total = chat_users.usage_total + excluded.usage_total,
            usage_updated_at = excluded.usage_updated_at`,
		id.Key(), string(seed), delta, time.Now().UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Usage returns the user's lifetime counter, or a zero counter when the user
// has no record yet.
func (s *SQLiteHistoryStore) Usage(ctx context.Context, id Identity) (UsageCounter, error) {
	var total int64
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT usage_total, usage_updated_at FROM chat_users WHERE user_id = ?`,
		id.Key()).Scan(&total, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UsageCounter{}, nil
	}
	if err != nil {
		return UsageCounter{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	counter := UsageCounter{Total: total}
	if updatedAt.Valid {
		counter.LastUpdated = updatedAt.Time
	}
	return counter, nil
}

// Reset overwrites the history document with its seed state. The usage
// columns are untouched: usage is lifetime, history is working set.
func (s *SQLiteHistoryStore) Reset(ctx context.Context, id Identity) error {
	return s.Save(ctx, id, NewChatHistory(s.systemPrompt), 0)
}

// HealthCheck verifies the database connection.
func (s *SQLiteHistoryStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLiteHistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
