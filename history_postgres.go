package shamwari

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresHistoryStore is the durable per-user tier on Postgres. It mirrors
// SQLiteHistoryStore row-for-row and exists for multi-instance deployments
// where a file database cannot be shared behind a load balancer.
type PostgresHistoryStore struct {
	db           *sql.DB
	systemPrompt string
	logger       Logger
}

// NewPostgresHistoryStore connects with the given DSN and initializes the
// schema.
func NewPostgresHistoryStore(dsn, systemPrompt string, logger Logger) (*PostgresHistoryStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := NewPostgresHistoryStoreFromDB(db, systemPrompt, logger)
	if err := store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return store, nil
}

// NewPostgresHistoryStoreFromDB wraps an existing handle. Schema
// initialization is the caller's responsibility; tests use this with a mock
// connection.
func NewPostgresHistoryStoreFromDB(db *sql.DB, systemPrompt string, logger Logger) *PostgresHistoryStore {
	return &PostgresHistoryStore{
		db:           db,
		systemPrompt: systemPrompt,
		logger:       logger,
	}
}

func (s *PostgresHistoryStore) initSchema(ctx context.Context) error {
	createTableSQL := `
    CREATE TABLE IF NOT EXISTS chat_users (
        user_id TEXT PRIMARY KEY,
        history JSONB NOT NULL,
        total_tokens BIGINT NOT NULL DEFAULT 0,
        usage_total BIGINT NOT NULL DEFAULT 0,
        usage_updated_at TIMESTAMPTZ,
        updated_at TIMESTAMPTZ NOT NULL
    );`

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create chat_users table: %w", err)
	}
	return nil
}

// Load fetches the user's history, lazily seeding a document on first
// access.
func (s *PostgresHistoryStore) Load(ctx context.Context, id Identity) (*ChatHistory, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT history FROM chat_users WHERE user_id = $1`, id.Key()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		history := NewChatHistory(s.systemPrompt)
		data, err := json.Marshal(history)
		if err != nil {
			return nil, fmt.Errorf("failed to encode seed history: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
            INSERT INTO chat_users (user_id, history, total_tokens, updated_at)
            VALUES ($1, $2, 0, $3)
            ON CONFLICT (user_id) DO NOTHING`,
			id.Key(), data, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return history, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var history ChatHistory
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("failed to decode history for user %s: %w", id.Key(), err)
	}
	return &history, nil
}

// Save upserts the history document and retained-token count; the usage
// columns are never part of the statement.
func (s *PostgresHistoryStore) Save(ctx context.Context, id Identity, history *ChatHistory, totalTokens int) error {
	stored := copyHistory(history)
	stored.TotalTokens = totalTokens
	stored.UpdatedAt = time.Now()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO chat_users (user_id, history, total_tokens, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id) DO UPDATE SET
            history = EXCLUDED.history,
            total_tokens = EXCLUDED.total_tokens,
            updated_at = EXCLUDED.updated_at`,
		id.Key(), data, totalTokens, stored.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// SaveWithUsage persists the history document and applies the usage
// increment in one transaction: a completed turn is recorded fully or not
// at all.
func (s *PostgresHistoryStore) SaveWithUsage(ctx context.Context, id Identity, history *ChatHistory, totalTokens int, usageDelta int64) error {
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
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id) DO UPDATE SET
            history = EXCLUDED.history,
            total_tokens = EXCLUDED.total_tokens,
            updated_at = EXCLUDED.updated_at`,
		id.Key(), data, totalTokens, stored.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// The upsert above guarantees the row exists.
	_, err = tx.ExecContext(ctx, `
        UPDATE chat_users SET
            usage_total = usage_total + $1,
            usage_updated_at = $2
        WHERE user_id = $3`,
		usageDelta, time.Now().UTC(), id.Key())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// AddUsage atomically increments the user's lifetime counter inside the
// database.
func (s *PostgresHistoryStore) AddUsage(ctx context.Context, id Identity, delta int64) error {
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
        VALUES ($1, $2, 0, $3, $4, $4)
        ON CONFLICT (user_id) DO UPDATE SET
            usage_total = chat_users.usage_total + EXCLUDED.usage_total,
            usage_updated_at = EXCLUDED.usage_updated_at`,
		id.Key(), seed, delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Usage returns the user's lifetime counter, zero when no record exists.
func (s *PostgresHistoryStore) Usage(ctx context.Context, id Identity) (UsageCounter, error) {
	var total int64
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT usage_total, usage_updated_at FROM chat_users WHERE user_id = $1`,
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

// Reset overwrites the history document with its seed state, leaving usage
// untouched.
func (s *PostgresHistoryStore) Reset(ctx context.Context, id Identity) error {
	return s.Save(ctx, id, NewChatHistory(s.systemPrompt), 0)
}

// HealthCheck verifies the database connection.
func (s *PostgresHistoryStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Close releases the database connection.
func (s *PostgresHistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
