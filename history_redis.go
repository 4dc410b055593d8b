package shamwari

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisHistoryKeyPrefix = "chat_history:"

// RedisHistoryStore backs the session tier with Redis. Each session key maps
// to one JSON history blob with a TTL, so abandoned anonymous sessions
// expire on their own. Anonymous usage is not billable, so AddUsage is a
// deliberate no-op and Usage reports ErrUsageUnavailable.
type RedisHistoryStore struct {
	client       *redis.Client
	systemPrompt string
	ttl          time.Duration
	logger       Logger
}

// NewRedisHistoryStore connects to Redis and verifies the connection before
// returning. A zero ttl defaults to 24 hours.
func NewRedisHistoryStore(addr, password string, db int, systemPrompt string, ttl time.Duration, logger Logger) (*RedisHistoryStore, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisHistoryStore{
		client:       client,
		systemPrompt: systemPrompt,
		ttl:          ttl,
		logger:       logger,
	}, nil
}

func (s *RedisHistoryStore) key(id Identity) string {
	return redisHistoryKeyPrefix + id.Key()
}

// Load fetches the session history, seeding it on first access.
func (s *RedisHistoryStore) Load(ctx context.Context, id Identity) (*ChatHistory, error) {
	data, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		history := NewChatHistory(s.systemPrompt)
		if err := s.write(ctx, id, history); err != nil {
			return nil, err
		}
		return history, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var history ChatHistory
	if err := json.Unmarshal([]byte(data), &history); err != nil {
		// A corrupt blob is unrecoverable; reseed rather than wedging the
		// session permanently.
		s.logger.WithErr(err).Warn("corrupt session history, reseeding")
		history := NewChatHistory(s.systemPrompt)
		if err := s.write(ctx, id, history); err != nil {
			return nil, err
		}
		return history, nil
	}
	return &history, nil
}

// Save overwrites the session history blob and refreshes its TTL.
func (s *RedisHistoryStore) Save(ctx context.Context, id Identity, history *ChatHistory, totalTokens int) error {
	stored := copyHistory(history)
	stored.TotalTokens = totalTokens
	stored.UpdatedAt = time.Now()
	return s.write(ctx, id, stored)
}

func (s *RedisHistoryStore) write(ctx context.Context, id Identity, history *ChatHistory) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal session history: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// SaveWithUsage persists the history only. The session tier accounts no
// usage, so the delta is dropped and the operation reduces to Save.
func (s *RedisHistoryStore) SaveWithUsage(ctx context.Context, id Identity, history *ChatHistory, totalTokens int, usageDelta int64) error {
	return s.Save(ctx, id, history, totalTokens)
}

// AddUsage is a no-op: anonymous consumption is not accounted.
func (s *RedisHistoryStore) AddUsage(ctx context.Context, id Identity, delta int64) error {
	return nil
}

// Usage implements HistoryStore. The session tier has no usage counters.
func (s *RedisHistoryStore) Usage(ctx context.Context, id Identity) (UsageCounter, error) {
	return UsageCounter{}, ErrUsageUnavailable
}

// Reset overwrites the session history with its seed state.
func (s *RedisHistoryStore) Reset(ctx context.Context, id Identity) error {
	return s.write(ctx, id, NewChatHistory(s.systemPrompt))
}

// HealthCheck pings the Redis server.
func (s *RedisHistoryStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisHistoryStore) Close() error {
	return s.client.Close()
}
