package shamwari

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	history *ChatHistory
	usage   UsageCounter
}

// InMemoryHistoryStore keeps histories in process memory. It backs the
// session tier when no Redis address is configured and is the store of
// choice in tests. Unlike the Redis store it also tracks usage, so the
// atomic-increment contract has an implementation without a database.
type InMemoryHistoryStore struct {
	systemPrompt string
	records      map[string]*memoryRecord
	mu           sync.RWMutex
}

// NewInMemoryHistoryStore creates an empty in-memory store. New histories
// are seeded with systemPrompt on first access.
func NewInMemoryHistoryStore(systemPrompt string) *InMemoryHistoryStore {
	return &InMemoryHistoryStore{
		systemPrompt: systemPrompt,
		records:      make(map[string]*memoryRecord),
	}
}

func (s *InMemoryHistoryStore) record(key string) *memoryRecord {
	rec, exists := s.records[key]
	if !exists {
		rec = &memoryRecord{history: NewChatHistory(s.systemPrompt)}
		s.records[key] = rec
	}
	return rec
}

// Load returns the identity's history, seeding it lazily on first access.
// The returned history is a copy; mutations do not leak back into the store
// until Save.
func (s *InMemoryHistoryStore) Load(ctx context.Context, id Identity) (*ChatHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(id.Key())
	return copyHistory(rec.history), nil
}

// Save overwrites the stored history for the identity.
func (s *InMemoryHistoryStore) Save(ctx context.Context, id Identity, history *ChatHistory, totalTokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyHistory(history)
	stored.TotalTokens = totalTokens
	stored.UpdatedAt = time.Now()

	rec := s.record(id.Key())
	rec.history = stored
	return nil
}

// SaveWithUsage persists the history and applies the usage increment under
// one lock, so a completed turn lands fully or not at all.
func (s *InMemoryHistoryStore) SaveWithUsage(ctx context.Context, id Identity, history *ChatHistory, totalTokens int, usageDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyHistory(history)
	stored.TotalTokens = totalTokens
	stored.UpdatedAt = time.Now()

	rec := s.record(id.Key())
	rec.history = stored
	rec.usage.Total += usageDelta
	rec.usage.LastUpdated = time.Now()
	return nil
}

// AddUsage increments the identity's usage counter. The store mutex makes
// concurrent increments lose-free.
func (s *InMemoryHistoryStore) AddUsage(ctx context.Context, id Identity, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(id.Key())
	rec.usage.Total += delta
	rec.usage.LastUpdated = time.Now()
	return nil
}

// Usage returns the identity's usage counter; a zero counter if none exists.
func (s *InMemoryHistoryStore) Usage(ctx context.Context, id Identity) (UsageCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id.Key()]
	if !exists {
		return UsageCounter{}, nil
	}
	return rec.usage, nil
}

// Reset reseeds the history to the system message only. Usage is untouched.
func (s *InMemoryHistoryStore) Reset(ctx context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(id.Key())
	rec.history = NewChatHistory(s.systemPrompt)
	return nil
}

// HealthCheck implements HistoryStore.
func (s *InMemoryHistoryStore) HealthCheck(ctx context.Context) error { return nil }

// Close implements HistoryStore.
func (s *InMemoryHistoryStore) Close() error { return nil }

func copyHistory(h *ChatHistory) *ChatHistory {
	if h == nil {
		return nil
	}
	messages := make([]ChatMessage, len(h.Messages))
	copy(messages, h.Messages)
	dup := *h
	dup.Messages = messages
	return &dup
}
