package shamwari

import (
	"context"
	"errors"
)

var (
	// ErrBackendUnavailable signals that a history backend could not be
	// reached. The orchestrator degrades such requests to the session tier
	// instead of failing them.
	ErrBackendUnavailable = errors.New("history backend unavailable")

	// ErrUsageUnavailable signals that the addressed store does not account
	// usage (the session tier) or that no durable store is configured.
	ErrUsageUnavailable = errors.New("usage accounting unavailable")
)

// HistoryStore is the uniform capability over the two persistence tiers:
// ephemeral per-session storage for anonymous callers and durable per-user
// documents for authenticated ones.
//
// Load lazily seeds a history (system message only) on first access. Save
// has merge semantics: it replaces the history document and retained-token
// count without touching the usage counter. AddUsage must be atomic relative
// to concurrent increments for the same identity; last-write-wins is not
// acceptable there. SaveWithUsage combines the two for a completed chat
// turn: on stores that account usage, the history write and the usage
// increment must land together or not at all. Reset reseeds the history and
// leaves usage untouched: usage is lifetime, history is working set.
type HistoryStore interface {
	Load(ctx context.Context, id Identity) (*ChatHistory, error)
	Save(ctx context.Context, id Identity, history *ChatHistory, totalTokens int) error
	AddUsage(ctx context.Context, id Identity, delta int64) error
	SaveWithUsage(ctx context.Context, id Identity, history *ChatHistory, totalTokens int, usageDelta int64) error
	Usage(ctx context.Context, id Identity) (UsageCounter, error)
	Reset(ctx context.Context, id Identity) error

	HealthCheck(ctx context.Context) error
	Close() error
}
