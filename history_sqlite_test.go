package shamwari

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteHistoryStore {
	t.Helper()
	store, err := NewSQLiteHistoryStore(
		filepath.Join(t.TempDir(), "chat.db"), testSystemPrompt, NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteHistoryStore_LoadSeedsNewUser(t *testing.T) {
	store := newTestSQLiteStore(t)
	id := AuthenticatedIdentity("user-1", "")

	history, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, SystemRole, history.Messages[0].Role)
	assert.Equal(t, testSystemPrompt, history.Messages[0].Text)

	// The seed is persisted: a second load sees the same row.
	again, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, history.Messages, again.Messages)
}

func TestSQLiteHistoryStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	id := AuthenticatedIdentity("user-1", "")
	ctx := context.Background()

	history := &ChatHistory{Messages: testHistory(2)}
	require.NoError(t, store.Save(ctx, id, history, 55))

	loaded, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, history.Messages, loaded.Messages)
	assert.Equal(t, 55, loaded.TotalTokens)
}

func TestSQLiteHistoryStore_SaveDoesNotTouchUsage(t *testing.T) {
	store := newTestSQLiteStore(t)
	id := AuthenticatedIdentity("user-1", "")
	ctx := context.Background()

	require.NoError(t, store.AddUsage(ctx, id, 40))
	require.NoError(t, store.Save(ctx, id, &ChatHistory{Messages: testHistory(1)}, 30))

	usage, err := store.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(40), usage.Total)
}

func TestSQLiteHistoryStore_SaveWithUsage(t *testing.T) {
	store := newTestSQLiteStore(t)
	id := AuthenticatedIdentity("user-1", "")
	ctx := context.Background()

	history := &ChatHistory{Messages: testHistory(2)}
	require.NoError(t, store.SaveWithUsage(ctx, id, history, 60, 60))
	require.NoError(t, store.SaveWithUsage(ctx, id, history, 75, 15))

	loaded, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, history.Messages, loaded.Messages)
	assert.Equal(t, 75, loaded.TotalTokens)

	usage, err := store.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(75), usage.Total)
}

func TestSQLiteHistoryStore_AddUsageConcurrent(t *testing.T) {
	store := newTestSQLiteStore(t)
	id := AuthenticatedIdentity("user-1", "")
	ctx := context.Background()

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				assert.NoError(t, store.AddUsage(ctx, id, 7))
			}
		}()
	}
	wg.Wait()

	usage, err := store.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker*7), usage.Total)
}

func TestSQLiteHistoryStore_AddUsageSeedsMissingRow(t *testing.T) {
	store := newTestSQLiteStore(t)
	id := AuthenticatedIdentity("user-1", "")
	ctx := context.Background()

	require.NoError(t, store.AddUsage(ctx, id, 15))

	usage, err := store.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(15), usage.Total)

	history, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, SystemRole, history.Messages[0].Role)
}

func TestSQLiteHistoryStore_UsageZeroForUnknownUser(t *testing.T) {
	store := newTestSQLiteStore(t)

	usage, err := store.Usage(context.Background(), AuthenticatedIdentity("nobody", ""))
	require.NoError(t, err)
	assert.Zero(t, usage.Total)
}

func TestSQLiteHistoryStore_ResetPreservesUsage(t *testing.T) {
	store := newTestSQLiteStore(t)
	id := AuthenticatedIdentity("user-1", "")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, id, &ChatHistory{Messages: testHistory(3)}, 90))
	require.NoError(t, store.AddUsage(ctx, id, 90))

	require.NoError(t, store.Reset(ctx, id))

	loaded, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, SystemRole, loaded.Messages[0].Role)
	assert.Zero(t, loaded.TotalTokens)

	usage, err := store.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(90), usage.Total)
}

func TestSQLiteHistoryStore_IdentityIsolation(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	first := AuthenticatedIdentity("user-1", "")
	second := AuthenticatedIdentity("user-2", "")

	history := NewChatHistory(testSystemPrompt)
	history.Messages = append(history.Messages, NewChatMessage(UserRole, "only for user-1"))
	require.NoError(t, store.Save(ctx, first, history, 25))
	require.NoError(t, store.AddUsage(ctx, first, 25))

	loaded, err := store.Load(ctx, second)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 1)

	usage, err := store.Usage(ctx, second)
	require.NoError(t, err)
	assert.Zero(t, usage.Total)
}
