package shamwari

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unavailableStore simulates a durable backend outage.
type unavailableStore struct {
	HistoryStore
}

func (s *unavailableStore) Load(ctx context.Context, id Identity) (*ChatHistory, error) {
	return nil, fmt.Errorf("%w: connection refused", ErrBackendUnavailable)
}

func (s *unavailableStore) Reset(ctx context.Context, id Identity) error {
	return fmt.Errorf("%w: connection refused", ErrBackendUnavailable)
}

func newTestService(t *testing.T, opts ...NoOpsOption) (*ChatService, *InMemoryHistoryStore, *InMemoryHistoryStore) {
	t.Helper()
	session := NewInMemoryHistoryStore(testSystemPrompt)
	durable := NewInMemoryHistoryStore(testSystemPrompt)

	service := NewChatService(ChatServiceConfig{
		Provider:     NewNoOpsLLMProvider(opts...),
		SessionStore: session,
		DurableStore: durable,
		Trimmer:      NewTrimmer(3000, testSystemPrompt, nil),
	})
	return service, session, durable
}

func TestChatService_SingleTurn(t *testing.T) {
	reply := "Mhoro! Ndeipi zvako?"
	service, _, durable := newTestService(t, WithResponse(LLMResponse{Text: reply}))
	id := AuthenticatedIdentity("user-1", "tinashe@example.com")
	ctx := context.Background()

	result, err := service.Chat(ctx, id, "Mhoro")
	require.NoError(t, err)
	assert.Equal(t, reply, result.Reply)

	estimator := CharBasedEstimator{}
	wantPrompt := estimator.EstimateMessages([]ChatMessage{
		NewChatMessage(SystemRole, testSystemPrompt),
		NewChatMessage(UserRole, "Mhoro"),
	})
	assert.Equal(t, wantPrompt, result.PromptTokens)
	assert.Equal(t, estimator.EstimateText(reply), result.CompletionTokens)
	assert.Equal(t, result.PromptTokens+result.CompletionTokens, result.TotalTokens)

	messages, err := service.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, SystemRole, messages[0].Role)
	assert.Equal(t, "Mhoro", messages[1].Text)
	assert.Equal(t, reply, messages[2].Text)

	usage, err := durable.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(result.TotalTokens), usage.Total)
}

func TestChatService_MultiTurnAccumulatesUsage(t *testing.T) {
	service, _, _ := newTestService(t, WithResponse(LLMResponse{Text: "short reply"}))
	id := AuthenticatedIdentity("user-1", "")
	ctx := context.Background()

	first, err := service.Chat(ctx, id, "first question")
	require.NoError(t, err)
	second, err := service.Chat(ctx, id, "second question")
	require.NoError(t, err)

	// The second prompt includes the first turn, so it costs more.
	assert.Greater(t, second.PromptTokens, first.PromptTokens)

	usage, err := service.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(first.TotalTokens+second.TotalTokens), usage.Total)
}

func TestChatService_EmptyMessageRejected(t *testing.T) {
	service, _, _ := newTestService(t)
	id := AnonymousIdentity("sess-1")

	for _, message := range []string{"", "   ", "\n\t"} {
		_, err := service.Chat(context.Background(), id, message)
		assert.ErrorIs(t, err, ErrEmptyMessage, "message %q", message)
	}
}

func TestChatService_AnonymousUsesSessionStore(t *testing.T) {
	service, session, durable := newTestService(t)
	id := AnonymousIdentity("sess-1")
	ctx := context.Background()

	_, err := service.Chat(ctx, id, "hello")
	require.NoError(t, err)

	loaded, err := session.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 3)

	// The durable tier never saw the anonymous turn.
	durableHistory, err := durable.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, durableHistory.Messages, 1)
}

func TestChatService_VerificationFailureDemotedToAnonymous(t *testing.T) {
	service, session, durable := newTestService(t)
	id := FailedIdentity("sess-1", "token verification failed")
	ctx := context.Background()

	_, err := service.Chat(ctx, id, "hello")
	require.NoError(t, err)

	loaded, err := session.Load(ctx, AnonymousIdentity("sess-1"))
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 3)

	durableHistory, err := durable.Load(ctx, AnonymousIdentity("sess-1"))
	require.NoError(t, err)
	assert.Len(t, durableHistory.Messages, 1)

	_, err = service.Usage(ctx, id)
	assert.ErrorIs(t, err, ErrUsageUnavailable)
}

func TestChatService_IdentityIsolation(t *testing.T) {
	service, _, _ := newTestService(t, WithResponse(LLMResponse{Text: "reply"}))
	ctx := context.Background()

	_, err := service.Chat(ctx, AnonymousIdentity("sess-1"), "a secret from sess-1")
	require.NoError(t, err)

	other, err := service.History(ctx, AnonymousIdentity("sess-2"))
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, SystemRole, other[0].Role)
}

func TestChatService_CompletionFailureLeavesNoTrace(t *testing.T) {
	providerErr := errors.New("upstream is down")
	service, _, durable := newTestService(t, WithError(providerErr))
	id := AuthenticatedIdentity("user-1", "")
	ctx := context.Background()

	_, err := service.Chat(ctx, id, "hello")
	require.ErrorIs(t, err, providerErr)

	messages, herr := service.History(ctx, id)
	require.NoError(t, herr)
	assert.Len(t, messages, 1, "failed turn must not be persisted")

	usage, uerr := durable.Usage(ctx, id)
	require.NoError(t, uerr)
	assert.Zero(t, usage.Total, "failed turn must not be billed")
}

func TestChatService_DurableOutageDegradesToSession(t *testing.T) {
	session := NewInMemoryHistoryStore(testSystemPrompt)
	service := NewChatService(ChatServiceConfig{
		Provider:     NewNoOpsLLMProvider(),
		SessionStore: session,
		DurableStore: &unavailableStore{},
		Trimmer:      NewTrimmer(3000, testSystemPrompt, nil),
	})
	id := AuthenticatedIdentity("user-1", "")
	ctx := context.Background()

	_, err := service.Chat(ctx, id, "hello")
	require.NoError(t, err)

	loaded, err := session.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 3)

	durableReset, err := service.Reset(ctx, id)
	require.NoError(t, err)
	assert.False(t, durableReset, "degraded reset clears the session tier only")
}

func TestChatService_Reset(t *testing.T) {
	service, _, _ := newTestService(t)
	id := AuthenticatedIdentity("user-1", "")
	ctx := context.Background()

	result, err := service.Chat(ctx, id, "hello")
	require.NoError(t, err)

	durableReset, err := service.Reset(ctx, id)
	require.NoError(t, err)
	assert.True(t, durableReset)

	messages, err := service.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, SystemRole, messages[0].Role)

	usage, err := service.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(result.TotalTokens), usage.Total, "reset never reduces lifetime usage")

	anonReset, err := service.Reset(ctx, AnonymousIdentity("sess-1"))
	require.NoError(t, err)
	assert.False(t, anonReset)
}

func TestChatService_UsageRequiresAuthentication(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Usage(context.Background(), AnonymousIdentity("sess-1"))
	assert.ErrorIs(t, err, ErrUsageUnavailable)
}

func TestChatService_UsageUnavailableWithoutDurableStore(t *testing.T) {
	service := NewChatService(ChatServiceConfig{
		Provider:     NewNoOpsLLMProvider(),
		SessionStore: NewInMemoryHistoryStore(testSystemPrompt),
		Trimmer:      NewTrimmer(3000, testSystemPrompt, nil),
	})

	_, err := service.Usage(context.Background(), AuthenticatedIdentity("user-1", ""))
	assert.ErrorIs(t, err, ErrUsageUnavailable)
}

func TestChatService_OversizedUserMessageKeepsSingleSystemMessage(t *testing.T) {
	session := NewInMemoryHistoryStore(testSystemPrompt)
	service := NewChatService(ChatServiceConfig{
		Provider:     NewNoOpsLLMProvider(),
		SessionStore: session,
		Trimmer:      NewTrimmer(40, testSystemPrompt, nil),
	})
	id := AnonymousIdentity("sess-1")
	ctx := context.Background()

	// The user message alone blows the ceiling, so the prompt is trimmed
	// down to the system message before the completion call.
	_, err := service.Chat(ctx, id, strings.Repeat("x", 1000))
	require.NoError(t, err)

	loaded, err := session.Load(ctx, id)
	require.NoError(t, err)

	require.NotEmpty(t, loaded.Messages)
	assert.Equal(t, SystemRole, loaded.Messages[0].Role)
	for i, msg := range loaded.Messages[1:] {
		assert.NotEqual(t, SystemRole, msg.Role, "message %d", i+1)
	}
}

func TestChatService_HistoryStaysUnderBudget(t *testing.T) {
	session := NewInMemoryHistoryStore(testSystemPrompt)
	service := NewChatService(ChatServiceConfig{
		Provider:     NewNoOpsLLMProvider(WithResponse(LLMResponse{Text: "a fairly long assistant reply that consumes budget"})),
		SessionStore: session,
		Trimmer:      NewTrimmer(80, testSystemPrompt, nil),
	})
	id := AnonymousIdentity("sess-1")
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := service.Chat(ctx, id, fmt.Sprintf("turn number %d with some padding text", i))
		require.NoError(t, err)
	}

	loaded, err := session.Load(ctx, id)
	require.NoError(t, err)
	assert.LessOrEqual(t, loaded.TotalTokens, 80)
	assert.Equal(t, SystemRole, loaded.Messages[0].Role)
	// The most recent assistant turn always survives trimming.
	last := loaded.Messages[len(loaded.Messages)-1]
	assert.Equal(t, AssistantRole, last.Role)
}
