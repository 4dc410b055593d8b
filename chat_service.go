package shamwari

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyMessage rejects chat requests whose message is empty or
// whitespace-only. No side effects are attempted for such requests.
var ErrEmptyMessage = errors.New("message must not be empty")

// ChatResult is the outcome of one successful chat turn. Token counts come
// from the local estimator, not from whatever the provider reports, so usage
// accounting stays consistent with trimming decisions.
type ChatResult struct {
	Reply            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatServiceConfig carries the injected collaborators and settings for a
// ChatService. Provider, SessionStore, and Trimmer are required.
type ChatServiceConfig struct {
	Provider     LLMProvider
	SessionStore HistoryStore
	// DurableStore is optional. When nil, authenticated identities fall back
	// to the session tier and usage queries report ErrUsageUnavailable.
	DurableStore HistoryStore
	Trimmer      *Trimmer
	Estimator    TokenEstimator
	// RequestConfig is the generation budget for completion calls.
	RequestConfig LLMRequestConfig
	// CompletionTimeout bounds the completion call. Zero defaults to 60s.
	CompletionTimeout time.Duration
	Logger            Logger
}

// ChatService orchestrates one chat turn: validate, resolve the store tier,
// build and trim the conversation, call the provider, persist, and account
// usage. It performs no retries; a failed turn must be resent by the caller.
type ChatService struct {
	request           *LLMRequest
	sessionStore      HistoryStore
	durableStore      HistoryStore
	builder           *ConversationBuilder
	trimmer           *Trimmer
	estimator         TokenEstimator
	completionTimeout time.Duration
	logger            Logger
}

// NewChatService wires a ChatService from its configuration.
func NewChatService(cfg ChatServiceConfig) *ChatService {
	if cfg.Estimator == nil {
		cfg.Estimator = CharBasedEstimator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = NewNullLogger()
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 60 * time.Second
	}

	return &ChatService{
		request:           NewLLMRequest(cfg.RequestConfig, cfg.Provider),
		sessionStore:      cfg.SessionStore,
		durableStore:      cfg.DurableStore,
		builder:           NewConversationBuilder(cfg.Trimmer),
		trimmer:           cfg.Trimmer,
		estimator:         cfg.Estimator,
		completionTimeout: cfg.CompletionTimeout,
		logger:            cfg.Logger,
	}
}

// effectiveIdentity applies the demotion policy: a failed verification is
// treated as anonymous. The failure is logged, never surfaced.
func (s *ChatService) effectiveIdentity(id Identity) Identity {
	if id.Kind == IdentityVerificationFailed {
		s.logger.WithFields(map[string]interface{}{
			"reason": id.Reason,
		}).Warn("identity verification failed, treating request as anonymous")
		return AnonymousIdentity(id.SessionID)
	}
	return id
}

// storeFor selects the persistence tier for an identity. Authenticated
// identities use the durable store when one is configured; everyone else
// gets the session tier.
func (s *ChatService) storeFor(id Identity) HistoryStore {
	if id.Authenticated() && s.durableStore != nil {
		return s.durableStore
	}
	return s.sessionStore
}

// load fetches the identity's history, degrading a durable-tier outage to
// the session tier rather than failing the request. It returns the store
// that actually served the load so subsequent writes land in the same place.
func (s *ChatService) load(ctx context.Context, id Identity) (*ChatHistory, HistoryStore, error) {
	store := s.storeFor(id)
	history, err := store.Load(ctx, id)
	if err != nil && store != s.sessionStore && errors.Is(err, ErrBackendUnavailable) {
		s.logger.WithErr(err).Warn("durable store unavailable, degrading to session history")
		store = s.sessionStore
		history, err = store.Load(ctx, id)
	}
	if err != nil {
		return nil, nil, err
	}
	return history, store, nil
}

// Chat runs one conversation turn for the given identity.
func (s *ChatService) Chat(ctx context.Context, id Identity, message string) (*ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	id = s.effectiveIdentity(id)

	history, store, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	// Built once and reused when persisting: the trimmed prompt may have
	// evicted the user turn entirely, so it cannot be recovered from there.
	userMessage := NewChatMessage(UserRole, message)

	prompt, promptTokens := s.builder.Build(history, userMessage)

	completionCtx, cancel := context.WithTimeout(ctx, s.completionTimeout)
	defer cancel()
	response, err := s.request.Generate(completionCtx, llmMessages(prompt))
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	// Reload before persisting so a concurrent turn's save is not clobbered
	// wholesale. History remains last-write-wins; only the usage increment
	// has a lose-free update path.
	fresh, err := store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload history: %w", err)
	}

	assistantMessage := NewChatMessage(AssistantRole, response.Text)
	updated := make([]ChatMessage, 0, len(fresh.Messages)+2)
	updated = append(updated, fresh.Messages...)
	updated = append(updated, userMessage, assistantMessage)

	trimmed, totalTokens := s.trimmer.Trim(updated)

	completionTokens := s.estimator.EstimateText(response.Text)
	usageDelta := promptTokens + completionTokens

	persisted := &ChatHistory{Messages: trimmed, CreatedAt: fresh.CreatedAt}
	if err := store.SaveWithUsage(ctx, id, persisted, totalTokens, int64(usageDelta)); err != nil {
		return nil, fmt.Errorf("failed to persist turn: %w", err)
	}

	return &ChatResult{
		Reply:            response.Text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      usageDelta,
	}, nil
}

// History returns the identity's current conversation.
func (s *ChatService) History(ctx context.Context, id Identity) ([]ChatMessage, error) {
	id = s.effectiveIdentity(id)
	history, _, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return history.Messages, nil
}

// Reset reseeds the identity's history to the system message only. It
// reports whether the durable tier was reset; usage counters are never
// touched by a reset.
func (s *ChatService) Reset(ctx context.Context, id Identity) (bool, error) {
	id = s.effectiveIdentity(id)
	store := s.storeFor(id)
	if err := store.Reset(ctx, id); err != nil {
		if store != s.sessionStore && errors.Is(err, ErrBackendUnavailable) {
			s.logger.WithErr(err).Warn("durable store unavailable, resetting session history")
			return false, s.sessionStore.Reset(ctx, id)
		}
		return false, err
	}
	return store == s.durableStore, nil
}

// Usage returns the lifetime usage counter for an authenticated identity.
// Anonymous callers and deployments without a durable store get
// ErrUsageUnavailable: there is no meaningful anonymous fallback here.
func (s *ChatService) Usage(ctx context.Context, id Identity) (UsageCounter, error) {
	id = s.effectiveIdentity(id)
	if !id.Authenticated() || s.durableStore == nil {
		return UsageCounter{}, ErrUsageUnavailable
	}
	return s.durableStore.Usage(ctx, id)
}

// HealthCheck verifies every configured backend.
func (s *ChatService) HealthCheck(ctx context.Context) error {
	if err := s.sessionStore.HealthCheck(ctx); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	if s.durableStore != nil {
		if err := s.durableStore.HealthCheck(ctx); err != nil {
			return fmt.Errorf("durable store: %w", err)
		}
	}
	return nil
}

// Close releases every configured backend.
func (s *ChatService) Close() error {
	err := s.sessionStore.Close()
	if s.durableStore != nil {
		if derr := s.durableStore.Close(); err == nil {
			err = derr
		}
	}
	return err
}

func llmMessages(messages []ChatMessage) []LLMMessage {
	out := make([]LLMMessage, len(messages))
	for i, msg := range messages {
		out[i] = msg.LLMMessage
	}
	return out
}
