// Package shamwari implements a conversational chat backend: it proxies user
// messages to an LLM completion API, keeps a bounded rolling conversation
// history per identity, and accounts lifetime token consumption.
package shamwari

import "time"

// LLMMessageRole identifies the author of a conversation message.
type LLMMessageRole string

const (
	// SystemRole is the fixed leading instruction establishing assistant
	// behaviour. It is never evicted by trimming.
	SystemRole LLMMessageRole = "system"
	// UserRole marks messages sent by the end user.
	UserRole LLMMessageRole = "user"
	// AssistantRole marks messages generated by the completion provider.
	AssistantRole LLMMessageRole = "assistant"
)

// LLMMessage is a single message exchanged with a completion provider.
type LLMMessage struct {
	Role LLMMessageRole `json:"role"`
	Text string         `json:"content"`
}

// ChatMessage is an LLMMessage as persisted in a conversation history.
// GeneratedAt is a unix timestamp in seconds.
type ChatMessage struct {
	LLMMessage
	GeneratedAt int64 `json:"timestamp"`
}

// NewChatMessage stamps a message with the current time.
func NewChatMessage(role LLMMessageRole, text string) ChatMessage {
	return ChatMessage{
		LLMMessage:  LLMMessage{Role: role, Text: text},
		GeneratedAt: time.Now().Unix(),
	}
}

// ChatHistory is an ordered conversation. A well-formed history is non-empty
// and begins with exactly one system message at index 0; no operation removes
// or reorders it.
type ChatHistory struct {
	Messages    []ChatMessage `json:"messages"`
	TotalTokens int           `json:"total_tokens"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewChatHistory returns a history seeded with the system instruction only.
func NewChatHistory(systemPrompt string) *ChatHistory {
	now := time.Now()
	return &ChatHistory{
		Messages:  []ChatMessage{NewChatMessage(SystemRole, systemPrompt)},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UsageCounter is the lifetime token consumption of one identity. It is
// monotonically non-decreasing and independent of the retained-history token
// count: trimming never reduces it.
type UsageCounter struct {
	Total       int64     `json:"total"`
	LastUpdated time.Time `json:"last_updated"`
}

// IdentityKind tags the outcome of identity resolution.
type IdentityKind string

const (
	// IdentityAnonymous scopes history to one browser session.
	IdentityAnonymous IdentityKind = "anonymous"
	// IdentityAuthenticated is a durable identity surviving across devices.
	IdentityAuthenticated IdentityKind = "authenticated"
	// IdentityVerificationFailed records a bearer token that did not verify.
	// The orchestrator treats it as anonymous; the failure is logged only.
	IdentityVerificationFailed IdentityKind = "verification_failed"
)

// Identity is the resolved caller identity. It selects which history store
// tier and usage counter a request addresses.
type Identity struct {
	Kind      IdentityKind
	SessionID string
	UserID    string
	Email     string
	Reason    string
}

// AnonymousIdentity returns an identity scoped to the given session key.
func AnonymousIdentity(sessionID string) Identity {
	return Identity{Kind: IdentityAnonymous, SessionID: sessionID}
}

// AuthenticatedIdentity returns a durable identity for a verified user.
func AuthenticatedIdentity(userID, email string) Identity {
	return Identity{Kind: IdentityAuthenticated, UserID: userID, Email: email}
}

// FailedIdentity records a verification failure for later demotion.
func FailedIdentity(sessionID, reason string) Identity {
	return Identity{Kind: IdentityVerificationFailed, SessionID: sessionID, Reason: reason}
}

// Authenticated reports whether the identity verified successfully.
func (id Identity) Authenticated() bool {
	return id.Kind == IdentityAuthenticated
}

// Key is the storage key the identity addresses: the user ID for
// authenticated identities, the session key otherwise.
func (id Identity) Key() string {
	if id.Kind == IdentityAuthenticated {
		return id.UserID
	}
	return id.SessionID
}
