package shamwari

// ConversationBuilder turns a loaded history plus a new user message into the
// bounded message list sent to the completion provider. It is pure
// composition: persistence stays with the caller, which saves only once the
// assistant reply is known.
type ConversationBuilder struct {
	trimmer *Trimmer
}

// NewConversationBuilder creates a builder around the given trimmer.
func NewConversationBuilder(trimmer *Trimmer) *ConversationBuilder {
	return &ConversationBuilder{trimmer: trimmer}
}

// Build appends the user turn to the history and trims the result to the
// configured ceiling. The input history is not mutated. The caller owns the
// user message so it can persist the same value later regardless of what
// trimming keeps in the prompt.
func (b *ConversationBuilder) Build(history *ChatHistory, userMessage ChatMessage) ([]ChatMessage, int) {
	var loaded []ChatMessage
	if history != nil {
		loaded = history.Messages
	}

	messages := make([]ChatMessage, 0, len(loaded)+1)
	messages = append(messages, loaded...)
	messages = append(messages, userMessage)

	return b.trimmer.Trim(messages)
}
