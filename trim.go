package shamwari

// Trimmer bounds a conversation to a token ceiling by evicting the oldest
// non-system messages first. The system instruction at index 0 is never
// evicted and message content is never truncated: eviction is whole-message
// only, so a lone over-budget system message is returned with its true count.
type Trimmer struct {
	MaxTokens    int
	SystemPrompt string
	Estimator    TokenEstimator
}

// NewTrimmer constructs a Trimmer. When estimator is nil a CharBasedEstimator
// is used. SystemPrompt seeds the history when Trim receives an empty input.
func NewTrimmer(maxTokens int, systemPrompt string, estimator TokenEstimator) *Trimmer {
	if estimator == nil {
		estimator = CharBasedEstimator{}
	}
	return &Trimmer{
		MaxTokens:    maxTokens,
		SystemPrompt: systemPrompt,
		Estimator:    estimator,
	}
}

// Trim returns a copy of messages that fits within MaxTokens, along with the
// estimated token count of what was kept. Within budget, the input is
// returned unchanged. Over budget, messages are evicted oldest-first from
// the non-system tail until the estimate fits or only the system message
// remains. An empty input yields a freshly seeded single-system history.
func (t *Trimmer) Trim(messages []ChatMessage) ([]ChatMessage, int) {
	estimator := t.Estimator
	if estimator == nil {
		estimator = CharBasedEstimator{}
	}

	if len(messages) == 0 {
		seeded := NewChatHistory(t.SystemPrompt).Messages
		return seeded, estimator.EstimateMessages(seeded)
	}

	total := estimator.EstimateMessages(messages)
	if total <= t.MaxTokens {
		return messages, total
	}

	kept := make([]ChatMessage, len(messages))
	copy(kept, messages)

	// Terminates in at most len(messages)-1 iterations: each pass removes
	// one message and the system message is held at index 0.
	for total > t.MaxTokens && len(kept) > 1 {
		kept = append(kept[:1], kept[2:]...)
		total = estimator.EstimateMessages(kept)
	}

	return kept, total
}
