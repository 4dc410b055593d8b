package shamwari

// Per-message and per-conversation overheads approximate the structural cost
// of role tags and separators in the real encoding without depending on any
// model's actual tokenizer.
const (
	messageTokenOverhead      = 4
	conversationTokenOverhead = 2
)

// TokenEstimator estimates token counts for trimming and usage accounting.
// Estimates must be deterministic and must never fail: token estimation sits
// on the response path and a panic or error there would take the request
// down with it. The default implementation is a character heuristic; plug in
// a real tokenizer for tighter bounds.
type TokenEstimator interface {
	// EstimateText returns an approximate token count for a piece of text.
	// Empty text estimates to zero.
	EstimateText(text string) int

	// EstimateMessages sums the per-message estimates plus a fixed
	// conversation-level overhead. An empty slice estimates to zero.
	EstimateMessages(messages []ChatMessage) int
}

// CharBasedEstimator approximates tokens using a characters-per-token ratio.
// One token per four characters is close enough for trimming decisions; it
// intentionally rounds up so the estimate errs toward overstating cost.
type CharBasedEstimator struct {
	CharsPerToken int // defaults to 4 if zero
}

func (e CharBasedEstimator) ratio() int {
	if e.CharsPerToken <= 0 {
		return 4
	}
	return e.CharsPerToken
}

// EstimateText implements TokenEstimator.
func (e CharBasedEstimator) EstimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	r := e.ratio()
	return (len(text) + r - 1) / r
}

// EstimateMessages implements TokenEstimator.
func (e CharBasedEstimator) EstimateMessages(messages []ChatMessage) int {
	if len(messages) == 0 {
		return 0
	}
	total := conversationTokenOverhead
	for _, msg := range messages {
		total += messageTokenOverhead + e.EstimateText(msg.Text)
	}
	return total
}
