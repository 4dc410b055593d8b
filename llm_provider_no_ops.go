package shamwari

import "context"

// NoOpsLLMProvider implements the LLMProvider interface for testing. It
// returns a canned response, or a canned error when one is configured.
type NoOpsLLMProvider struct {
	response LLMResponse
	err      error
}

// NoOpsOption defines the function signature for the option pattern.
type NoOpsOption func(*NoOpsLLMProvider)

// WithResponse sets a custom LLMResponse for the NoOps provider.
func WithResponse(response LLMResponse) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.response = response
	}
}

// WithError makes every completion call fail with err.
func WithError(err error) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.err = err
	}
}

// NewNoOpsLLMProvider creates a NoOpsLLMProvider with optional
// configurations.
func NewNoOpsLLMProvider(opts ...NoOpsOption) *NoOpsLLMProvider {
	provider := &NoOpsLLMProvider{
		response: LLMResponse{
			Text:             "Default NoOps response",
			TotalInputToken:  10,
			TotalOutputToken: 3,
			CompletionTime:   0.1,
		},
	}

	for _, opt := range opts {
		opt(provider)
	}

	return provider
}

// GetResponse implements the LLMProvider interface.
func (n *NoOpsLLMProvider) GetResponse(ctx context.Context, _ []LLMMessage, _ LLMRequestConfig) (LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return LLMResponse{}, err
	}
	if n.err != nil {
		return LLMResponse{}, n.err
	}
	return n.response, nil
}
