package shamwari

import (
	"context"
	"fmt"
)

// LLMProvider abstracts a completion API. Implementations receive the fully
// built (already trimmed) message list and a generation budget.
type LLMProvider interface {
	GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error)
}

// LLMResponse is the result of one completion call.
type LLMResponse struct {
	Text             string  `json:"text"`
	TotalInputToken  int     `json:"total_input_token"`
	TotalOutputToken int     `json:"total_output_token"`
	CompletionTime   float64 `json:"completion_time"`
}

// LLMError describes a provider failure with an HTTP-ish status code.
type LLMError struct {
	Code    int
	Message string
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm error %d: %s", e.Code, e.Message)
}

// LLMRequestConfig holds generation settings for a completion call.
type LLMRequestConfig struct {
	maxToken    int64
	temperature float64
	topP        float64
}

// RequestOption configures an LLMRequestConfig.
type RequestOption func(*LLMRequestConfig)

// WithMaxToken sets the maximum number of output tokens to generate.
func WithMaxToken(maxToken int64) RequestOption {
	return func(c *LLMRequestConfig) {
		if maxToken > 0 {
			c.maxToken = maxToken
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.temperature = temperature
	}
}

// WithTopP sets the nucleus sampling parameter.
func WithTopP(topP float64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.topP = topP
	}
}

// NewRequestConfig creates a request configuration with defaults suitable for
// a chat turn: 800 output tokens, temperature 0.7.
func NewRequestConfig(opts ...RequestOption) LLMRequestConfig {
	config := LLMRequestConfig{
		maxToken:    800,
		temperature: 0.7,
		topP:        1.0,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// MaxToken returns the configured output token budget.
func (c LLMRequestConfig) MaxToken() int64 { return c.maxToken }

// Temperature returns the configured sampling temperature.
func (c LLMRequestConfig) Temperature() float64 { return c.temperature }

// TopP returns the configured nucleus sampling parameter.
func (c LLMRequestConfig) TopP() float64 { return c.topP }

// LLMRequest pairs a provider with a request configuration so callers can
// issue completion calls without carrying both around.
type LLMRequest struct {
	requestConfig LLMRequestConfig
	provider      LLMProvider
}

// NewLLMRequest creates an LLMRequest with the specified configuration and
// provider. The provider parameter allows injecting different completion
// implementations (OpenAI, Anthropic, a no-op for tests).
func NewLLMRequest(config LLMRequestConfig, provider LLMProvider) *LLMRequest {
	return &LLMRequest{
		requestConfig: config,
		provider:      provider,
	}
}

// Generate sends messages to the configured provider and returns the response.
func (r *LLMRequest) Generate(ctx context.Context, messages []LLMMessage) (LLMResponse, error) {
	return r.provider.GetResponse(ctx, messages, r.requestConfig)
}
