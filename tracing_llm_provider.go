package shamwari

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// TracingLLMProvider decorates any LLMProvider with an otel span per
// completion call.
type TracingLLMProvider struct {
	provider LLMProvider
}

// NewTracingLLMProvider wraps the given provider.
func NewTracingLLMProvider(provider LLMProvider) *TracingLLMProvider {
	return &TracingLLMProvider{provider: provider}
}

// GetResponse implements LLMProvider with added tracing.
func (t *TracingLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	ctx, span := StartSpan(ctx, "LLMProvider.GetResponse")
	defer span.End()

	startTime := time.Now()

	response, err := t.provider.GetResponse(ctx, messages, config)
	if err != nil {
		span.RecordError(err)
		return LLMResponse{}, err
	}

	span.SetAttributes(
		attribute.Int("total_input_token", response.TotalInputToken),
		attribute.Int("total_output_token", response.TotalOutputToken),
		attribute.Int("message_count", len(messages)),
		attribute.Float64("completion_time", time.Since(startTime).Seconds()),
		attribute.Int64("max_token", config.MaxToken()),
		attribute.Float64("temperature", config.Temperature()),
		attribute.Float64("top_p", config.TopP()),
	)

	return response, nil
}
