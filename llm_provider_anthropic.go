package shamwari

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicLLMProvider implements the LLMProvider interface using Anthropic's
// official Go SDK. The system message travels in Anthropic's dedicated
// system parameter rather than the message list.
type AnthropicLLMProvider struct {
	client AnthropicClientProvider
	model  anthropic.Model
}

// AnthropicProviderConfig holds configuration for the Anthropic provider.
type AnthropicProviderConfig struct {
	// Client is the AnthropicClientProvider implementation to use.
	Client AnthropicClientProvider
	// Model specifies which Anthropic model to use.
	Model anthropic.Model
}

// NewAnthropicLLMProvider creates an Anthropic provider. If no model is
// specified it defaults to Claude 3.5 Sonnet.
func NewAnthropicLLMProvider(config AnthropicProviderConfig) *AnthropicLLMProvider {
	if config.Model == "" {
		config.Model = anthropic.ModelClaude_3_5_Sonnet_20240620
	}

	return &AnthropicLLMProvider{
		client: config.Client,
		model:  config.Model,
	}
}

// GetResponse generates a completion for the given messages and
// configuration.
func (p *AnthropicLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()

	var anthropicMessages []anthropic.MessageParam
	var systemMessage string
	for _, msg := range messages {
		switch msg.Role {
		case SystemRole:
			systemMessage = msg.Text
		case AssistantRole:
			anthropicMessages = append(anthropicMessages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		default:
			anthropicMessages = append(anthropicMessages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.F(p.model),
		Messages:    anthropic.F(anthropicMessages),
		MaxTokens:   anthropic.F(config.MaxToken()),
		TopP:        anthropic.Float(config.TopP()),
		Temperature: anthropic.Float(config.Temperature()),
	}
	if systemMessage != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock(systemMessage),
		})
	}

	message, err := p.client.CreateMessage(ctx, params)
	if err != nil {
		return LLMResponse{}, err
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block, ok := block.AsUnion().(anthropic.TextBlock); ok {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return LLMResponse{}, &LLMError{Code: 400, Message: "no text content in response"}
	}

	return LLMResponse{
		Text:             strings.TrimSpace(text.String()),
		TotalInputToken:  int(message.Usage.InputTokens),
		TotalOutputToken: int(message.Usage.OutputTokens),
		CompletionTime:   time.Since(startTime).Seconds(),
	}, nil
}
