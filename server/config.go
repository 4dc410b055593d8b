package server

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DefaultSystemPrompt is the system instruction seeded into every new
// conversation when no override is configured.
const DefaultSystemPrompt = "You are Shamwari, a friendly and helpful assistant. Keep replies concise and conversational."

// Config is the environment-backed configuration for the chat backend.
// Every key is read with the SHAMWARI_ prefix, e.g. SHAMWARI_PORT.
type Config struct {
	Port         string
	SystemPrompt string

	// Provider selects the completion backend: "openai" or "anthropic".
	Provider        string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	Model           string

	SessionSecret string
	JWTSecret     string

	// RedisAddr enables the Redis session tier; empty falls back to the
	// in-memory store (single-instance deployments only).
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	// DatabaseURL enables the durable tier: a postgres:// DSN, or a file
	// path for SQLite. Empty disables authenticated persistence entirely.
	DatabaseURL string

	HistoryMaxTokens  int
	MaxOutputTokens   int64
	Temperature       float64
	CompletionTimeout time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadConfig reads configuration from the environment and validates the
// required secrets.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHAMWARI")
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("system_prompt", DefaultSystemPrompt)
	v.SetDefault("provider", "openai")
	v.SetDefault("model", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("session_ttl_hours", 24)
	v.SetDefault("history_max_tokens", 3000)
	v.SetDefault("max_output_tokens", 800)
	v.SetDefault("temperature", 0.7)
	v.SetDefault("completion_timeout_ms", 60000)
	v.SetDefault("rate_limit_rps", 5)
	v.SetDefault("rate_limit_burst", 10)

	cfg := &Config{
		Port:              v.GetString("port"),
		SystemPrompt:      v.GetString("system_prompt"),
		Provider:          v.GetString("provider"),
		OpenAIAPIKey:      v.GetString("openai_api_key"),
		AnthropicAPIKey:   v.GetString("anthropic_api_key"),
		Model:             v.GetString("model"),
		SessionSecret:     v.GetString("session_secret"),
		JWTSecret:         v.GetString("jwt_secret"),
		RedisAddr:         v.GetString("redis_addr"),
		RedisPassword:     v.GetString("redis_password"),
		RedisDB:           v.GetInt("redis_db"),
		SessionTTL:        time.Duration(v.GetInt("session_ttl_hours")) * time.Hour,
		DatabaseURL:       v.GetString("database_url"),
		HistoryMaxTokens:  v.GetInt("history_max_tokens"),
		MaxOutputTokens:   v.GetInt64("max_output_tokens"),
		Temperature:       v.GetFloat64("temperature"),
		CompletionTimeout: time.Duration(v.GetInt("completion_timeout_ms")) * time.Millisecond,
		RateLimitRPS:      v.GetFloat64("rate_limit_rps"),
		RateLimitBurst:    v.GetInt("rate_limit_burst"),
	}

	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("SHAMWARI_OPENAI_API_KEY is required when provider is openai")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("SHAMWARI_ANTHROPIC_API_KEY is required when provider is anthropic")
		}
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SHAMWARI_SESSION_SECRET is required")
	}
	if cfg.HistoryMaxTokens <= 0 {
		return nil, fmt.Errorf("history_max_tokens must be positive")
	}

	return cfg, nil
}
