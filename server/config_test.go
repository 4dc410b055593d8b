package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SHAMWARI_OPENAI_API_KEY", "test-key")
	t.Setenv("SHAMWARI_SESSION_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, DefaultSystemPrompt, cfg.SystemPrompt)
	assert.Equal(t, 3000, cfg.HistoryMaxTokens)
	assert.Equal(t, int64(800), cfg.MaxOutputTokens)
	assert.Equal(t, 60*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SHAMWARI_PROVIDER", "anthropic")
	t.Setenv("SHAMWARI_ANTHROPIC_API_KEY", "test-key")
	t.Setenv("SHAMWARI_SESSION_SECRET", "test-secret")
	t.Setenv("SHAMWARI_PORT", "9090")
	t.Setenv("SHAMWARI_HISTORY_MAX_TOKENS", "500")
	t.Setenv("SHAMWARI_DATABASE_URL", "postgres://localhost/shamwari")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 500, cfg.HistoryMaxTokens)
	assert.Equal(t, "postgres://localhost/shamwari", cfg.DatabaseURL)
}

func TestLoadConfig_MissingProviderKey(t *testing.T) {
	t.Setenv("SHAMWARI_SESSION_SECRET", "test-secret")
	t.Setenv("SHAMWARI_OPENAI_API_KEY", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHAMWARI_OPENAI_API_KEY")
}

func TestLoadConfig_MissingSessionSecret(t *testing.T) {
	t.Setenv("SHAMWARI_OPENAI_API_KEY", "test-key")
	t.Setenv("SHAMWARI_SESSION_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHAMWARI_SESSION_SECRET")
}

func TestLoadConfig_UnknownProvider(t *testing.T) {
	t.Setenv("SHAMWARI_PROVIDER", "bard")
	t.Setenv("SHAMWARI_SESSION_SECRET", "test-secret")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
