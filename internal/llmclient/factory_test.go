package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajmerced/sherpa-cli/internal/config"
)

func routerConfig() config.LLMRouterConfig {
	fast := validModelConfig()
	fast.Model = "gemini-2.5-flash"
	powerful := validModelConfig()
	powerful.Model = "gemini-2.5-pro"

	return config.LLMRouterConfig{
		DefaultFastModel:     "gemini-2.5-flash",
		DefaultPowerfulModel: "gemini-2.5-pro",
		Models: map[string]config.LLMModelConfig{
			"gemini-2.5-flash": fast,
			"gemini-2.5-pro":   powerful,
		},
	}
}

func TestNewFromConfig(t *testing.T) {
	logger := setupTestLogger(t)

	t.Run("builds a tiered router from valid config", func(t *testing.T) {
		port, err := NewFromConfig(routerConfig(), logger)
		require.NoError(t, err)
		require.NotNil(t, port)
	})

	t.Run("fails when a default model has no configuration", func(t *testing.T) {
		cfg := routerConfig()
		cfg.DefaultFastModel = "unknown-model"

		_, err := NewFromConfig(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no configuration for model")
	})

	t.Run("fails on an unsupported provider", func(t *testing.T) {
		cfg := routerConfig()
		m := cfg.Models["gemini-2.5-pro"]
		m.Provider = "openai"
		cfg.Models["gemini-2.5-pro"] = m

		_, err := NewFromConfig(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported LLM provider")
	})

	t.Run("fails when the tier model is missing its API key", func(t *testing.T) {
		cfg := routerConfig()
		m := cfg.Models["gemini-2.5-flash"]
		m.APIKey = ""
		cfg.Models["gemini-2.5-flash"] = m

		_, err := NewFromConfig(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fast tier")
	})
}
