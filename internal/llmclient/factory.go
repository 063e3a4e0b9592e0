package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ajmerced/sherpa-cli/api/schemas"
	"github.com/ajmerced/sherpa-cli/internal/config"
)

// NewFromConfig builds the tiered router from the llm configuration block.
func NewFromConfig(cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.ModelPort, error) {
	fastClient, err := newProviderClient(cfg, cfg.DefaultFastModel, logger)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}
	powerfulClient, err := newProviderClient(cfg, cfg.DefaultPowerfulModel, logger)
	if err != nil {
		return nil, fmt.Errorf("powerful tier: %w", err)
	}
	return NewRouter(logger, fastClient, powerfulClient)
}

func newProviderClient(cfg config.LLMRouterConfig, modelName string, logger *zap.Logger) (schemas.ModelPort, error) {
	modelCfg, ok := cfg.Models[modelName]
	if !ok {
		return nil, fmt.Errorf("no configuration for model %q", modelName)
	}

	switch modelCfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(modelCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", modelCfg.Provider)
	}
}
