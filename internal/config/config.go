// Package config holds the viper-backed application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object. Populate it through
// NewDefaultConfig or NewConfigFromViper so defaults and validation apply.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Guide    GuideConfig    `mapstructure:"guide" yaml:"guide"`
	LLM      LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// GuideConfig tunes the step orchestrator.
type GuideConfig struct {
	// HistoryDigestLimit caps how many completed steps are summarized back
	// to the model on each request. Zero means no limit.
	HistoryDigestLimit int `mapstructure:"history_digest_limit" yaml:"history_digest_limit"`
	// SubstepTarget is how many corrective substeps to ask for when the
	// user has drifted off task.
	SubstepTarget int           `mapstructure:"substep_target" yaml:"substep_target"`
	ModelTimeout  time.Duration `mapstructure:"model_timeout" yaml:"model_timeout"`
}

// LLMProvider identifies a model backend.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures tier-to-model routing.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines one reachable model.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RequestsPerSecond throttles outbound calls; zero disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// CaptureMode selects the Capture Port implementation.
type CaptureMode string

const (
	CaptureSynthetic CaptureMode = "synthetic"
	CaptureBrowser   CaptureMode = "browser"
)

// CaptureConfig configures snapshot acquisition.
type CaptureConfig struct {
	Mode   CaptureMode `mapstructure:"mode" yaml:"mode"`
	Width  int         `mapstructure:"width" yaml:"width"`
	Height int         `mapstructure:"height" yaml:"height"`
	// TargetURL is the page the browser capture attaches to.
	TargetURL string        `mapstructure:"target_url" yaml:"target_url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Headless  bool          `mapstructure:"headless" yaml:"headless"`
}

// DatabaseConfig configures the best-effort session recorder.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig returns a Config populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults always unmarshal; a failure here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults installs every default value on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "sherpa")
	v.SetDefault("logger.log_file", "sherpa.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Guide --
	v.SetDefault("guide.history_digest_limit", 20)
	v.SetDefault("guide.substep_target", 3)
	v.SetDefault("guide.model_timeout", "45s")

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.models.gemini-2.5-flash.provider", "gemini")
	v.SetDefault("llm.models.gemini-2.5-flash.model", "gemini-2.5-flash")
	v.SetDefault("llm.models.gemini-2.5-flash.api_timeout", "30s")
	v.SetDefault("llm.models.gemini-2.5-flash.temperature", 0.2)
	v.SetDefault("llm.models.gemini-2.5-pro.provider", "gemini")
	v.SetDefault("llm.models.gemini-2.5-pro.model", "gemini-2.5-pro")
	v.SetDefault("llm.models.gemini-2.5-pro.api_timeout", "60s")
	v.SetDefault("llm.models.gemini-2.5-pro.temperature", 0.2)

	// -- Capture --
	v.SetDefault("capture.mode", "synthetic")
	v.SetDefault("capture.width", 1920)
	v.SetDefault("capture.height", 1080)
	v.SetDefault("capture.timeout", "20s")
	v.SetDefault("capture.headless", true)

	// -- Database --
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.url", "")
}

// NewConfigFromViper builds and validates a Config from a viper instance
// that has already read flags/files.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Secrets come from the environment, never the config file.
	v.BindEnv("llm.api_key", "SHERPA_API_KEY")
	v.BindEnv("database.url", "SHERPA_DB_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Propagate a router-wide API key into models that carry none.
	if key := v.GetString("llm.api_key"); key != "" {
		for name, m := range cfg.LLM.Models {
			if m.APIKey == "" {
				m.APIKey = key
				cfg.LLM.Models[name] = m
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Guide.SubstepTarget < 1 {
		return fmt.Errorf("guide.substep_target must be at least 1")
	}
	if c.Guide.ModelTimeout <= 0 {
		return fmt.Errorf("guide.model_timeout must be a positive duration")
	}
	switch c.Capture.Mode {
	case CaptureSynthetic, CaptureBrowser:
	default:
		return fmt.Errorf("capture.mode must be %q or %q, got %q", CaptureSynthetic, CaptureBrowser, c.Capture.Mode)
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be positive")
	}
	if c.Capture.Mode == CaptureBrowser && c.Capture.TargetURL == "" {
		return fmt.Errorf("capture.target_url is required when capture.mode is %q", CaptureBrowser)
	}
	if c.Database.Enabled && c.Database.URL == "" {
		return fmt.Errorf("database.url is required when database.enabled is true")
	}
	if c.LLM.DefaultFastModel == "" || c.LLM.DefaultPowerfulModel == "" {
		return fmt.Errorf("llm.default_fast_model and llm.default_powerful_model are required")
	}
	for _, name := range []string{c.LLM.DefaultFastModel, c.LLM.DefaultPowerfulModel} {
		if _, ok := c.LLM.Models[name]; !ok {
			return fmt.Errorf("llm.models is missing an entry for %q", name)
		}
	}
	return nil
}
