package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the environment driven configuration for the conversation store.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"convstore"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Store
	DBPath string `env:"CONVSTORE_DB_PATH" envDefault:"convstore.db"`
	Atomic bool   `env:"CONVSTORE_ATOMIC" envDefault:"true"`
	UserID string `env:"CONVSTORE_USER_ID" envDefault:"local"`

	// Query cache
	CacheTTL     time.Duration `env:"CONVSTORE_CACHE_TTL" envDefault:"5m"`
	CacheCleanup time.Duration `env:"CONVSTORE_CACHE_CLEANUP" envDefault:"10m"`

	// Retry of transient store errors
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"200ms"`
	RetryMaxElapsed      time.Duration `env:"RETRY_MAX_ELAPSED" envDefault:"5s"`

	Agent AgentConfig
}

// AgentConfig configures the OpenAI-compatible responder.
type AgentConfig struct {
	APIKey          string `env:"OPENAI_API_KEY"`
	BaseURL         string `env:"OPENAI_BASE_URL"`
	Model           string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	SystemPrompt    string `env:"AGENT_SYSTEM_PROMPT"`
	AttachmentLimit int    `env:"AGENT_ATTACHMENT_LIMIT" envDefault:"16384"`
}

// Load parses environment variables into Config.
//
// Configuration Loading Order (highest to lowest priority):
// 1. Environment variables
// 2. .env file (if present)
// 3. Default values from struct tags
func Load() (*Config, error) {
	LoadEnvFiles(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("CONVSTORE_DB_PATH must not be empty")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("CONVSTORE_USER_ID must not be empty")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CONVSTORE_CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.Agent.AttachmentLimit < 0 {
		return fmt.Errorf("AGENT_ATTACHMENT_LIMIT must not be negative")
	}
	return nil
}

// AgentEnabled reports whether an API key is configured.
func (c *Config) AgentEnabled() bool {
	return strings.TrimSpace(c.Agent.APIKey) != ""
}

// LoadEnvFiles loads the first existing files into the environment without
// overriding variables that are already set.
func LoadEnvFiles(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
