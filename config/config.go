// Package config loads codeport settings from the environment, an optional
// .env file and an optional YAML prompts file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/codeport/agentloop"
)

// Config holds everything the codeport binary reads from its environment.
type Config struct {
	Model    string `env:"MODEL" validate:"required"`
	Provider string `env:"PROVIDER" envDefault:"openai" validate:"required"`

	// OpenAIAPIKey falls back to OPENAI_KEY when unset.
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" validate:"omitempty,url"`
	// APIKey is passed to non-OpenAI providers. Empty lets gollm read its
	// own provider variables.
	APIKey string `env:"LLM_API_KEY"`

	TargetLanguage    string        `env:"TARGET_LANGUAGE" envDefault:"Rust" validate:"required"`
	BuildCheckCommand string        `env:"BUILD_CHECK_COMMAND" envDefault:"cargo check --quiet" validate:"required"`
	BuildCheckTimeout time.Duration `env:"BUILD_CHECK_TIMEOUT" envDefault:"5m" validate:"gte=0"`

	MaxFixIterations int    `env:"MAX_FIX_ITERATIONS" envDefault:"0" validate:"gte=0"`
	MaxToolRounds    int    `env:"MAX_TOOL_ROUNDS" envDefault:"0" validate:"gte=0"`
	DispatchErrors   string `env:"DISPATCH_ERRORS" envDefault:"fatal" validate:"oneof=fatal feedback"`
	MaxRetries       int    `env:"MAX_RETRIES" envDefault:"2" validate:"gte=0,lte=10"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	PromptsFile string `env:"PROMPTS_FILE"`
}

// Load reads envFile (a missing file is ignored), then parses and validates
// the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_KEY")
	}
	cfg.Provider = strings.ToLower(cfg.Provider)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DispatchPolicy returns the session dispatch policy.
func (c *Config) DispatchPolicy() agentloop.DispatchPolicy {
	if c.DispatchErrors == string(agentloop.DispatchFeedback) {
		return agentloop.DispatchFeedback
	}
	return agentloop.DispatchFatal
}

// Prompts returns the porting prompts for the target language. Fields
// missing from PromptsFile keep their defaults.
func (c *Config) Prompts() (agentloop.Prompts, error) {
	prompts := agentloop.DefaultPrompts()
	if c.PromptsFile != "" {
		loaded, err := LoadPrompts(c.PromptsFile)
		if err != nil {
			return agentloop.Prompts{}, err
		}
		prompts = loaded.Merge(prompts)
	}
	return prompts.ForLanguage(c.TargetLanguage), nil
}

// LoadPrompts reads a YAML prompts file with the keys system, analyze,
// create and fix_prefix.
func LoadPrompts(path string) (agentloop.Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return agentloop.Prompts{}, fmt.Errorf("read prompts: %w", err)
	}
	var p agentloop.Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return agentloop.Prompts{}, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	return p, nil
}
