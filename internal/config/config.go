package config

import (
	"fmt"
)

// Config represents the main Majordomo configuration
type Config struct {
	// Backend selection
	Backend BackendConfig `json:"backend" mapstructure:"backend"`

	// Agent loop settings
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Sessions directory (defaults to <data_dir>/sessions)
	SessionsDir string `json:"sessions_dir" mapstructure:"sessions_dir"`
}

// BackendConfig selects and configures a completion backend.
// Kind is empty for environment probing.
type BackendConfig struct {
	Kind       string `json:"kind" mapstructure:"kind"` // anthropic, openai, ollama, cli
	AuthMode   string `json:"auth_mode" mapstructure:"auth_mode"`
	Credential string `json:"credential" mapstructure:"credential"`
	Model      string `json:"model" mapstructure:"model"`
	Endpoint   string `json:"endpoint" mapstructure:"endpoint"`
	CLIPath    string `json:"cli_path" mapstructure:"cli_path"`
}

// AgentConfig holds agent loop configuration
type AgentConfig struct {
	MaxTurns  int  `json:"max_turns" mapstructure:"max_turns"`
	MaxTokens int  `json:"max_tokens" mapstructure:"max_tokens"`
	Streaming bool `json:"streaming" mapstructure:"streaming"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxTurns:  10,
			MaxTokens: 4096,
			Streaming: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    false,
			Redaction: true,
		},
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case "", "anthropic", "openai", "ollama", "cli":
	default:
		return fmt.Errorf("unknown backend kind: %q", c.Backend.Kind)
	}

	if c.Agent.MaxTurns < 0 {
		return fmt.Errorf("max_turns cannot be negative")
	}
	if c.Agent.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}

	return nil
}
