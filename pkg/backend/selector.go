package backend

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// Options configures backend selection. An empty Kind means probe the
// environment in the fixed priority order documented on Select.
type Options struct {
	Kind       string // anthropic, openai, ollama, cli
	Credential string
	Model      string
	Endpoint   string
	CLIPath    string
}

// Select resolves a completion backend. Explicit configuration wins; with no
// Kind set the environment is probed in a fixed order:
//
//  1. ANTHROPIC_API_KEY present       -> anthropic
//  2. OPENAI_API_KEY present          -> openai
//  3. local Ollama daemon reachable   -> ollama
//  4. local CLI tool on PATH          -> cli
//
// Selection is deterministic for an identical environment. When nothing
// resolves, the returned *ConfigurationError names every attempted option.
func Select(opts Options) (Backend, error) {
	if opts.Kind != "" {
		return selectExplicit(opts)
	}

	var attempted []string

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		log.Debug().Msg("Selected anthropic backend from environment")
		return NewAnthropicBackend(key, opts.Model), nil
	}
	attempted = append(attempted, "anthropic (ANTHROPIC_API_KEY unset)")

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		log.Debug().Msg("Selected openai backend from environment")
		return NewOpenAIBackend(key, opts.Model), nil
	}
	attempted = append(attempted, "openai (OPENAI_API_KEY unset)")

	ollama := NewOllamaBackend(opts.Endpoint, opts.Model)
	if ollama.IsConfigured() {
		log.Debug().Str("endpoint", ollama.endpoint).Msg("Selected ollama backend from liveness probe")
		return ollama, nil
	}
	attempted = append(attempted, fmt.Sprintf("ollama (%s unreachable)", ollama.endpoint))

	cli := NewCLIBackend(opts.CLIPath, opts.Model)
	if cli.IsConfigured() {
		log.Debug().Str("command", cli.command).Msg("Selected cli backend from PATH")
		return cli, nil
	}
	attempted = append(attempted, fmt.Sprintf("cli (%s not on PATH)", cli.command))

	return nil, &ConfigurationError{Attempted: attempted}
}

func selectExplicit(opts Options) (Backend, error) {
	var b Backend

	switch opts.Kind {
	case "anthropic":
		key := opts.Credential
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		b = NewAnthropicBackend(key, opts.Model)
	case "openai":
		key := opts.Credential
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		b = NewOpenAIBackend(key, opts.Model)
	case "ollama":
		b = NewOllamaBackend(opts.Endpoint, opts.Model)
	case "cli":
		b = NewCLIBackend(opts.CLIPath, opts.Model)
	default:
		return nil, &ConfigurationError{Attempted: []string{fmt.Sprintf("%s (unknown backend kind)", opts.Kind)}}
	}

	if !b.IsConfigured() {
		return nil, &ConfigurationError{Attempted: []string{fmt.Sprintf("%s (explicitly configured, not usable)", opts.Kind)}}
	}
	return b, nil
}
