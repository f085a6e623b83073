package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unprobeable options make every environment probe fail fast so selection
// depends only on the variables each test sets.
func unprobeable() Options {
	return Options{
		Endpoint: "http://127.0.0.1:1",
		CLIPath:  "definitely-not-a-real-command",
	}
}

func clearBackendEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
}

func TestSelect_ExplicitKindWins(t *testing.T) {
	clearBackendEnv(t)
	// Environment probing would pick anthropic here; explicit config wins.
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	opts := unprobeable()
	opts.Kind = "openai"
	opts.Credential = "sk-test"
	b, err := Select(opts)

	require.NoError(t, err)
	assert.Equal(t, "openai", b.Name())
}

func TestSelect_ExplicitKindNotUsable(t *testing.T) {
	clearBackendEnv(t)

	opts := unprobeable()
	opts.Kind = "cli"
	_, err := Select(opts)

	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSelect_AnthropicBeforeOpenAI(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	b, err := Select(unprobeable())

	require.NoError(t, err)
	assert.Equal(t, "anthropic", b.Name())
}

func TestSelect_OpenAIWhenAnthropicUnset(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	b, err := Select(unprobeable())

	require.NoError(t, err)
	assert.Equal(t, "openai", b.Name())
}

func TestSelect_NothingResolvableNamesAllAttempts(t *testing.T) {
	clearBackendEnv(t)

	_, err := Select(unprobeable())

	require.Error(t, err)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Attempted, 4)
	assert.Contains(t, err.Error(), "anthropic")
	assert.Contains(t, err.Error(), "openai")
	assert.Contains(t, err.Error(), "ollama")
	assert.Contains(t, err.Error(), "cli")
}

func TestSelect_Deterministic(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	for i := 0; i < 10; i++ {
		b, err := Select(unprobeable())
		require.NoError(t, err)
		assert.Equal(t, "openai", b.Name())
	}
}

func TestSelect_ExplicitUnknownKind(t *testing.T) {
	clearBackendEnv(t)

	opts := unprobeable()
	opts.Kind = "gemini"
	_, err := Select(opts)

	assert.Error(t, err)
}
