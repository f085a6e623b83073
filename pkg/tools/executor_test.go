package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjohannesb/majordomo/pkg/backend"
)

func TestExecutor_Execute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoRegistration()))
	e := NewExecutor(r, nil)

	result := e.Execute(context.Background(), backend.ToolCall{
		ID:    "toolu_01",
		Name:  "echo",
		Input: map[string]interface{}{"text": "hello"},
	})

	require.NoError(t, result.Err)
	assert.Equal(t, "hello", result.Output)
	assert.False(t, result.Truncated)
}

func TestExecutor_Execute_UnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry(), nil)

	result := e.Execute(context.Background(), backend.ToolCall{Name: "missing"})

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "tool not found")
}

func TestExecutor_Execute_ValidationFailure(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoRegistration()))
	e := NewExecutor(r, nil)

	tests := []struct {
		name  string
		input map[string]interface{}
	}{
		{name: "missing required parameter", input: map[string]interface{}{}},
		{name: "wrong parameter type", input: map[string]interface{}{"text": 42}},
		{name: "unknown parameter", input: map[string]interface{}{"text": "hi", "extra": true}},
		{name: "nil input with required parameter", input: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Execute(context.Background(), backend.ToolCall{Name: "echo", Input: tt.input})

			require.Error(t, result.Err)
			assert.Contains(t, result.Err.Error(), "validation")
		})
	}
}

func TestExecutor_Execute_HandlerError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{
		Definition: backend.ToolDefinition{Name: "email_send", Description: "Sends an email"},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			return "", errors.New("smtp connection refused")
		},
	}))
	e := NewExecutor(r, nil)

	result := e.Execute(context.Background(), backend.ToolCall{Name: "email_send"})

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "smtp connection refused")
}

func TestExecutor_Execute_Panic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{
		Definition: backend.ToolDefinition{Name: "crash", Description: "Always panics"},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			panic("boom")
		},
	}))
	e := NewExecutor(r, nil)

	result := e.Execute(context.Background(), backend.ToolCall{Name: "crash"})

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "panicked")
	assert.Contains(t, result.Err.Error(), "boom")
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{
		Definition: backend.ToolDefinition{Name: "slow", Description: "Sleeps past the deadline"},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "too late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}))
	e := NewExecutor(r, nil)
	e.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	result := e.Execute(context.Background(), backend.ToolCall{Name: "slow"})

	require.Error(t, result.Err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutor_Execute_TruncatesLargeOutput(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{
		Definition: backend.ToolDefinition{Name: "big", Description: "Returns a large payload"},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			return strings.Repeat("x", maxOutputSize+100), nil
		},
	}))
	e := NewExecutor(r, nil)

	result := e.Execute(context.Background(), backend.ToolCall{Name: "big"})

	require.NoError(t, result.Err)
	assert.True(t, result.Truncated)
	assert.Contains(t, result.Output, "[output truncated]")
}

func TestExecutor_Execute_RequiresApproval(t *testing.T) {
	reg := Registration{
		Definition:       backend.ToolDefinition{Name: "gated", Description: "Needs approval"},
		Handler:          func(ctx context.Context, input map[string]interface{}) (string, error) { return "ok", nil },
		RequiresApproval: true,
	}

	t.Run("should fail with an approval code until approved", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(reg))
		ps, err := NewPendingStore(PendingStoreOptions{})
		require.NoError(t, err)
		defer ps.Stop()
		e := NewExecutor(r, ps)

		result := e.Execute(context.Background(), backend.ToolCall{Name: "gated"})
		require.Error(t, result.Err)
		assert.Contains(t, result.Err.Error(), "requires approval")

		pending := ps.Pending()
		require.Len(t, pending, 1)
		_, err = ps.Approve(pending[0].Code)
		require.NoError(t, err)

		result = e.Execute(context.Background(), backend.ToolCall{Name: "gated"})
		require.NoError(t, result.Err)
		assert.Equal(t, "ok", result.Output)
	})

	t.Run("should fail when no approval store is configured", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(reg))
		e := NewExecutor(r, nil)

		result := e.Execute(context.Background(), backend.ToolCall{Name: "gated"})

		require.Error(t, result.Err)
	})
}
