package backend

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCLI writes a shell script standing in for the local CLI tool.
func fakeCLI(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}

	path := filepath.Join(t.TempDir(), "fake-llm")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestCLIBackend_IsConfigured(t *testing.T) {
	t.Run("should find a tool on PATH", func(t *testing.T) {
		b := NewCLIBackend("sh", "")
		assert.True(t, b.IsConfigured())
	})

	t.Run("should not find a missing tool", func(t *testing.T) {
		b := NewCLIBackend("definitely-not-a-real-command", "")
		assert.False(t, b.IsConfigured())
	})
}

func TestCLIBackend_Complete(t *testing.T) {
	b := NewCLIBackend(fakeCLI(t, `echo "the answer"`), "")

	resp, err := b.Complete(context.Background(), CompletionRequest{
		Messages: []Message{UserMessage("question")},
	})

	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.TextContent())
	assert.Equal(t, StopEndTurn, resp.StopReason)
}

func TestCLIBackend_Complete_Failure(t *testing.T) {
	b := NewCLIBackend(fakeCLI(t, `echo "model not found" >&2; exit 1`), "")

	_, err := b.Complete(context.Background(), CompletionRequest{
		Messages: []Message{UserMessage("question")},
	})

	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Contains(t, err.Error(), "model not found")
}

func TestCLIBackend_Stream_ReplaysCompletion(t *testing.T) {
	b := NewCLIBackend(fakeCLI(t, `echo "replayed text"`), "")

	events, err := b.Stream(context.Background(), CompletionRequest{
		Messages: []Message{UserMessage("question")},
	})
	require.NoError(t, err)

	got := collect(events)
	require.Len(t, got, 2)
	assert.Equal(t, EventText, got[0].Type)
	assert.Equal(t, "replayed text", got[0].Text)
	assert.Equal(t, EventDone, got[1].Type)
}

func TestCLIBackend_Stream_ErrorStillTerminatesWithDone(t *testing.T) {
	b := NewCLIBackend(fakeCLI(t, `exit 1`), "")

	events, err := b.Stream(context.Background(), CompletionRequest{
		Messages: []Message{UserMessage("question")},
	})
	require.NoError(t, err)

	got := collect(events)
	require.Len(t, got, 2)
	assert.Equal(t, EventError, got[0].Type)
	assert.Equal(t, EventDone, got[1].Type)
}

func TestCLIBackend_Stream_CancelledContextStillTerminatesWithDone(t *testing.T) {
	b := NewCLIBackend(fakeCLI(t, `sleep 10`), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := b.Stream(ctx, CompletionRequest{
		Messages: []Message{UserMessage("question")},
	})
	require.NoError(t, err)

	got := collect(events)
	require.NotEmpty(t, got)
	assert.Equal(t, EventError, got[0].Type)
	assert.Equal(t, EventDone, got[len(got)-1].Type)
}

func TestRenderPrompt(t *testing.T) {
	req := CompletionRequest{
		Messages: []Message{
			UserMessage("list channels"),
			{
				Role: RoleAssistant,
				Content: []ContentBlock{
					TextBlock("checking"),
					ToolUseBlock("toolu_01", "slack_list_channels", map[string]interface{}{}),
				},
			},
			{
				Role: RoleUser,
				Content: []ContentBlock{
					ToolResultBlock("toolu_01", `["#general"]`, false),
				},
			},
		},
	}

	prompt := renderPrompt(req)

	assert.Contains(t, prompt, "User: list channels")
	assert.Contains(t, prompt, "Assistant: checking")
	assert.Contains(t, prompt, "[tool result toolu_01]")
	assert.True(t, len(prompt) > 0 && prompt[len(prompt)-len("Assistant:"):] == "Assistant:")
}
