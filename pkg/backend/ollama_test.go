package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaBackend_IsConfigured(t *testing.T) {
	t.Run("should be configured when the daemon answers the tags probe", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/tags", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		b := NewOllamaBackend(server.URL, "")
		assert.True(t, b.IsConfigured())
	})

	t.Run("should not be configured when the daemon is unreachable", func(t *testing.T) {
		b := NewOllamaBackend("http://127.0.0.1:1", "")
		assert.False(t, b.IsConfigured())
	})
}

func TestOllamaBackend_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var chatReq ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&chatReq))
		assert.False(t, chatReq.Stream)
		require.NotEmpty(t, chatReq.Messages)
		assert.Equal(t, "system", chatReq.Messages[0].Role)

		resp := ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "hello back"},
			Done:    true,
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	b := NewOllamaBackend(server.URL, "llama3.1")
	resp, err := b.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []Message{UserMessage("hello")},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.TextContent())
	assert.Equal(t, StopEndTurn, resp.StopReason)
}

func TestOllamaBackend_Complete_ToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var chatReq ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&chatReq))
		require.Len(t, chatReq.Tools, 1)
		assert.Equal(t, "echo", chatReq.Tools[0].Function.Name)

		resp := ollamaChatResponse{
			Message: ollamaMessage{
				Role: "assistant",
				ToolCalls: []ollamaToolCall{
					{Function: ollamaFunction{Name: "echo", Arguments: map[string]interface{}{"text": "hi"}}},
				},
			},
			Done: true,
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	b := NewOllamaBackend(server.URL, "")
	resp, err := b.Complete(context.Background(), CompletionRequest{
		Messages: []Message{UserMessage("echo hi")},
		Tools: []ToolDefinition{
			{Name: "echo", Description: "Echoes text", Parameters: []Parameter{
				{Name: "text", Type: "string", Description: "Text", Required: true},
			}},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, StopToolUse, resp.StopReason)
	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].Name)
	assert.Equal(t, "hi", calls[0].Input["text"])
	assert.NotEmpty(t, calls[0].ID)
}

func TestOllamaBackend_Complete_TransportError(t *testing.T) {
	t.Run("should wrap connection failures", func(t *testing.T) {
		b := NewOllamaBackend("http://127.0.0.1:1", "")

		_, err := b.Complete(context.Background(), CompletionRequest{Messages: []Message{UserMessage("hi")}})

		require.Error(t, err)
		assert.True(t, IsTransport(err))
	})

	t.Run("should wrap non-200 responses", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		b := NewOllamaBackend(server.URL, "")
		_, err := b.Complete(context.Background(), CompletionRequest{Messages: []Message{UserMessage("hi")}})

		require.Error(t, err)
		assert.True(t, IsTransport(err))
		assert.Contains(t, err.Error(), "500")
	})
}

func TestOllamaBackend_Stream(t *testing.T) {
	t.Run("should decode NDJSON chunks and terminate with done", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var chatReq ollamaChatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&chatReq))
			assert.True(t, chatReq.Stream)

			enc := json.NewEncoder(w)
			require.NoError(t, enc.Encode(ollamaChatResponse{Message: ollamaMessage{Content: "hel"}}))
			require.NoError(t, enc.Encode(ollamaChatResponse{Message: ollamaMessage{Content: "lo"}}))
			require.NoError(t, enc.Encode(ollamaChatResponse{Done: true}))
		}))
		defer server.Close()

		b := NewOllamaBackend(server.URL, "")
		events, err := b.Stream(context.Background(), CompletionRequest{Messages: []Message{UserMessage("hi")}})
		require.NoError(t, err)

		got := collect(events)
		require.Len(t, got, 3)
		assert.Equal(t, "hel", got[0].Text)
		assert.Equal(t, "lo", got[1].Text)
		assert.Equal(t, EventDone, got[2].Type)
	})

	t.Run("should emit error then done when the daemon is unreachable", func(t *testing.T) {
		b := NewOllamaBackend("http://127.0.0.1:1", "")

		events, err := b.Stream(context.Background(), CompletionRequest{Messages: []Message{UserMessage("hi")}})
		require.NoError(t, err)

		got := collect(events)
		require.Len(t, got, 2)
		assert.Equal(t, EventError, got[0].Type)
		assert.Equal(t, EventDone, got[1].Type)
	})

	t.Run("should still terminate with done when the context is cancelled mid-stream", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			enc := json.NewEncoder(w)
			require.NoError(t, enc.Encode(ollamaChatResponse{Message: ollamaMessage{Content: "hel"}}))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}))
		defer server.Close()

		b := NewOllamaBackend(server.URL, "")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		events, err := b.Stream(ctx, CompletionRequest{Messages: []Message{UserMessage("hi")}})
		require.NoError(t, err)

		first := <-events
		assert.Equal(t, EventText, first.Type)

		cancel()
		time.Sleep(200 * time.Millisecond)

		var sawError bool
		last := first
		for ev := range events {
			last = ev
			if ev.Type == EventError {
				sawError = true
			}
		}
		assert.True(t, sawError)
		assert.Equal(t, EventDone, last.Type)
	})

	t.Run("should deliver tool calls whole", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			enc := json.NewEncoder(w)
			require.NoError(t, enc.Encode(ollamaChatResponse{
				Message: ollamaMessage{ToolCalls: []ollamaToolCall{
					{Function: ollamaFunction{Name: "echo", Arguments: map[string]interface{}{"text": "hi"}}},
				}},
			}))
			require.NoError(t, enc.Encode(ollamaChatResponse{Done: true}))
		}))
		defer server.Close()

		b := NewOllamaBackend(server.URL, "")
		events, err := b.Stream(context.Background(), CompletionRequest{Messages: []Message{UserMessage("hi")}})
		require.NoError(t, err)

		got := collect(events)
		require.Len(t, got, 2)
		assert.Equal(t, EventToolUse, got[0].Type)
		assert.Equal(t, "echo", got[0].ToolCall.Name)
		assert.Equal(t, EventDone, got[1].Type)
	})
}

func TestOllamaBackend_BuildRequest(t *testing.T) {
	b := NewOllamaBackend("", "llama3.1")

	req := CompletionRequest{
		SystemPrompt: "be brief",
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

	chatReq := b.buildRequest(req, true)

	require.Len(t, chatReq.Messages, 4)
	assert.Equal(t, "system", chatReq.Messages[0].Role)
	assert.Equal(t, "user", chatReq.Messages[1].Role)
	assert.Equal(t, "assistant", chatReq.Messages[2].Role)
	require.Len(t, chatReq.Messages[2].ToolCalls, 1)
	assert.Equal(t, "tool", chatReq.Messages[3].Role)
	assert.Equal(t, `["#general"]`, chatReq.Messages[3].Content)
}
