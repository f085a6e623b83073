package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_MarshalJSON(t *testing.T) {
	t.Run("should write single text block content as a plain string", func(t *testing.T) {
		data, err := json.Marshal(UserMessage("hello"))
		require.NoError(t, err)

		assert.JSONEq(t, `{"role":"user","content":"hello"}`, string(data))
	})

	t.Run("should write mixed content as a block array", func(t *testing.T) {
		msg := Message{
			Role: RoleAssistant,
			Content: []ContentBlock{
				TextBlock("checking"),
				ToolUseBlock("toolu_01", "echo", map[string]interface{}{"text": "hi"}),
			},
		}

		data, err := json.Marshal(msg)
		require.NoError(t, err)

		var raw struct {
			Content []map[string]interface{} `json:"content"`
		}
		require.NoError(t, json.Unmarshal(data, &raw))
		require.Len(t, raw.Content, 2)
		assert.Equal(t, "text", raw.Content[0]["type"])
		assert.Equal(t, "tool_use", raw.Content[1]["type"])
	})
}

func TestMessage_UnmarshalJSON(t *testing.T) {
	t.Run("should accept plain string content", func(t *testing.T) {
		var msg Message
		require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &msg))

		assert.Equal(t, RoleUser, msg.Role)
		require.Len(t, msg.Content, 1)
		assert.Equal(t, "hello", msg.Content[0].Text)
	})

	t.Run("should accept block array content", func(t *testing.T) {
		raw := `{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"ok","is_error":true}]}`

		var msg Message
		require.NoError(t, json.Unmarshal([]byte(raw), &msg))

		require.Len(t, msg.Content, 1)
		assert.Equal(t, BlockToolResult, msg.Content[0].Type)
		assert.Equal(t, "toolu_01", msg.Content[0].ToolUseID)
		assert.True(t, msg.Content[0].IsError)
	})

	t.Run("should reject content that is neither string nor array", func(t *testing.T) {
		var msg Message
		err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &msg)

		assert.Error(t, err)
	})

	t.Run("should round-trip mixed content", func(t *testing.T) {
		original := Message{
			Role: RoleAssistant,
			Content: []ContentBlock{
				TextBlock("one moment"),
				ToolUseBlock("toolu_01", "slack_list_channels", map[string]interface{}{"limit": float64(5)}),
			},
		}

		data, err := json.Marshal(original)
		require.NoError(t, err)
		var decoded Message
		require.NoError(t, json.Unmarshal(data, &decoded))

		assert.Equal(t, original, decoded)
	})
}

func TestToolDefinition_InputSchema(t *testing.T) {
	def := ToolDefinition{
		Name:        "echo",
		Description: "Echoes text",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
			{Name: "upper", Type: "boolean", Description: "Uppercase the result"},
		},
	}

	schema := def.InputSchema()

	assert.Equal(t, "object", schema["type"])
	properties := schema["properties"].(map[string]interface{})
	assert.Contains(t, properties, "text")
	assert.Contains(t, properties, "upper")
	assert.Equal(t, []string{"text"}, schema["required"])
}

func TestCompletionResponse(t *testing.T) {
	resp := &CompletionResponse{
		Content: []ContentBlock{
			TextBlock("hello "),
			TextBlock("world"),
			ToolUseBlock("toolu_01", "echo", map[string]interface{}{}),
		},
		StopReason: StopToolUse,
	}

	assert.Equal(t, "hello world", resp.TextContent())
	require.Len(t, resp.ToolCalls(), 1)
	assert.Equal(t, "echo", resp.ToolCalls()[0].Name)
}
