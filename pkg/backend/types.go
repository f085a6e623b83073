package backend

import (
	"encoding/json"
	"fmt"
)

// Message roles. The canonical model only knows user and assistant turns;
// tool results travel inside user messages as tool_result blocks.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is a tagged union of text, tool_use and tool_result blocks.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text content block
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use content block
func ToolUseBlock(id, name string, input map[string]interface{}) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result content block
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is a single conversation turn. Content is an ordered block sequence;
// plain-string content is accepted on input and normalized into one text block.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserMessage builds a user message with a single text block
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// AssistantMessage builds an assistant message with a single text block
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{TextBlock(text)}}
}

// TextContent concatenates the text of all text blocks in the message
func (m Message) TextContent() string {
	out := ""
	for _, block := range m.Content {
		if block.Type == BlockText {
			out += block.Text
		}
	}
	return out
}

// ToolCalls returns the tool_use blocks of the message as tool calls
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, block := range m.Content {
		if block.Type == BlockToolUse {
			calls = append(calls, ToolCall{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	return calls
}

type messageJSON struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentJSON renders the message content for the wire: a plain string for
// single-text-block content, a block array for everything else.
func (m Message) ContentJSON() (json.RawMessage, error) {
	if len(m.Content) == 1 && m.Content[0].Type == BlockText {
		return json.Marshal(m.Content[0].Text)
	}
	return json.Marshal(m.Content)
}

// MarshalJSON writes single-text-block content as a plain string and
// everything else as a block array.
func (m Message) MarshalJSON() ([]byte, error) {
	content, err := m.ContentJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{Role: m.Role, Content: content})
}

// UnmarshalJSON accepts content as either a plain string or a block array.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Role = raw.Role
	m.Content = nil
	if len(raw.Content) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw.Content, &text); err == nil {
		m.Content = []ContentBlock{TextBlock(text)}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw.Content, &blocks); err != nil {
		return fmt.Errorf("message content is neither string nor block array: %w", err)
	}
	m.Content = blocks
	return nil
}

// Parameter describes one tool parameter
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
}

// ToolDefinition describes one tool exposed to the completion backend
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// InputSchema renders the parameter list as a JSON-schema object
func (t ToolDefinition) InputSchema() map[string]interface{} {
	properties := make(map[string]interface{})
	var required []string

	for _, param := range t.Parameters {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToolCall is a structured tool invocation request from the backend
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// StreamEventType identifies a canonical stream event
type StreamEventType string

const (
	EventText    StreamEventType = "text"
	EventToolUse StreamEventType = "tool_use"
	EventError   StreamEventType = "error"
	EventDone    StreamEventType = "done"
)

// StreamEvent is the backend-agnostic unit of streamed output. Every stream
// terminates with exactly one done event, even after an error event.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ToolCall *ToolCall       `json:"tool_call,omitempty"`
	Err      string          `json:"error,omitempty"`
}

// StopReason explains why a completion ended
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// CompletionRequest is the canonical completion request
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	Tools        []ToolDefinition
	Model        string
	MaxTokens    int
}

// CompletionResponse is the canonical completion response
type CompletionResponse struct {
	Content    []ContentBlock
	StopReason StopReason
}

// TextContent concatenates the text of all text blocks in the response
func (r *CompletionResponse) TextContent() string {
	out := ""
	for _, block := range r.Content {
		if block.Type == BlockText {
			out += block.Text
		}
	}
	return out
}

// ToolCalls returns the tool_use blocks of the response as tool calls
func (r *CompletionResponse) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, block := range r.Content {
		if block.Type == BlockToolUse {
			calls = append(calls, ToolCall{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	return calls
}
