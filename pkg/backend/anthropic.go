package backend

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
)

// DefaultAnthropicModel is used when the request does not name a model.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicBackend implements Backend for the Anthropic Messages API.
// It streams tokens natively; tool-call arguments arrive as successive
// input_json_delta fragments per content-block index and are reassembled
// when the block stops.
type AnthropicBackend struct {
	client anthropic.Client
	apiKey string
	model  string
}

// NewAnthropicBackend creates a new Anthropic backend adapter
func NewAnthropicBackend(apiKey, model string) *AnthropicBackend {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		apiKey: apiKey,
		model:  model,
	}
}

// Name returns the backend identifier
func (b *AnthropicBackend) Name() string {
	return "anthropic"
}

// IsConfigured reports whether an API key is present
func (b *AnthropicBackend) IsConfigured() bool {
	return b.apiKey != ""
}

func (b *AnthropicBackend) buildParams(req CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = b.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  anthropicMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			schema := tool.InputSchema()
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
				},
			}
			if required, ok := schema["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	return params
}

func anthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch block.Type {
			case BlockText:
				if block.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(block.Text))
				}
			case BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(block.ID, block.Input, block.Name))
			case BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	return out
}

func mapAnthropicStopReason(reason string) StopReason {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "end_turn", "stop_sequence":
		return StopEndTurn
	default:
		return StopEndTurn
	}
}

// Complete runs a buffered completion against the Messages API
func (b *AnthropicBackend) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	response, err := b.client.Messages.New(ctx, b.buildParams(req))
	if err != nil {
		return nil, &TransportError{Backend: b.Name(), Err: err}
	}

	var content []ContentBlock
	for _, block := range response.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, TextBlock(v.Text))
		case anthropic.ToolUseBlock:
			content = append(content, ToolUseBlock(v.ID, v.Name, parseToolInput(b.Name(), v.Name, string(v.JSON.Input.Raw()))))
		}
	}

	return &CompletionResponse{
		Content:    content,
		StopReason: mapAnthropicStopReason(string(response.StopReason)),
	}, nil
}

// Stream runs a streaming completion, forwarding text deltas as they arrive
// and reassembling tool calls from input_json_delta fragments.
func (b *AnthropicBackend) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	events := make(chan StreamEvent)

	go func() {
		defer close(events)

		emit := func(ev StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		// Terminal events are delivered unconditionally, even after
		// cancellation: the contract promises a done event before close and
		// the consumer owns draining.
		finish := func(errMsg string) {
			if errMsg != "" {
				events <- StreamEvent{Type: EventError, Err: errMsg}
			}
			events <- StreamEvent{Type: EventDone}
		}

		stream := b.client.Messages.NewStreaming(ctx, b.buildParams(req))

		type partialToolUse struct {
			id   string
			name string
			args strings.Builder
		}
		partials := make(map[int64]*partialToolUse)

		for stream.Next() {
			event := stream.Current()

			switch v := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if v.ContentBlock.Type != "tool_use" {
					continue
				}
				pc := &partialToolUse{id: v.ContentBlock.ID, name: v.ContentBlock.Name}
				partials[v.Index] = pc

			case anthropic.ContentBlockDeltaEvent:
				switch delta := v.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					if !emit(StreamEvent{Type: EventText, Text: delta.Text}) {
						finish(ctx.Err().Error())
						return
					}
				case anthropic.InputJSONDelta:
					if pc := partials[v.Index]; pc != nil {
						pc.args.WriteString(delta.PartialJSON)
					}
				}

			case anthropic.ContentBlockStopEvent:
				pc := partials[v.Index]
				if pc == nil {
					continue
				}
				delete(partials, v.Index)
				call := &ToolCall{
					ID:    pc.id,
					Name:  pc.name,
					Input: parseToolInput(b.Name(), pc.name, pc.args.String()),
				}
				if !emit(StreamEvent{Type: EventToolUse, ToolCall: call}) {
					finish(ctx.Err().Error())
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			finish(err.Error())
			return
		}
		finish("")
	}()

	return events, nil
}

// parseToolInput parses accumulated tool-call argument JSON. An unparseable
// buffer degrades to an empty input object rather than failing the stream.
func parseToolInput(backend, tool, raw string) map[string]interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}
	}

	var input map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &input); err != nil || input == nil {
		log.Warn().
			Str("backend", backend).
			Str("tool", tool).
			Msg("Malformed tool input fragment, using empty input")
		return map[string]interface{}{}
	}
	return input
}
