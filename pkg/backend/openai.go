package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when the request does not name a model.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIBackend implements Backend for the OpenAI chat completions API.
// Streamed tool-call arguments arrive as partial JSON fragments keyed by
// tool-call index; they are buffered and parsed once the stream finishes.
type OpenAIBackend struct {
	client openai.Client
	apiKey string
	model  string
}

// NewOpenAIBackend creates a new OpenAI backend adapter
func NewOpenAIBackend(apiKey, model string) *OpenAIBackend {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIBackend{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		apiKey: apiKey,
		model:  model,
	}
}

// Name returns the backend identifier
func (b *OpenAIBackend) Name() string {
	return "openai"
}

// IsConfigured reports whether an API key is present
func (b *OpenAIBackend) IsConfigured() bool {
	return b.apiKey != ""
}

func (b *OpenAIBackend) buildParams(req CompletionRequest) (openai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = b.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			// Tool results ride in user messages canonically; OpenAI wants
			// them as distinct tool-role messages.
			var text string
			for _, block := range msg.Content {
				switch block.Type {
				case BlockText:
					text += block.Text
				case BlockToolResult:
					messages = append(messages, openai.ToolMessage(block.Content, block.ToolUseID))
				}
			}
			if text != "" {
				messages = append(messages, openai.UserMessage(text))
			}

		case RoleAssistant:
			calls := msg.ToolCalls()
			if len(calls) == 0 {
				if text := msg.TextContent(); text != "" {
					messages = append(messages, openai.AssistantMessage(text))
				}
				continue
			}

			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
			for _, call := range calls {
				args, err := json.Marshal(call.Input)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool input: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}

			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if text := msg.TextContent(); text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.InputSchema()),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}

func mapOpenAIFinishReason(reason string) StopReason {
	switch reason {
	case "tool_calls":
		return StopToolUse
	case "length":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

// Complete runs a buffered chat completion
func (b *OpenAIBackend) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params, err := b.buildParams(req)
	if err != nil {
		return nil, err
	}

	response, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &TransportError{Backend: b.Name(), Err: err}
	}
	if len(response.Choices) == 0 {
		return nil, &TransportError{Backend: b.Name(), Err: fmt.Errorf("response contained no choices")}
	}

	choice := response.Choices[0]

	var content []ContentBlock
	if choice.Message.Content != "" {
		content = append(content, TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = newToolCallID()
		}
		content = append(content, ToolUseBlock(id, tc.Function.Name, parseToolInput(b.Name(), tc.Function.Name, tc.Function.Arguments)))
	}

	return &CompletionResponse{
		Content:    content,
		StopReason: mapOpenAIFinishReason(choice.FinishReason),
	}, nil
}

// Stream runs a streaming chat completion. Text deltas are forwarded as they
// arrive; tool-call fragments are buffered per index and emitted as whole
// tool_use events once the stream completes, since OpenAI has no per-call
// completion signal.
func (b *OpenAIBackend) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	params, err := b.buildParams(req)
	if err != nil {
		return nil, err
	}

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

		stream := b.client.Chat.Completions.NewStreaming(ctx, params)

		type partialToolCall struct {
			id   string
			name string
			args strings.Builder
		}
		partials := make(map[int64]*partialToolCall)

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			if delta.Content != "" {
				if !emit(StreamEvent{Type: EventText, Text: delta.Content}) {
					finish(ctx.Err().Error())
					return
				}
			}

			for _, tc := range delta.ToolCalls {
				pc := partials[tc.Index]
				if pc == nil {
					pc = &partialToolCall{}
					partials[tc.Index] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args.WriteString(tc.Function.Arguments)
			}
		}

		if err := stream.Err(); err != nil {
			finish(err.Error())
			return
		}

		// Emit buffered tool calls in index order.
		indices := make([]int64, 0, len(partials))
		for idx := range partials {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
		for _, idx := range indices {
			pc := partials[idx]
			if pc.name == "" {
				continue
			}
			if pc.id == "" {
				pc.id = newToolCallID()
			}
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

		finish("")
	}()

	return events, nil
}

// newToolCallID synthesizes a correlation id for backends that omit one.
// Ids must be unique within a turn.
func newToolCallID() string {
	id, _ := gonanoid.New()
	return "call_" + id
}
