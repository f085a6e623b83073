package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultOllamaEndpoint is the standard local daemon address.
const DefaultOllamaEndpoint = "http://localhost:11434"

// DefaultOllamaModel is used when the request does not name a model.
const DefaultOllamaModel = "llama3.1"

// ollamaProbeTimeout bounds the liveness probe against the local daemon.
const ollamaProbeTimeout = 2 * time.Second

// OllamaBackend implements Backend for a locally running Ollama daemon over
// its plain-HTTP chat API. Streaming responses arrive as NDJSON chunks; tool
// calls are delivered whole per chunk, never fragmented.
type OllamaBackend struct {
	httpClient *http.Client
	endpoint   string
	model      string
}

// NewOllamaBackend creates a new Ollama backend adapter
func NewOllamaBackend(endpoint, model string) *OllamaBackend {
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaBackend{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // local models can be slow to load
		},
		endpoint: endpoint,
		model:    model,
	}
}

// Name returns the backend identifier
func (b *OllamaBackend) Name() string {
	return "ollama"
}

// IsConfigured probes the daemon's tags endpoint with a short timeout
func (b *OllamaBackend) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), ollamaProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

type ollamaFunction struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunction `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaChatResponse struct {
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
}

func (b *OllamaBackend) buildRequest(req CompletionRequest, stream bool) ollamaChatRequest {
	model := req.Model
	if model == "" {
		model = b.model
	}

	messages := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			var text string
			for _, block := range msg.Content {
				switch block.Type {
				case BlockText:
					text += block.Text
				case BlockToolResult:
					messages = append(messages, ollamaMessage{Role: "tool", Content: block.Content})
				}
			}
			if text != "" {
				messages = append(messages, ollamaMessage{Role: "user", Content: text})
			}
		case RoleAssistant:
			om := ollamaMessage{Role: "assistant", Content: msg.TextContent()}
			for _, call := range msg.ToolCalls() {
				om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
					Function: ollamaFunction{Name: call.Name, Arguments: call.Input},
				})
			}
			messages = append(messages, om)
		}
	}

	out := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}

	for _, tool := range req.Tools {
		ot := ollamaTool{Type: "function"}
		ot.Function.Name = tool.Name
		ot.Function.Description = tool.Description
		ot.Function.Parameters = tool.InputSchema()
		out.Tools = append(out.Tools, ot)
	}

	return out
}

func (b *OllamaBackend) post(ctx context.Context, chatReq ollamaChatRequest) (*http.Response, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Backend: b.Name(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Backend: b.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &TransportError{Backend: b.Name(), Err: fmt.Errorf("daemon returned status %d", resp.StatusCode)}
	}

	return resp, nil
}

func ollamaContent(msg ollamaMessage, done bool, doneReason string) ([]ContentBlock, StopReason) {
	var content []ContentBlock
	if msg.Content != "" {
		content = append(content, TextBlock(msg.Content))
	}

	stop := StopEndTurn
	for _, tc := range msg.ToolCalls {
		input := tc.Function.Arguments
		if input == nil {
			input = map[string]interface{}{}
		}
		content = append(content, ToolUseBlock(newToolCallID(), tc.Function.Name, input))
		stop = StopToolUse
	}

	if done && doneReason == "length" {
		stop = StopMaxTokens
	}
	return content, stop
}

// Complete runs a buffered chat completion against the daemon
func (b *OllamaBackend) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := b.post(ctx, b.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &TransportError{Backend: b.Name(), Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	content, stop := ollamaContent(chatResp.Message, chatResp.Done, chatResp.DoneReason)
	return &CompletionResponse{Content: content, StopReason: stop}, nil
}

// Stream runs a streaming chat completion, decoding NDJSON chunks as they
// arrive from the daemon.
func (b *OllamaBackend) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
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

		resp, err := b.post(ctx, b.buildRequest(req, true))
		if err != nil {
			finish(err.Error())
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				// Skip undecodable chunks; the terminal done record is
				// what ends the stream.
				continue
			}

			if chunk.Message.Content != "" {
				if !emit(StreamEvent{Type: EventText, Text: chunk.Message.Content}) {
					finish(ctx.Err().Error())
					return
				}
			}
			for _, tc := range chunk.Message.ToolCalls {
				input := tc.Function.Arguments
				if input == nil {
					input = map[string]interface{}{}
				}
				call := &ToolCall{ID: newToolCallID(), Name: tc.Function.Name, Input: input}
				if !emit(StreamEvent{Type: EventToolUse, ToolCall: call}) {
					finish(ctx.Err().Error())
					return
				}
			}

			if chunk.Done {
				break
			}
		}

		if err := scanner.Err(); err != nil {
			finish(err.Error())
			return
		}
		finish("")
	}()

	return events, nil
}
