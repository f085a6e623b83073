// Package backend normalizes structurally different language-model backends
// behind one canonical request/response/stream contract. Adapters translate
// the canonical message and tool shapes into each backend's wire protocol and
// reconstruct tool calls from fragmented delivery where the backend streams
// arguments in pieces.
package backend

import "context"

// Backend is the contract every completion backend adapter satisfies.
//
// Stream returns a lazily produced, single-pass event sequence. It is not
// restartable. The channel always delivers a terminal done event before
// closing, even after an error event, so consumers can detect loop end
// deterministically. Backends that cannot truly stream satisfy the contract
// by running the full completion and replaying it.
type Backend interface {
	// Name returns the backend identifier (anthropic, openai, ollama, cli)
	Name() string

	// IsConfigured reports whether the adapter has what it needs to talk
	// to its backend
	IsConfigured() bool

	// Complete runs a full completion and returns the buffered result
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream runs a completion and emits canonical events as they arrive
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

// replayResponse satisfies the Stream contract from a buffered completion:
// the accumulated text as one text event, each tool call as a tool_use event,
// then the terminal done event. Consumers cannot distinguish this from true
// streaming.
func replayResponse(resp *CompletionResponse) <-chan StreamEvent {
	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		if text := resp.TextContent(); text != "" {
			events <- StreamEvent{Type: EventText, Text: text}
		}
		for _, call := range resp.ToolCalls() {
			c := call
			events <- StreamEvent{Type: EventToolUse, ToolCall: &c}
		}
		events <- StreamEvent{Type: EventDone}
	}()
	return events
}
