package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultCLICommand is the local CLI tool probed when nothing hosted or
// daemon-based is available.
const DefaultCLICommand = "llm"

// CLIBackend implements Backend by shelling out to a local CLI tool. The
// subprocess only returns a finished result, so Stream satisfies the
// streaming contract by running the full completion and replaying it as one
// text event followed by done.
type CLIBackend struct {
	command string
	model   string
}

// NewCLIBackend creates a new subprocess backend adapter
func NewCLIBackend(command, model string) *CLIBackend {
	if command == "" {
		command = DefaultCLICommand
	}
	return &CLIBackend{command: command, model: model}
}

// Name returns the backend identifier
func (b *CLIBackend) Name() string {
	return "cli"
}

// IsConfigured reports whether the CLI tool is on PATH
func (b *CLIBackend) IsConfigured() bool {
	_, err := exec.LookPath(b.command)
	return err == nil
}

// renderPrompt flattens the conversation into a role-labelled transcript.
// The CLI tool has no structured message or tool interface.
func renderPrompt(req CompletionRequest) string {
	var sb strings.Builder

	for _, msg := range req.Messages {
		label := "User"
		if msg.Role == RoleAssistant {
			label = "Assistant"
		}
		text := msg.TextContent()
		for _, block := range msg.Content {
			if block.Type == BlockToolResult {
				text += fmt.Sprintf("\n[tool result %s] %s", block.ToolUseID, block.Content)
			}
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n\n", label, text)
	}

	sb.WriteString("Assistant:")
	return sb.String()
}

// Complete runs the CLI tool to completion and returns its stdout as a
// single text block.
func (b *CLIBackend) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	args := []string{}
	if model := req.Model; model != "" {
		args = append(args, "-m", model)
	} else if b.model != "" {
		args = append(args, "-m", b.model)
	}
	if req.SystemPrompt != "" {
		args = append(args, "-s", req.SystemPrompt)
	}

	cmd := exec.CommandContext(ctx, b.command, args...)
	cmd.Stdin = strings.NewReader(renderPrompt(req))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return nil, &TransportError{Backend: b.Name(), Err: err}
	}

	text := strings.TrimSpace(stdout.String())
	return &CompletionResponse{
		Content:    []ContentBlock{TextBlock(text)},
		StopReason: StopEndTurn,
	}, nil
}

// Stream satisfies the streaming contract by replaying a buffered completion.
func (b *CLIBackend) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
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

		resp, err := b.Complete(ctx, req)
		if err != nil {
			finish(err.Error())
			return
		}

		replay := replayResponse(resp)
		for ev := range replay {
			if ev.Type == EventDone {
				break
			}
			if !emit(ev) {
				for range replay {
				}
				finish(ctx.Err().Error())
				return
			}
		}
		finish("")
	}()

	return events, nil
}
