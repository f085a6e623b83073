package cli

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/vjohannesb/majordomo/pkg/backend"
	"github.com/vjohannesb/majordomo/pkg/tools"
)

// builtinRegistry exposes a small built-in tool surface so the binary is
// usable on its own. Real integrations register their own tools.
func builtinRegistry() (*tools.Registry, error) {
	r := tools.NewRegistry()

	if err := r.Register(tools.Registration{
		Definition: backend.ToolDefinition{
			Name:        "echo",
			Description: "Echoes the given text back verbatim",
			Parameters: []backend.Parameter{
				{Name: "text", Type: "string", Description: "Text to echo", Required: true},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			text, ok := input["text"].(string)
			if !ok {
				return "", fmt.Errorf("text must be a string")
			}
			return text, nil
		},
	}); err != nil {
		return nil, err
	}

	if err := r.Register(tools.Registration{
		Definition: backend.ToolDefinition{
			Name:        "current_time",
			Description: "Returns the current local date and time",
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			return time.Now().Format(time.RFC1123), nil
		},
	}); err != nil {
		return nil, err
	}

	// Shell access is gated: the first call parks an approval request and
	// fails until its code is approved via `majordomo approvals approve`.
	if err := r.Register(tools.Registration{
		Definition: backend.ToolDefinition{
			Name:        "run_command",
			Description: "Runs a shell command on the local machine and returns its output",
			Parameters: []backend.Parameter{
				{Name: "command", Type: "string", Description: "Shell command to run", Required: true},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			command, ok := input["command"].(string)
			if !ok || strings.TrimSpace(command) == "" {
				return "", fmt.Errorf("command must be a non-empty string")
			}
			out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
			if err != nil {
				return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
			}
			return strings.TrimSpace(string(out)), nil
		},
		RequiresApproval: true,
	}); err != nil {
		return nil, err
	}

	return r, nil
}
