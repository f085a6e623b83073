package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/vjohannesb/majordomo/internal/observability"
	"github.com/vjohannesb/majordomo/pkg/backend"
)

const (
	// DefaultToolTimeout bounds a single tool execution.
	DefaultToolTimeout = 30 * time.Second

	maxOutputSize = 10 * 1024
)

// Result is the outcome of one tool execution. A non-nil Err is absorbed by
// the caller as an is_error tool result; it never aborts a run.
type Result struct {
	Output    string
	Truncated bool
	Err       error
}

// Executor validates and runs tool calls against a registry
type Executor struct {
	registry *Registry
	pending  *PendingStore
	timeout  time.Duration
}

// NewExecutor creates an executor over registry. pending may be nil when no
// tool requires approval.
func NewExecutor(registry *Registry, pending *PendingStore) *Executor {
	observability.EnsureRegistered()
	return &Executor{
		registry: registry,
		pending:  pending,
		timeout:  DefaultToolTimeout,
	}
}

// SetTimeout overrides the per-call execution timeout
func (e *Executor) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		e.timeout = timeout
	}
}

// Execute runs one tool call: resolve, check approval, validate input
// against the declared schema, then run the handler under a timeout with
// panic recovery.
func (e *Executor) Execute(ctx context.Context, call backend.ToolCall) Result {
	start := time.Now()
	result := e.execute(ctx, call)
	duration := time.Since(start)

	observability.RecordToolExecution(call.Name, duration, result.Err == nil)

	if result.Err != nil {
		log.Error().
			Str("tool", call.Name).
			Str("tool_use_id", call.ID).
			Dur("duration", duration).
			Err(result.Err).
			Msg("Tool execution failed")
	} else {
		log.Debug().
			Str("tool", call.Name).
			Str("tool_use_id", call.ID).
			Dur("duration", duration).
			Bool("truncated", result.Truncated).
			Msg("Tool execution completed")
	}

	return result
}

func (e *Executor) execute(ctx context.Context, call backend.ToolCall) Result {
	reg := e.registry.Get(call.Name)
	if reg == nil {
		return Result{Err: fmt.Errorf("tool not found: %s", call.Name)}
	}

	if reg.RequiresApproval {
		if e.pending == nil {
			return Result{Err: fmt.Errorf("tool %s requires approval but no approval store is configured", call.Name)}
		}
		if !e.pending.IsApproved(call.Name) {
			req, err := e.pending.Request(call.Name)
			if err != nil {
				return Result{Err: fmt.Errorf("tool %s requires approval: %w", call.Name, err)}
			}
			return Result{Err: fmt.Errorf("tool %s requires approval (code %s)", call.Name, req.Code)}
		}
	}

	if err := e.validateInput(call); err != nil {
		return Result{Err: fmt.Errorf("input validation failed: %w", err)}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", call.Name, r)}
			}
		}()
		output, err := reg.Handler(timeoutCtx, call.Input)
		done <- outcome{output: output, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return Result{Err: out.err}
		}
		output, truncated := truncateOutput(out.output)
		return Result{Output: output, Truncated: truncated}
	case <-timeoutCtx.Done():
		return Result{Err: fmt.Errorf("tool %s timed out after %v", call.Name, e.timeout)}
	}
}

func (e *Executor) validateInput(call backend.ToolCall) error {
	schema := e.registry.schema(call.Name)
	if schema == nil {
		return nil
	}

	input := call.Input
	if input == nil {
		input = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return err
	}
	if !result.Valid() {
		var details []string
		for _, verr := range result.Errors() {
			details = append(details, verr.String())
		}
		return fmt.Errorf("validation errors: %v", details)
	}
	return nil
}

func truncateOutput(output string) (string, bool) {
	if len(output) <= maxOutputSize {
		return output, false
	}
	log.Warn().
		Int("original", len(output)).
		Int("truncated", maxOutputSize).
		Msg("Tool output truncated")
	return output[:maxOutputSize] + "\n... [output truncated]", true
}
