// Package agent drives the multi-turn completion loop: ask the backend,
// execute the tools it requests, feed the results back, and stop when the
// backend concludes with text or the turn budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vjohannesb/majordomo/internal/observability"
	"github.com/vjohannesb/majordomo/internal/tracing"
	"github.com/vjohannesb/majordomo/pkg/backend"
	"github.com/vjohannesb/majordomo/pkg/session"
	"github.com/vjohannesb/majordomo/pkg/tools"
)

// DefaultMaxTurns is the turn budget when the caller does not set one.
const DefaultMaxTurns = 10

// Config holds runner dependencies
type Config struct {
	Backend   backend.Backend
	Store     *session.Store
	Registry  *tools.Registry
	Executor  *tools.Executor
	Logger    zerolog.Logger
	Model     string
	MaxTokens int
	MaxTurns  int
}

// Runner orchestrates agent runs
type Runner struct {
	backend   backend.Backend
	store     *session.Store
	registry  *tools.Registry
	executor  *tools.Executor
	logger    zerolog.Logger
	model     string
	maxTokens int
	maxTurns  int
}

// NewRunner creates an agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	return &Runner{
		backend:   cfg.Backend,
		store:     cfg.Store,
		registry:  cfg.Registry,
		executor:  cfg.Executor,
		logger:    cfg.Logger,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		maxTurns:  maxTurns,
	}, nil
}

// Run executes one agent run with a background context
func (r *Runner) Run(params RunParams) (RunResult, error) {
	return r.RunWithContext(context.Background(), params)
}

// RunWithContext executes one agent run.
//
// A transport failure aborts the run and surfaces to the caller; it is not
// retried. Individual tool failures are absorbed into the transcript as
// is_error tool results and never abort a turn.
func (r *Runner) RunWithContext(ctx context.Context, params RunParams) (RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithRunID(ctx, tracing.NewRunID())
	ctx = tracing.WithBackend(ctx, r.backend.Name())

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = r.store.Create(nil)
	}
	ctx = tracing.WithSessionID(ctx, sessionID)

	ctx, span := tracing.StartSpan(
		ctx,
		"majordomo.agent",
		"agent.run",
		attribute.String("session_id", sessionID),
		attribute.String("backend", r.backend.Name()),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	start := time.Now()
	result, err := r.execute(ctx, logger, sessionID, params)
	observability.RecordRun(r.backend.Name(), time.Since(start), err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Agent run failed")
		return RunResult{}, err
	}

	logger.Info().
		Int("turns", result.Turns).
		Str("stop", string(result.Stop)).
		Strs("tools_used", result.ToolsUsed).
		Msg("Agent run completed")

	return result, nil
}

func (r *Runner) execute(ctx context.Context, logger zerolog.Logger, sessionID string, params RunParams) (RunResult, error) {
	sink := notify{n: params.Notify}

	sess, err := r.store.GetWithContext(ctx, sessionID)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to load session: %w", err)
	}

	sess.Messages = append(sess.Messages, backend.UserMessage(params.Message))

	maxTurns := params.MaxTurns
	if maxTurns <= 0 {
		maxTurns = r.maxTurns
	}

	result := RunResult{SessionID: sessionID, Stop: StopMaxTurns}

	for turn := 1; turn <= maxTurns; turn++ {
		observability.RecordTurn(r.backend.Name())

		req := backend.CompletionRequest{
			Messages:     sess.Messages,
			SystemPrompt: params.SystemPrompt,
			Tools:        r.registry.Definitions(),
			Model:        r.model,
			MaxTokens:    r.maxTokens,
		}

		text, calls, err := r.turn(ctx, req, params.Stream, sink)
		result.Turns = turn
		if err != nil {
			sink.Error(err)
			// Best-effort save so the transcript up to the failure survives.
			if saveErr := r.store.SaveWithContext(ctx, sessionID); saveErr != nil {
				logger.Warn().Err(saveErr).Msg("Failed to save session after transport failure")
			}
			return RunResult{}, err
		}

		if len(calls) == 0 {
			result.Text = text
			result.Stop = StopTextOnly
			break
		}

		blocks := make([]backend.ContentBlock, 0, len(calls)+1)
		if text != "" {
			blocks = append(blocks, backend.TextBlock(text))
		}
		for _, call := range calls {
			blocks = append(blocks, backend.ToolUseBlock(call.ID, call.Name, call.Input))
		}
		sess.Messages = append(sess.Messages, backend.Message{Role: backend.RoleAssistant, Content: blocks})

		// Tool calls run strictly sequentially: later calls may depend on
		// side effects of earlier ones, and results must arrive in call
		// order.
		results := make([]backend.ContentBlock, 0, len(calls))
		for _, call := range calls {
			result.ToolsUsed = append(result.ToolsUsed, call.Name)
			sink.ToolStart(call.Name, call.Input)

			execResult := r.executor.Execute(ctx, call)
			if execResult.Err != nil {
				results = append(results, backend.ToolResultBlock(call.ID, execResult.Err.Error(), true))
				sink.ToolDone(call.Name, execResult.Err.Error())
				continue
			}
			results = append(results, backend.ToolResultBlock(call.ID, execResult.Output, false))
			sink.ToolDone(call.Name, execResult.Output)
		}
		sess.Messages = append(sess.Messages, backend.Message{Role: backend.RoleUser, Content: results})

		// Text emitted alongside tool calls stands as the final text if the
		// turn budget runs out here.
		result.Text = text
	}

	if result.Stop == StopTextOnly && result.Text != "" {
		sess.Messages = append(sess.Messages, backend.AssistantMessage(result.Text))
	}

	if err := r.store.SaveWithContext(ctx, sessionID); err != nil {
		// The in-memory transcript stays authoritative; the run itself
		// succeeded.
		logger.Error().Err(err).Msg("Failed to persist session")
	}

	sink.Done(result)
	return result, nil
}

// turn performs one backend request and returns the accumulated text and
// tool calls.
func (r *Runner) turn(ctx context.Context, req backend.CompletionRequest, stream bool, sink notify) (string, []backend.ToolCall, error) {
	if !stream {
		resp, err := r.backend.Complete(ctx, req)
		if err != nil {
			return "", nil, err
		}
		text := resp.TextContent()
		if text != "" {
			sink.Text(text)
		}
		return text, resp.ToolCalls(), nil
	}

	events, err := r.backend.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text string
	var calls []backend.ToolCall
	var streamErr string

	for event := range events {
		observability.RecordStreamEvent(r.backend.Name(), string(event.Type))
		switch event.Type {
		case backend.EventText:
			text += event.Text
			sink.Text(event.Text)
		case backend.EventToolUse:
			if event.ToolCall != nil {
				calls = append(calls, *event.ToolCall)
			}
		case backend.EventError:
			streamErr = event.Err
		case backend.EventDone:
			// Terminal; the channel closes after this.
		}
	}

	if streamErr != "" {
		return "", nil, &backend.TransportError{Backend: r.backend.Name(), Err: errors.New(streamErr)}
	}
	// A cancelled context must never pass as a clean turn, even when the
	// backend closed the stream without an error event.
	if err := ctx.Err(); err != nil {
		return "", nil, &backend.TransportError{Backend: r.backend.Name(), Err: err}
	}

	return text, calls, nil
}
