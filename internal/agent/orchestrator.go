// Package agent runs the tool-calling loop: call the model, execute any
// requested tools, feed results back, repeat until the model stops or
// the round cap is hit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aetherpack/aetherbot/internal/providers"
	"github.com/aetherpack/aetherbot/internal/tools"
)

// ErrToolRoundsExceeded marks a run stopped by the round cap while the
// model still wanted tools.
var ErrToolRoundsExceeded = errors.New("agent: tool round limit reached")

// Outcome classifies how a run ended.
type Outcome int

const (
	// OutcomeDone: the model produced a final text reply.
	OutcomeDone Outcome = iota
	// OutcomeFailed: the provider failed after retries.
	OutcomeFailed
	// OutcomeCapped: the round cap stopped an unfinished tool loop.
	OutcomeCapped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeFailed:
		return "failed"
	case OutcomeCapped:
		return "capped"
	default:
		return "unknown"
	}
}

// RunRequest parameterizes one orchestration run. All values are fixed
// for the run's duration; a config reload affects only later runs.
type RunRequest struct {
	Provider     providers.Provider
	Model        string
	SystemPrompt string
	History      []providers.Message
	UserText     string
	Invocation   tools.Invocation

	MaxToolRounds   int
	ProviderTimeout time.Duration
	ToolTimeout     time.Duration
	Retry           providers.RetryConfig
}

// RunResult is the terminal state of a run. NewTurns holds the user turn
// plus everything the run produced, for the caller to persist.
type RunResult struct {
	Outcome  Outcome
	Reply    string
	NewTurns []providers.Message
	Rounds   int
	Err      error
}

// Orchestrator executes runs against a shared tool registry.
type Orchestrator struct {
	tools  *tools.Registry
	tracer trace.Tracer
}

func New(registry *tools.Registry) *Orchestrator {
	return &Orchestrator{
		tools:  registry,
		tracer: otel.Tracer("aetherbot/agent"),
	}
}

// Run drives the loop to a terminal state. The returned result is always
// non-nil; Outcome and Err describe failures.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) *RunResult {
	runID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("provider", req.Provider.Name()),
		attribute.String("chat_key", req.Invocation.ChatKey),
	))
	defer span.End()

	log := NewTurnLog()
	if req.SystemPrompt != "" {
		log.Append(providers.Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, turn := range SanitizeHistory(req.History) {
		if err := log.Append(turn); err != nil {
			// should not happen after sanitize; skip rather than abort
			slog.Warn("agent: dropping malformed history turn", "error", err)
		}
	}
	userTurn := providers.Message{Role: "user", Content: req.UserText}
	log.Append(userTurn)

	result := o.loop(ctx, req, log)

	span.SetAttributes(
		attribute.String("outcome", result.Outcome.String()),
		attribute.Int("rounds", result.Rounds),
	)
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Outcome.String())
	}
	slog.Debug("agent: run finished",
		"run_id", runID,
		"chat", req.Invocation.ChatKey,
		"outcome", result.Outcome,
		"rounds", result.Rounds)
	return result
}

func (o *Orchestrator) loop(ctx context.Context, req RunRequest, log *TurnLog) *RunResult {
	result := &RunResult{
		NewTurns: []providers.Message{{Role: "user", Content: req.UserText}},
	}

	defs := o.tools.Definitions()
	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = err
			return result
		}

		resp, err := o.callProvider(ctx, req, log.Turns(), defs)
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("provider %s: %w", req.Provider.Name(), err)
			return result
		}

		assistant := providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		if err := log.Append(assistant); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = err
			return result
		}
		result.NewTurns = append(result.NewTurns, assistant)
		result.Rounds = round + 1

		if len(resp.ToolCalls) == 0 {
			result.Outcome = OutcomeDone
			result.Reply = resp.Content
			return result
		}

		if round+1 >= req.MaxToolRounds {
			result.Outcome = OutcomeCapped
			result.Err = ErrToolRoundsExceeded
			result.Reply = resp.Content
			return result
		}

		for _, call := range resp.ToolCalls {
			toolTurn := o.executeTool(ctx, req, call)
			if err := log.Append(toolTurn); err != nil {
				result.Outcome = OutcomeFailed
				result.Err = err
				return result
			}
			result.NewTurns = append(result.NewTurns, toolTurn)
		}
	}
}

func (o *Orchestrator) callProvider(ctx context.Context, req RunRequest,
	turns []providers.Message, defs []providers.ToolDefinition) (*providers.ChatResponse, error) {

	ctx, span := o.tracer.Start(ctx, "agent.provider_call")
	defer span.End()

	return providers.RetryDo(ctx, req.Retry, func() (*providers.ChatResponse, error) {
		callCtx := ctx
		if req.ProviderTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, req.ProviderTimeout)
			defer cancel()
		}
		return req.Provider.Chat(callCtx, providers.ChatRequest{
			Messages: turns,
			Tools:    defs,
			Model:    req.Model,
		})
	})
}

// executeTool always yields a tool turn for the call: results and
// failures both go back to the model so the loop can continue.
func (o *Orchestrator) executeTool(ctx context.Context, req RunRequest, call providers.ToolCall) providers.Message {
	ctx, span := o.tracer.Start(ctx, "agent.tool_call", trace.WithAttributes(
		attribute.String("tool", call.Name),
	))
	defer span.End()

	turn := providers.Message{Role: "tool", ToolCallID: call.ID}

	tool, ok := o.tools.Get(call.Name)
	if !ok {
		slog.Warn("agent: model requested unknown tool", "tool", call.Name)
		turn.Content = fmt.Sprintf("Error: tool %q is not available.", call.Name)
		span.SetStatus(codes.Error, "unknown tool")
		return turn
	}

	if req.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.ToolTimeout)
		defer cancel()
	}

	out, err := tool.Execute(ctx, req.Invocation, call.Arguments)
	if err != nil {
		slog.Warn("agent: tool failed", "tool", call.Name, "error", err)
		turn.Content = fmt.Sprintf("Error: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool failed")
		return turn
	}
	turn.Content = out
	return turn
}
