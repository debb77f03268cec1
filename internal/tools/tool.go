// Package tools defines the callable tools exposed to the agent and the
// registry the orchestrator resolves them from.
package tools

import (
	"context"

	"github.com/aetherpack/aetherbot/internal/providers"
)

// Invocation carries per-run context into a tool execution.
type Invocation struct {
	ChatKey  string
	SenderID string
}

// Tool is one callable capability. Execute returns the text fed back to
// the model; an error becomes an error tool turn, not a crash.
type Tool interface {
	Name() string
	Definition() providers.ToolDefinition
	Execute(ctx context.Context, inv Invocation, args map[string]any) (string, error)
}
