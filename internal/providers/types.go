// Package providers abstracts the LLM backends. Each backend implements
// Provider; the orchestrator only sees ChatRequest/ChatResponse.
package providers

import "context"

// Provider is a chat-completion backend with tool-calling support.
type Provider interface {
	// Chat sends the conversation and tool schemas, returning the model's
	// next turn. Implementations honor ctx cancellation and deadlines.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Name returns the configured provider id.
	Name() string

	// DefaultModel returns the model used when ChatRequest.Model is empty.
	DefaultModel() string
}

// ChatRequest is the input for one Chat call.
type ChatRequest struct {
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Model    string           `json:"model,omitempty"`
}

// ChatResponse is the model's turn. FinishReason is "stop", "tool_calls"
// or "length".
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        *Usage     `json:"usage,omitempty"`
}

// Message is one conversation turn. Role is "system", "user", "assistant"
// or "tool"; ToolCallID links a tool turn to the assistant call it answers.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is a function tool's name and JSON-schema parameters.
type ToolFunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage tracks token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
