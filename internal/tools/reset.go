package tools

import (
	"context"

	"github.com/aetherpack/aetherbot/internal/history"
	"github.com/aetherpack/aetherbot/internal/providers"
)

// ConversationReset clears the current chat's stored history when the
// user asks the agent to forget the conversation.
type ConversationReset struct {
	store history.Store
}

func NewConversationReset(store history.Store) *ConversationReset {
	return &ConversationReset{store: store}
}

func (r *ConversationReset) Name() string { return "clear_conversation" }

func (r *ConversationReset) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        "clear_conversation",
			Description: "Erase the stored conversation history for this chat. Use when the user asks to start over or forget the conversation.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

func (r *ConversationReset) Execute(ctx context.Context, inv Invocation, _ map[string]any) (string, error) {
	if err := r.store.Reset(ctx, inv.ChatKey); err != nil {
		return "", err
	}
	return "Conversation history cleared.", nil
}
