// Package pipeline processes inbound messages through an ordered chain
// of stages: moderation, wake check, agent run, reply rendering. Chats
// are serialized; distinct chats run in parallel.
package pipeline

import (
	"context"

	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/message"
)

// State is the mutable carrier passed through the stages of one run.
// Stages communicate only through it.
type State struct {
	Msg  *message.Message
	Snap config.Snapshot

	// Woken and Text are set by the wake stage; Text is the cleaned
	// input handed to the agent.
	Woken bool
	Text  string

	// Persona chosen for this run; set by the agent stage.
	Persona string

	// Reply, when non-nil after the chain, is delivered to the adapter.
	Reply *message.Outbound

	// Terminal stops the chain after the current stage.
	Terminal bool

	// Meta carries per-run overrides between stages, e.g. a provider id.
	Meta map[string]any
}

// Stage is one step of the chain. Returning an error aborts the run for
// this message; any Reply already set still goes out.
type Stage interface {
	Name() string
	Run(ctx context.Context, st *State) error
}
