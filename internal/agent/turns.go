package agent

import (
	"fmt"

	"github.com/aetherpack/aetherbot/internal/providers"
)

// TurnLog is the append-only conversation record for one orchestration
// run. It enforces the provider wire contract: after an assistant turn
// that requests tools, the only legal appends are tool turns answering
// those requests, in the order they were issued, until all are answered.
type TurnLog struct {
	turns   []providers.Message
	pending []providers.ToolCall
}

func NewTurnLog() *TurnLog {
	return &TurnLog{}
}

// Append adds one turn, rejecting anything that would break tool-turn
// adjacency.
func (l *TurnLog) Append(turn providers.Message) error {
	if len(l.pending) > 0 {
		if turn.Role != "tool" {
			return fmt.Errorf("turn log: %d tool results pending, got role %q", len(l.pending), turn.Role)
		}
		want := l.pending[0].ID
		if turn.ToolCallID != want {
			return fmt.Errorf("turn log: tool result for %q, expected %q next", turn.ToolCallID, want)
		}
		l.pending = l.pending[1:]
		l.turns = append(l.turns, turn)
		return nil
	}

	if turn.Role == "tool" {
		return fmt.Errorf("turn log: tool result %q with no pending call", turn.ToolCallID)
	}
	if turn.Role == "assistant" && len(turn.ToolCalls) > 0 {
		l.pending = append([]providers.ToolCall(nil), turn.ToolCalls...)
	}
	l.turns = append(l.turns, turn)
	return nil
}

// Settled reports whether every requested tool call has its result.
func (l *TurnLog) Settled() bool { return len(l.pending) == 0 }

// Pending returns the unanswered tool calls in issue order.
func (l *TurnLog) Pending() []providers.ToolCall {
	return append([]providers.ToolCall(nil), l.pending...)
}

// Turns returns a copy of the log.
func (l *TurnLog) Turns() []providers.Message {
	return append([]providers.Message(nil), l.turns...)
}

// Len returns the number of turns recorded.
func (l *TurnLog) Len() int { return len(l.turns) }

// SanitizeHistory trims stored turns so they can seed a run: a window
// cut can orphan tool turns at the head or leave an assistant turn with
// unanswered calls at the tail, and providers reject both.
func SanitizeHistory(turns []providers.Message) []providers.Message {
	start := 0
	for start < len(turns) && turns[start].Role == "tool" {
		start++
	}
	turns = turns[start:]

	for len(turns) > 0 {
		probe := NewTurnLog()
		ok := true
		for _, t := range turns {
			if err := probe.Append(t); err != nil {
				ok = false
				break
			}
		}
		if ok && probe.Settled() {
			break
		}
		turns = turns[:len(turns)-1]
	}
	return turns
}
