package pipeline

import (
	"context"
	"strings"

	"github.com/aetherpack/aetherbot/internal/message"
)

// WakeStage decides whether a message is addressed to the bot and
// extracts the text the agent should see. Checks run in priority order:
// an @-mention of the bot, then a configured command prefix, then a wake
// word anywhere in the text, then the private-chat rule (private chats
// always wake). A message that does not wake ends the run silently; that
// is the normal case in busy group chats, not an error.
type WakeStage struct{}

func (WakeStage) Name() string { return "wake" }

func (WakeStage) Run(_ context.Context, st *State) error {
	plain := st.Msg.PlainText()

	if st.Msg.MentionsUser(st.Msg.SelfID) {
		st.Woken = true
		st.Text = strings.TrimSpace(withoutSelfMention(st.Msg))
		return nil
	}

	// first listed prefix wins when several match
	for _, prefix := range st.Snap.Wake.Prefixes {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(plain, prefix) {
			st.Woken = true
			st.Text = strings.TrimSpace(strings.TrimPrefix(plain, prefix))
			return nil
		}
	}

	for _, word := range st.Snap.Wake.Words {
		if word == "" {
			continue
		}
		if strings.Contains(plain, word) {
			st.Woken = true
			st.Text = strings.TrimSpace(plain)
			return nil
		}
	}

	if st.Msg.Private {
		st.Woken = true
		st.Text = strings.TrimSpace(plain)
		return nil
	}

	st.Terminal = true
	return nil
}

// withoutSelfMention renders the chain minus the bot's own mention, so
// "@bot what time is it" reaches the agent as "what time is it".
func withoutSelfMention(m *message.Message) string {
	if len(m.Chain) == 0 {
		return m.RawText
	}
	var b strings.Builder
	for _, c := range m.Chain {
		if mc, ok := c.(message.Mention); ok && mc.TargetID == m.SelfID {
			continue
		}
		b.WriteString(c.PlainText())
	}
	return b.String()
}
