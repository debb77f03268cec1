package pipeline

import (
	"context"
	"strings"

	"github.com/aetherpack/aetherbot/internal/message"
)

// RenderStage decorates the reply per config: quote the original
// message, @-mention the sender in group chats, and prepend the persona
// prefix. Runs last; does nothing when no reply was produced.
type RenderStage struct{}

func (RenderStage) Name() string { return "render" }

func (RenderStage) Run(_ context.Context, st *State) error {
	if st.Reply == nil {
		return nil
	}
	rc := st.Snap.Reply

	var chain []message.OutboundComponent

	if rc.QuoteOriginal && st.Msg.ID != "" {
		chain = append(chain, message.OutboundComponent{
			Kind:    message.OutQuote,
			QuoteID: st.Msg.ID,
		})
	}
	// mentioning the sender in a private chat is noise
	if rc.AtSender && !st.Msg.Private {
		chain = append(chain, message.OutboundComponent{
			Kind:     message.OutMention,
			TargetID: st.Msg.SenderID,
		})
	}
	if rc.AddPrefix && rc.PrefixTemplate != "" {
		prefix := strings.ReplaceAll(rc.PrefixTemplate, "{persona}", st.Persona)
		chain = append(chain, message.OutboundComponent{
			Kind: message.OutText,
			Text: prefix,
		})
	}

	if len(chain) > 0 {
		st.Reply.Chain = append(chain, st.Reply.Chain...)
	}
	return nil
}
