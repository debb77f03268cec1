package pipeline

import (
	"context"
	"testing"

	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/message"
)

func renderState(reply config.ReplyConfig, private bool) *State {
	msg := groupMsg("hi")
	msg.Private = private
	return &State{
		Msg:     msg,
		Snap:    config.Snapshot{Reply: reply},
		Persona: "helper",
		Reply:   message.TextReply("telegram", "100", "the answer"),
	}
}

func TestRenderFullDecoration(t *testing.T) {
	st := renderState(config.ReplyConfig{
		AtSender:       true,
		QuoteOriginal:  true,
		AddPrefix:      true,
		PrefixTemplate: "[{persona}] ",
	}, false)

	RenderStage{}.Run(context.Background(), st)

	chain := st.Reply.Chain
	if len(chain) != 4 {
		t.Fatalf("chain = %+v", chain)
	}
	if chain[0].Kind != message.OutQuote || chain[0].QuoteID != "m1" {
		t.Errorf("quote = %+v", chain[0])
	}
	if chain[1].Kind != message.OutMention || chain[1].TargetID != "u1" {
		t.Errorf("mention = %+v", chain[1])
	}
	if chain[2].Kind != message.OutText || chain[2].Text != "[helper] " {
		t.Errorf("prefix = %+v", chain[2])
	}
	if chain[3].Kind != message.OutText || chain[3].Text != "the answer" {
		t.Errorf("body = %+v", chain[3])
	}
}

func TestRenderNoMentionInPrivateChat(t *testing.T) {
	st := renderState(config.ReplyConfig{AtSender: true}, true)

	RenderStage{}.Run(context.Background(), st)

	for _, c := range st.Reply.Chain {
		if c.Kind == message.OutMention {
			t.Error("private reply carries a mention")
		}
	}
}

func TestRenderPlainWhenDisabled(t *testing.T) {
	st := renderState(config.ReplyConfig{}, false)

	RenderStage{}.Run(context.Background(), st)

	if len(st.Reply.Chain) != 1 || st.Reply.Chain[0].Text != "the answer" {
		t.Errorf("chain = %+v", st.Reply.Chain)
	}
}

func TestRenderNoReplyIsNoop(t *testing.T) {
	st := &State{Msg: groupMsg("x"), Snap: config.Snapshot{Reply: config.ReplyConfig{AtSender: true}}}
	if err := (RenderStage{}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Reply != nil {
		t.Error("render invented a reply")
	}
}
