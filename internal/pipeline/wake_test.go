package pipeline

import (
	"context"
	"testing"

	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/message"
)

func groupMsg(text string) *message.Message {
	return &message.Message{
		ID:         "m1",
		PlatformID: "telegram",
		ChatID:     "100",
		SenderID:   "u1",
		SelfID:     "bot",
		RawText:    text,
		Chain:      []message.Component{message.Text{Content: text}},
	}
}

func wakeState(msg *message.Message, wake config.WakeConfig) *State {
	return &State{Msg: msg, Snap: config.Snapshot{Wake: wake}, Meta: map[string]any{}}
}

func TestWakePrivateAlwaysWakes(t *testing.T) {
	msg := groupMsg("  hello there  ")
	msg.Private = true
	st := wakeState(msg, config.WakeConfig{})

	WakeStage{}.Run(context.Background(), st)

	if !st.Woken || st.Terminal {
		t.Fatalf("state = %+v", st)
	}
	if st.Text != "hello there" {
		t.Errorf("Text = %q", st.Text)
	}
}

func TestWakePrefixStripsInPrivateChat(t *testing.T) {
	msg := groupMsg("/bot status")
	msg.Private = true
	st := wakeState(msg, config.WakeConfig{Prefixes: []string{"/bot"}})

	WakeStage{}.Run(context.Background(), st)

	if !st.Woken {
		t.Fatal("not woken")
	}
	// prefix handling runs before the private-chat rule, so the prefix
	// is stripped here as well
	if st.Text != "status" {
		t.Errorf("Text = %q", st.Text)
	}
}

func TestWakeMentionBeatsPrefix(t *testing.T) {
	msg := &message.Message{
		PlatformID: "discord", ChatID: "c", SelfID: "bot",
		Chain: []message.Component{
			message.Mention{TargetID: "bot", DisplayName: "aether"},
			message.Text{Content: " /bot what time is it"},
		},
	}
	st := wakeState(msg, config.WakeConfig{Prefixes: []string{"/bot"}})

	WakeStage{}.Run(context.Background(), st)

	if !st.Woken {
		t.Fatal("not woken by mention")
	}
	// mention strips only the mention itself, never the prefix
	if st.Text != "/bot what time is it" {
		t.Errorf("Text = %q", st.Text)
	}
}

func TestWakeMentionOfSomeoneElseIgnored(t *testing.T) {
	msg := &message.Message{
		PlatformID: "discord", ChatID: "c", SelfID: "bot",
		Chain: []message.Component{
			message.Mention{TargetID: "other-user"},
			message.Text{Content: " hello"},
		},
	}
	st := wakeState(msg, config.WakeConfig{})

	WakeStage{}.Run(context.Background(), st)

	if st.Woken || !st.Terminal {
		t.Fatalf("state = %+v", st)
	}
}

func TestWakePrefixStripsAndTrims(t *testing.T) {
	st := wakeState(groupMsg("/bot   what time is it"), config.WakeConfig{
		Prefixes: []string{"/bot"},
	})

	WakeStage{}.Run(context.Background(), st)

	if !st.Woken {
		t.Fatal("not woken by prefix")
	}
	if st.Text != "what time is it" {
		t.Errorf("Text = %q", st.Text)
	}
}

func TestWakeFirstListedPrefixWins(t *testing.T) {
	st := wakeState(groupMsg("/bot2 hello"), config.WakeConfig{
		Prefixes: []string{"/bot", "/bot2"},
	})

	WakeStage{}.Run(context.Background(), st)

	if !st.Woken {
		t.Fatal("not woken")
	}
	// "/bot" matches first by configuration order; the remainder keeps "2"
	if st.Text != "2 hello" {
		t.Errorf("Text = %q", st.Text)
	}
}

func TestWakeWordKeepsFullText(t *testing.T) {
	st := wakeState(groupMsg("hey assistant, help me out"), config.WakeConfig{
		Words: []string{"assistant"},
	})

	WakeStage{}.Run(context.Background(), st)

	if !st.Woken {
		t.Fatal("not woken by wake word")
	}
	if st.Text != "hey assistant, help me out" {
		t.Errorf("Text = %q", st.Text)
	}
}

func TestWakeSilentWhenNotAddressed(t *testing.T) {
	st := wakeState(groupMsg("just chatting"), config.WakeConfig{
		Prefixes: []string{"/bot"},
		Words:    []string{"assistant"},
	})

	WakeStage{}.Run(context.Background(), st)

	if st.Woken {
		t.Error("woken without being addressed")
	}
	if !st.Terminal {
		t.Error("run not terminated")
	}
	if st.Reply != nil {
		t.Error("silent outcome produced a reply")
	}
}

func TestWakeEmptyPrefixIgnored(t *testing.T) {
	st := wakeState(groupMsg("anything"), config.WakeConfig{
		Prefixes: []string{""},
		Words:    []string{""},
	})

	WakeStage{}.Run(context.Background(), st)

	if st.Woken {
		t.Error("empty prefix or word woke the bot")
	}
}
