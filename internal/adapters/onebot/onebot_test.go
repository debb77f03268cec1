package onebot

import (
	"testing"

	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/dispatcher"
	"github.com/aetherpack/aetherbot/internal/message"
)

func captureMessages(bus *dispatcher.Dispatcher) *[]*message.Message {
	var got []*message.Message
	bus.Subscribe(dispatcher.EventMessageReceived, "capture", func(ev dispatcher.Event) error {
		got = append(got, ev.Message)
		return nil
	})
	return &got
}

func TestHandleFrameGroupMessage(t *testing.T) {
	bus := dispatcher.New()
	got := captureMessages(bus)
	a := New(config.OneBotConfig{}, bus)

	a.handleFrame([]byte(`{
		"post_type": "message",
		"message_type": "group",
		"message_id": 123,
		"group_id": 777,
		"user_id": 42,
		"self_id": 10001,
		"time": 1700000000,
		"raw_message": "[CQ:at,qq=10001] hello",
		"sender": {"nickname": "alice"},
		"message": [
			{"type": "at", "data": {"qq": "10001"}},
			{"type": "text", "data": {"text": " hello"}},
			{"type": "face", "data": {"id": "14"}}
		]
	}`))

	if len(*got) != 1 {
		t.Fatalf("published %d messages", len(*got))
	}
	msg := (*got)[0]
	if msg.ChatID != "group_777" || msg.Private {
		t.Errorf("chat = %q private=%v", msg.ChatID, msg.Private)
	}
	if msg.SenderID != "42" || msg.SenderName != "alice" || msg.SelfID != "10001" {
		t.Errorf("sender = %+v", msg)
	}
	if len(msg.Chain) != 3 {
		t.Fatalf("chain = %+v", msg.Chain)
	}
	if !msg.MentionsUser("10001") {
		t.Error("mention of self not decoded")
	}
	if msg.Chain[2] != (message.Face{Code: "14"}) {
		t.Errorf("face = %+v", msg.Chain[2])
	}
}

func TestHandleFramePrivateMessage(t *testing.T) {
	bus := dispatcher.New()
	got := captureMessages(bus)
	a := New(config.OneBotConfig{}, bus)

	a.handleFrame([]byte(`{
		"post_type": "message",
		"message_type": "private",
		"message_id": 5,
		"user_id": 42,
		"self_id": 10001,
		"raw_message": "hi",
		"message": [{"type": "text", "data": {"text": "hi"}}]
	}`))

	if len(*got) != 1 {
		t.Fatalf("published %d messages", len(*got))
	}
	msg := (*got)[0]
	if msg.ChatID != "private_42" || !msg.Private {
		t.Errorf("chat = %q private=%v", msg.ChatID, msg.Private)
	}
}

func TestHandleFrameIgnoresNonMessageEvents(t *testing.T) {
	bus := dispatcher.New()
	got := captureMessages(bus)
	a := New(config.OneBotConfig{}, bus)

	a.handleFrame([]byte(`{"post_type": "meta_event", "meta_event_type": "heartbeat"}`))

	if len(*got) != 0 {
		t.Errorf("published %d messages for heartbeat", len(*got))
	}
}

func TestHandleFramePublishesDecodeFailures(t *testing.T) {
	bus := dispatcher.New()
	var failures int
	bus.Subscribe(dispatcher.EventDecodeFailed, "capture", func(ev dispatcher.Event) error {
		if ev.Err == nil {
			t.Error("decode failure without error")
		}
		failures++
		return nil
	})
	a := New(config.OneBotConfig{}, bus)

	a.handleFrame([]byte(`{not json`))

	if failures != 1 {
		t.Errorf("failures = %d", failures)
	}
}
