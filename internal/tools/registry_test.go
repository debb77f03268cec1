package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aetherpack/aetherbot/internal/history"
	"github.com/aetherpack/aetherbot/internal/providers"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewClock()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(NewClock()); err == nil {
		t.Error("duplicate Register accepted")
	}

	tool, ok := r.Get("current_time")
	if !ok || tool.Name() != "current_time" {
		t.Fatalf("Get = %v ok=%v", tool, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) reported ok")
	}
}

func TestRegistryDefinitionsStableOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(NewConversationReset(history.NewMemoryStore()))
	r.Register(NewClock())

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("Definitions = %d entries", len(defs))
	}
	if defs[0].Function.Name != "clear_conversation" || defs[1].Function.Name != "current_time" {
		t.Errorf("order = %s, %s", defs[0].Function.Name, defs[1].Function.Name)
	}
	for _, d := range defs {
		if d.Type != "function" || d.Function.Parameters == nil {
			t.Errorf("definition %q malformed: %+v", d.Function.Name, d)
		}
	}
}

func TestClockExecute(t *testing.T) {
	c := NewClock()
	c.Now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	}

	out, err := c.Execute(context.Background(), Invocation{}, map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "2026-03-14") || !strings.Contains(out, "Saturday") {
		t.Errorf("out = %q", out)
	}

	if _, err := c.Execute(context.Background(), Invocation{}, map[string]any{"timezone": "Mars/Olympus"}); err == nil {
		t.Error("bad timezone accepted")
	}
}

func TestConversationResetExecute(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	store.Append(ctx, "telegram:42", providers.Message{Role: "user", Content: "hello"})

	reset := NewConversationReset(store)
	if _, err := reset.Execute(ctx, Invocation{ChatKey: "telegram:42"}, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	turns, _ := store.Recent(ctx, "telegram:42", 10)
	if len(turns) != 0 {
		t.Errorf("history after reset = %+v", turns)
	}
}
