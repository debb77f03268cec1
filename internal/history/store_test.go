package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/providers"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreAppendRecent(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				err := store.Append(ctx, "telegram:42", providers.Message{
					Role: "user", Content: fmt.Sprintf("msg-%d", i),
				})
				if err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			turns, err := store.Recent(ctx, "telegram:42", 3)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(turns) != 3 {
				t.Fatalf("Recent returned %d turns", len(turns))
			}
			// window keeps the newest turns, oldest first
			for i, want := range []string{"msg-2", "msg-3", "msg-4"} {
				if turns[i].Content != want {
					t.Errorf("turn %d = %q, want %q", i, turns[i].Content, want)
				}
			}
		})
	}
}

func TestStoreChatIsolation(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			store.Append(ctx, "telegram:1", providers.Message{Role: "user", Content: "a"})
			store.Append(ctx, "discord:1", providers.Message{Role: "user", Content: "b"})

			turns, err := store.Recent(ctx, "telegram:1", 10)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(turns) != 1 || turns[0].Content != "a" {
				t.Errorf("telegram:1 turns = %+v", turns)
			}
		})
	}
}

func TestStoreReset(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			store.Append(ctx, "qq:7", providers.Message{Role: "user", Content: "x"})
			if err := store.Reset(ctx, "qq:7"); err != nil {
				t.Fatalf("Reset: %v", err)
			}
			turns, _ := store.Recent(ctx, "qq:7", 10)
			if len(turns) != 0 {
				t.Errorf("turns after reset = %+v", turns)
			}
		})
	}
}

func TestStorePreservesToolTurns(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			assistant := providers.Message{
				Role: "assistant",
				ToolCalls: []providers.ToolCall{
					{ID: "c1", Name: "current_time", Arguments: map[string]any{"timezone": "UTC"}},
				},
			}
			tool := providers.Message{Role: "tool", ToolCallID: "c1", Content: "12:00"}
			if err := store.Append(ctx, "k", assistant, tool); err != nil {
				t.Fatalf("Append: %v", err)
			}

			turns, err := store.Recent(ctx, "k", 10)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(turns) != 2 {
				t.Fatalf("got %d turns", len(turns))
			}
			if len(turns[0].ToolCalls) != 1 || turns[0].ToolCalls[0].ID != "c1" {
				t.Errorf("assistant turn = %+v", turns[0])
			}
			if turns[1].ToolCallID != "c1" {
				t.Errorf("tool turn = %+v", turns[1])
			}
		})
	}
}

func TestMemoryStoreBounded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < maxTurnsPerChat+50; i++ {
		s.Append(ctx, "k", providers.Message{Role: "user", Content: fmt.Sprint(i)})
	}
	turns, _ := s.Recent(ctx, "k", 0)
	if len(turns) != maxTurnsPerChat {
		t.Errorf("len = %d, want %d", len(turns), maxTurnsPerChat)
	}
	if turns[len(turns)-1].Content != fmt.Sprint(maxTurnsPerChat+49) {
		t.Errorf("last turn = %q", turns[len(turns)-1].Content)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open(config.HistoryConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open(memory) = %T", s)
	}

	if _, err := Open(config.HistoryConfig{Backend: "redis"}); err == nil {
		t.Error("Open(redis) accepted unknown backend")
	}
}
