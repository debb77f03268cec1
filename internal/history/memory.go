package history

import (
	"context"
	"sync"

	"github.com/aetherpack/aetherbot/internal/providers"
)

// maxTurnsPerChat caps unbounded growth in long-lived chats; Recent
// windows are far smaller, so trimming the head loses nothing visible.
const maxTurnsPerChat = 500

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string][]providers.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[string][]providers.Message)}
}

func (s *MemoryStore) Append(_ context.Context, chatKey string, turns ...providers.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.chats[chatKey], turns...)
	if len(log) > maxTurnsPerChat {
		log = log[len(log)-maxTurnsPerChat:]
	}
	s.chats[chatKey] = log
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, chatKey string, limit int) ([]providers.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.chats[chatKey]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]providers.Message, len(log))
	copy(out, log)
	return out, nil
}

func (s *MemoryStore) Reset(_ context.Context, chatKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatKey)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
