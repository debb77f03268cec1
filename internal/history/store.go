// Package history persists conversation turns per chat key, bounded to a
// configurable window. Two backends: in-memory for ephemeral runs and
// sqlite for persistence across restarts.
package history

import (
	"context"
	"fmt"

	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/providers"
)

// Store holds conversation turns keyed by platform-scoped chat key.
type Store interface {
	// Append records turns at the end of a chat's history.
	Append(ctx context.Context, chatKey string, turns ...providers.Message) error

	// Recent returns up to limit most recent turns in chronological order.
	Recent(ctx context.Context, chatKey string, limit int) ([]providers.Message, error)

	// Reset drops a chat's history.
	Reset(ctx context.Context, chatKey string) error

	// Close releases backend resources.
	Close() error
}

// Open builds the store selected by config.
func Open(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("history: unknown backend %q", cfg.Backend)
	}
}
