// Package adapters connects the gateway to chat platforms. Each adapter
// decodes wire events into message.Message, publishes them on the
// dispatcher, and encodes message.Outbound back to its platform.
package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aetherpack/aetherbot/internal/dispatcher"
	"github.com/aetherpack/aetherbot/internal/message"
)

// Adapter is one platform connection.
type Adapter interface {
	// Name returns the platform id used in chat keys ("telegram",
	// "discord", "onebot", "dingtalk", "lark").
	Name() string

	// Start connects and begins publishing inbound events. Non-blocking;
	// the connection lives until Stop or ctx cancellation.
	Start(ctx context.Context) error

	// Stop disconnects and releases resources.
	Stop() error

	// Send delivers a reply to the platform.
	Send(ctx context.Context, out *message.Outbound) error
}

// Manager owns the enabled adapters and routes outbound replies to the
// right platform.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	bus      *dispatcher.Dispatcher
}

func NewManager(bus *dispatcher.Dispatcher) *Manager {
	return &Manager{adapters: make(map[string]Adapter), bus: bus}
}

// Add registers an adapter before StartAll.
func (m *Manager) Add(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.Name()] = a
}

// Len returns the number of registered adapters.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.adapters)
}

// StartAll starts every adapter concurrently; one platform failing to
// connect does not block the others. Returns the first start error so
// the caller can surface a degraded launch.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var g errgroup.Group
	for name, a := range m.adapters {
		g.Go(func() error {
			if err := a.Start(ctx); err != nil {
				slog.Error("adapter failed to start", "platform", name, "error", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			m.bus.Publish(dispatcher.Event{Kind: dispatcher.EventConnected, PlatformID: name})
			return nil
		})
	}
	return g.Wait()
}

// StopAll disconnects every adapter.
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, a := range m.adapters {
		if err := a.Stop(); err != nil {
			slog.Warn("adapter stop failed", "platform", name, "error", err)
		}
		m.bus.Publish(dispatcher.Event{Kind: dispatcher.EventDisconnected, PlatformID: name})
	}
}

// Send routes a reply to the adapter that owns its platform.
func (m *Manager) Send(ctx context.Context, out *message.Outbound) error {
	m.mu.RLock()
	a, ok := m.adapters[out.PlatformID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no adapter for platform %q", out.PlatformID)
	}
	return a.Send(ctx, out)
}
