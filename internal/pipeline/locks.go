package pipeline

import (
	"sync"
	"time"
)

// lockArena hands out one mutex per chat key, created lazily. Entries
// are reference counted so eviction never drops a lock somebody holds.
type lockArena struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	maxIdle time.Duration
	sweepAt int
}

type lockEntry struct {
	mu       sync.Mutex
	refs     int
	lastUsed time.Time
}

func newLockArena() *lockArena {
	return &lockArena{
		entries: make(map[string]*lockEntry),
		maxIdle: 10 * time.Minute,
		sweepAt: 1024,
	}
}

// acquire blocks until the chat's lock is held.
func (a *lockArena) acquire(key string) *lockEntry {
	a.mu.Lock()
	e, ok := a.entries[key]
	if !ok {
		e = &lockEntry{}
		a.entries[key] = e
	}
	e.refs++
	a.mu.Unlock()

	e.mu.Lock()
	return e
}

// release unlocks and sweeps idle entries once the map grows past the
// threshold.
func (a *lockArena) release(key string, e *lockEntry) {
	e.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	e.refs--
	e.lastUsed = time.Now()

	if len(a.entries) < a.sweepAt {
		return
	}
	cutoff := time.Now().Add(-a.maxIdle)
	for k, entry := range a.entries {
		if entry.refs == 0 && entry.lastUsed.Before(cutoff) {
			delete(a.entries, k)
		}
	}
}

func (a *lockArena) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
