package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AccessStage gates senders. Blacklist beats whitelist; an empty
// whitelist means everyone. Rejected messages end the run with no reply.
type AccessStage struct{}

func (AccessStage) Name() string { return "access" }

func (AccessStage) Run(_ context.Context, st *State) error {
	mod := st.Snap.Moderation
	for _, id := range mod.Blacklist {
		if id == st.Msg.SenderID {
			slog.Debug("pipeline: sender blacklisted", "sender", st.Msg.SenderID)
			st.Terminal = true
			return nil
		}
	}
	if len(mod.Whitelist) == 0 {
		return nil
	}
	for _, id := range mod.Whitelist {
		if id == st.Msg.SenderID {
			return nil
		}
	}
	slog.Debug("pipeline: sender not whitelisted", "sender", st.Msg.SenderID)
	st.Terminal = true
	return nil
}

// maxRateKeys bounds the tracking map; once full, new chats are admitted
// untracked rather than evicting active windows.
const maxRateKeys = 4096

// RateStage enforces a per-chat sliding window of N messages per minute.
// Over-limit messages end the run silently.
type RateStage struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewRateStage() *RateStage {
	return &RateStage{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (*RateStage) Name() string { return "ratelimit" }

func (r *RateStage) Run(_ context.Context, st *State) error {
	limit := st.Snap.Moderation.RateLimitPerMinute
	if limit <= 0 {
		return nil
	}

	key := st.Msg.ChatKey()
	now := r.now()
	cutoff := now.Add(-time.Minute)

	r.mu.Lock()
	defer r.mu.Unlock()

	window := r.windows[key]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		r.windows[key] = kept
		slog.Debug("pipeline: rate limited", "chat", key, "limit", limit)
		st.Terminal = true
		return nil
	}

	if _, tracked := r.windows[key]; !tracked && len(r.windows) >= maxRateKeys {
		return nil
	}
	r.windows[key] = append(kept, now)
	return nil
}
