package adapters

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// maxLimiterKeys bounds the per-chat limiter map.
const maxLimiterKeys = 2048

// SendLimiter paces outbound messages per chat so the gateway stays
// under platform flood limits. Platforms throttle per conversation,
// hence one token bucket per chat id.
type SendLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewSendLimiter allows roughly perSecond messages per chat with the
// given burst.
func NewSendLimiter(perSecond float64, burst int) *SendLimiter {
	return &SendLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(perSecond),
		burst:    burst,
	}
}

// Wait blocks until the chat may send again or ctx is done.
func (l *SendLimiter) Wait(ctx context.Context, chatID string) error {
	l.mu.Lock()
	lim, ok := l.limiters[chatID]
	if !ok {
		if len(l.limiters) >= maxLimiterKeys {
			// full map: drop the whole table rather than one hot chat
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[chatID] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}
