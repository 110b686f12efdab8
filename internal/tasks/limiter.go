package tasks

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter keeps one token bucket per publisher host. A nil HostLimiter
// never blocks.
type HostLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	limit    rate.Limit
	burst    int
}

func NewHostLimiter(perSecond float64, burst int) *HostLimiter {
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil {
		return ctx.Err()
	}
	return h.limiterFor(host).Wait(ctx)
}

func (h *HostLimiter) limiterFor(host string) *rate.Limiter {
	h.mu.RLock()
	limiter, exists := h.limiters[host]
	h.mu.RUnlock()

	if exists {
		return limiter
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if limiter, exists := h.limiters[host]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(h.limit, h.burst)
	h.limiters[host] = limiter
	return limiter
}

// Hosts returns the number of publisher hosts seen so far.
func (h *HostLimiter) Hosts() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.limiters)
}
