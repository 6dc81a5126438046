package common

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket whose rate and burst can be changed while
// callers are waiting on it. Work-item processors use it to pace child
// publication so a single wide generation cannot flood the task queue.
type RateLimiter struct {
	mu      sync.RWMutex // guards limiter swaps during UpdateLimits
	limiter *rate.Limiter
}

// NewRateLimiter creates a RateLimiter allowing rps events per second with
// bursts of up to burst events. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until an event is permitted or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Wait(ctx)
}

// WaitN blocks until n events are permitted or ctx is done. Requests larger
// than the burst are split so they never fail outright.
func (rl *RateLimiter) WaitN(ctx context.Context, n int) error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	burst := rl.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := rl.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// UpdateLimits adjusts the rate and burst in place.
func (rl *RateLimiter) UpdateLimits(rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rps <= 0 {
		rl.limiter.SetLimit(rate.Inf)
	} else {
		rl.limiter.SetLimit(rate.Limit(rps))
	}
	rl.limiter.SetBurst(max(burst, 1))
}
