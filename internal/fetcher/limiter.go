package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter wraps a rate.Limiter that speeds up by 20% after each success
// (up to 2x the initial rate) and halves after a 429 (down to 1/4 of it).
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	current rate.Limit
	min     rate.Limit
	max     rate.Limit
}

// NewAdaptiveLimiter creates an adaptive limiter starting at perSec requests per second.
func NewAdaptiveLimiter(perSec float64, burst int) *AdaptiveLimiter {
	if burst <= 0 {
		burst = 1
	}
	initial := rate.Limit(perSec)
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initial, burst),
		current: initial,
		min:     initial / 4,
		max:     initial * 2,
	}
}

// Wait blocks until the limiter admits one request.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess nudges the rate up.
func (a *AdaptiveLimiter) OnSuccess() {
	a.set(a.Limit() * 1.2)
}

// OnRateLimit halves the rate after the remote side throttled us.
func (a *AdaptiveLimiter) OnRateLimit() {
	next := a.set(a.Limit() * 0.5)
	zap.L().Warn("fetcher: throttled by remote, reducing rate", zap.Float64("new_rate", float64(next)))
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *AdaptiveLimiter) set(l rate.Limit) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	l = max(min(l, a.max), a.min)
	a.current = l
	a.limiter.SetLimit(l)
	return l
}
