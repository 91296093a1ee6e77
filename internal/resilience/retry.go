// Package resilience provides bounded retry with exponential backoff for remote calls.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behavior with exponential backoff and jitter.
type Policy struct {
	// Attempts is the total number of tries including the first. Default: 3.
	Attempts int

	// BaseDelay is the wait before the first retry. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps any single wait. Default: 30s.
	MaxDelay time.Duration

	// Multiplier scales the wait after each attempt. Default: 2.0.
	Multiplier float64

	// Jitter is the +/- fraction of random spread applied to each wait.
	Jitter float64

	// Retryable decides whether an error is worth another attempt.
	// Nil means IsTransient.
	Retryable func(err error) bool

	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns the policy used for CRM page fetches.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.25,
	}
}

// NewPolicy builds a policy from config values; non-positive values keep the defaults.
func NewPolicy(attempts, baseDelayMs, maxDelayMs int) Policy {
	p := DefaultPolicy()
	if attempts > 0 {
		p.Attempts = attempts
	}
	if baseDelayMs > 0 {
		p.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	}
	if maxDelayMs > 0 {
		p.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	}
	return p
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts are
// exhausted, or ctx is done. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry is Do for functions that produce a value.
func Retry[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	var err error
	for attempt := 1; ; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || attempt >= p.Attempts {
			return zero, err
		}

		wait := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

// Delay returns the jittered wait that follows the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	d = math.Min(d, float64(p.MaxDelay))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// LogRetry returns an OnRetry hook that logs each retry at Warn.
func LogRetry(component, operation string) func(int, error, time.Duration) {
	return func(attempt int, err error, wait time.Duration) {
		zap.L().Warn("retrying operation",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}
