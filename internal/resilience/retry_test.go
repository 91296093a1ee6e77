package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("503"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	var retries []int
	p := fastPolicy(4)
	p.OnRetry = func(attempt int, err error, wait time.Duration) { retries = append(retries, attempt) }

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return NewTransientError(errors.New("timeout"), 504)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, retries)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{Attempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		return NewTransientError(errors.New("429"), 429)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastPolicy(2), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, NewTransientError(errors.New("reset"), 0)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRetry_CustomRetryable(t *testing.T) {
	calls := 0
	p := fastPolicy(3)
	p.Retryable = func(error) bool { return true }
	_, err := Retry(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("anything")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDelay_GrowsAndCaps(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))
	assert.Equal(t, 300*time.Millisecond, p.Delay(10))
}

func TestDelay_JitterBounded(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: 0.25}
	for range 50 {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestNewPolicy(t *testing.T) {
	p := NewPolicy(5, 100, 2000)
	assert.Equal(t, 5, p.Attempts)
	assert.Equal(t, 100*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 2*time.Second, p.MaxDelay)

	d := NewPolicy(0, 0, 0)
	assert.Equal(t, DefaultPolicy().Attempts, d.Attempts)
	assert.Equal(t, DefaultPolicy().BaseDelay, d.BaseDelay)
}
