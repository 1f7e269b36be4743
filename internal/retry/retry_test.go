package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
)

// recordingSleep guarda los delays pedidos sin dormir de verdad.
func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("always failing retryable operation runs exactly MaxAttempts times", func(t *testing.T) {
		var delays []time.Duration
		p := DefaultPolicy()
		p.Sleep = recordingSleep(&delays)

		calls := 0
		var last error
		err := WithRetry(context.Background(), p, func(context.Context) error {
			calls++
			last = apperrors.ErrTransientUpstream("boom", nil).WithMetadata("call", calls)
			return last
		})

		assert.Equal(t, 3, calls)
		assert.Same(t, last, err)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, delays)
	})

	t.Run("non retryable error short-circuits", func(t *testing.T) {
		var delays []time.Duration
		p := DefaultPolicy()
		p.Sleep = recordingSleep(&delays)

		calls := 0
		permanent := apperrors.ErrPermanentUpstream("bad request", nil)
		err := WithRetry(context.Background(), p, func(context.Context) error {
			calls++
			return permanent
		})

		assert.Equal(t, 1, calls)
		assert.Same(t, permanent, err)
		assert.Empty(t, delays)
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var delays []time.Duration
		p := DefaultPolicy()
		p.Sleep = recordingSleep(&delays)

		calls := 0
		err := WithRetry(context.Background(), p, func(context.Context) error {
			calls++
			if calls < 3 {
				return apperrors.ErrGatewayTimeout("slow", nil)
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Len(t, delays, 2)
	})

	t.Run("plain errors are not retried by default", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), DefaultPolicy(), func(context.Context) error {
			calls++
			return errors.New("plain")
		})
		assert.EqualError(t, err, "plain")
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops retries and keeps last error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := DefaultPolicy()
		p.Sleep = func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}

		calls := 0
		transient := apperrors.ErrTransientUpstream("down", nil)
		err := WithRetry(ctx, p, func(context.Context) error {
			calls++
			return transient
		})

		assert.Equal(t, 1, calls)
		assert.Same(t, transient, err)
	})

	t.Run("real timer backoff shape", func(t *testing.T) {
		p := Policy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 30 * time.Millisecond}

		var stamps []time.Time
		_ = WithRetry(context.Background(), p, func(context.Context) error {
			stamps = append(stamps, time.Now())
			return apperrors.ErrTransientUpstream("down", nil)
		})

		require.Len(t, stamps, 3)
		assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 20*time.Millisecond)
		assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 30*time.Millisecond)
		assert.Less(t, stamps[2].Sub(stamps[1]), 500*time.Millisecond)
	})
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 6*time.Second, p.WorstCaseBackoff())

	p.Jitter = 0.5
	assert.Equal(t, 9*time.Second, p.WorstCaseBackoff())
}

func TestJitterStaysWithinBounds(t *testing.T) {
	var delays []time.Duration
	p := Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 8 * time.Second, Jitter: 0.2}
	p.Sleep = recordingSleep(&delays)

	for i := 0; i < 50; i++ {
		_ = WithRetry(context.Background(), p, func(context.Context) error {
			return apperrors.ErrTransientUpstream("down", nil)
		})
	}

	require.Len(t, delays, 50)
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}
