package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/juancollazo-ch/sku-price-scanner/internal/clock"
	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
)

var t0 = time.Date(2025, 11, 18, 12, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, c clock.Clock) *Limiter {
	return New(time.Minute, 5, WithClock(c), WithLogger(zaptest.NewLogger(t)))
}

func TestLimiterBoundary(t *testing.T) {
	c := clock.NewMockClock(t0)
	l := newTestLimiter(t, c)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d should be admitted", i+1)
		c.Add(time.Second)
	}
	assert.False(t, l.Allow("10.0.0.1"), "6th request within window must be rejected")

	// otro cliente no se ve afectado
	assert.True(t, l.Allow("10.0.0.2"))

	// primer request en t0; pasado t0+window vuelve a admitir
	c.Set(t0.Add(time.Minute + time.Millisecond))
	assert.True(t, l.Allow("10.0.0.1"))
}

func TestLimiterRejectedRequestsAreNotCounted(t *testing.T) {
	c := clock.NewMockClock(t0)
	l := newTestLimiter(t, c)

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("a"))
	}
	for i := 0; i < 10; i++ {
		require.False(t, l.Allow("a"))
	}

	c.Add(time.Minute + time.Millisecond)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("a"))
	}
}

func TestLimiterCheckReturnsRateLimited(t *testing.T) {
	c := clock.NewMockClock(t0)
	l := newTestLimiter(t, c)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Check("a"))
	}
	c.Add(20 * time.Second)

	err := l.Check("a")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindRateLimited))

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, 40, appErr.Metadata["retry_after_seconds"])
}

func TestLimiterSweepReclaimsIdleClients(t *testing.T) {
	c := clock.NewMockClock(t0)
	l := newTestLimiter(t, c)

	for i := 0; i < 20; i++ {
		l.Allow(fmt.Sprintf("client-%d", i))
	}
	require.Equal(t, 20, l.Len())

	c.Add(30 * time.Second)
	l.Allow("client-0")
	assert.Equal(t, 0, l.Sweep())

	c.Add(31 * time.Second)
	assert.Equal(t, 19, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestLimiterRunSweepsPeriodically(t *testing.T) {
	c := clock.NewMockClock(t0)
	l := newTestLimiter(t, c)
	l.Allow("idle")
	c.Add(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestLimiterConcurrentAdmission(t *testing.T) {
	l := New(time.Minute, 5, WithLogger(zaptest.NewLogger(t)))

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), admitted)
}
