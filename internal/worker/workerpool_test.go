package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	cr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	wp := NewWorkerPool(3, 100, zaptest.NewLogger(t))
	wp.Start(context.Background())

	var done int64
	for i := 0; i < 50; i++ {
		assert.True(t, wp.Enqueue(Task{Name: "count", Run: func(context.Context) error {
			atomic.AddInt64(&done, 1)
			return nil
		}}))
	}
	wp.Stop()

	assert.Equal(t, int64(50), atomic.LoadInt64(&done))
}

func TestWorkerPoolSurvivesErrorsAndPanics(t *testing.T) {
	wp := NewWorkerPool(1, 10, zaptest.NewLogger(t))
	wp.Start(context.Background())

	var done int64
	wp.Enqueue(Task{Name: "fails", Run: func(context.Context) error { return cr.New("boom") }})
	wp.Enqueue(Task{Name: "panics", Run: func(context.Context) error { panic("kaboom") }})
	wp.Enqueue(Task{Name: "ok", Run: func(context.Context) error {
		atomic.AddInt64(&done, 1)
		return nil
	}})
	wp.Stop()

	assert.Equal(t, int64(1), atomic.LoadInt64(&done))
}

func TestWorkerPoolDropsWhenFull(t *testing.T) {
	wp := NewWorkerPool(1, 1, zaptest.NewLogger(t))
	// sin Start: nadie consume la cola
	noop := Task{Name: "noop", Run: func(context.Context) error { return nil }}

	assert.True(t, wp.Enqueue(noop))
	assert.False(t, wp.Enqueue(noop))
	assert.Equal(t, 1, wp.Pending())
}

func TestWorkerPoolRejectsAfterStop(t *testing.T) {
	wp := NewWorkerPool(1, 10, zaptest.NewLogger(t))
	wp.Start(context.Background())
	wp.Stop()
	wp.Stop()

	assert.False(t, wp.Enqueue(Task{Name: "late", Run: func(context.Context) error { return nil }}))
}

func TestWorkerPoolStopsOnContextCancel(t *testing.T) {
	wp := NewWorkerPool(2, 10, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	wp.Start(ctx)
	cancel()

	stopped := make(chan struct{})
	go func() {
		wp.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after context cancel")
	}
}
