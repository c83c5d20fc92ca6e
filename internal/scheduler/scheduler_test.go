package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartRunsUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewIntervalScheduler(ctx, 5*time.Millisecond)
	s.RunImmediately = true

	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Start(func() {
			if runs.Add(1) >= 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestStartRejectsBadInterval(t *testing.T) {
	s := NewIntervalScheduler(context.Background(), 0)
	finished := make(chan struct{})
	go func() {
		s.Start(func() {})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("scheduler with zero interval must return immediately")
	}
}
