// Package scheduler drives the periodic trading cycle.
package scheduler

import (
	"context"
	"time"

	"krypto/internal/logger"
)

// IntervalScheduler runs a task every Interval, starting with an immediate
// run when RunImmediately is set. It stops when the context is done.
type IntervalScheduler struct {
	Interval       time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewIntervalScheduler(ctx context.Context, interval time.Duration) *IntervalScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &IntervalScheduler{
		Interval: interval,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks and invokes task on every tick. A task run that overlaps the
// next tick simply delays it; ticks never pile up.
func (s *IntervalScheduler) Start(task func()) {
	if s == nil || task == nil {
		logger.Warnf("IntervalScheduler: nothing to run, exit")
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("IntervalScheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	logger.Infof("IntervalScheduler: started interval=%s run_immediately=%v",
		s.Interval, s.RunImmediately)

	if s.RunImmediately {
		task()
	}

	timer := time.NewTimer(s.Interval)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("IntervalScheduler: ctx done, exit")
			return
		case <-timer.C:
		}
		task()
		timer.Reset(s.Interval)
	}
}
