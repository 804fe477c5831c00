// Package jobs holds background jobs that run for the life of the server.
package jobs

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper removes sessions idle for longer than a timeout.
type Sweeper interface {
	SweepIdle(timeout time.Duration) []string
}

// IdleSweeper periodically ends sessions whose clients stopped sending audio
// without closing the connection.
type IdleSweeper struct {
	target   Sweeper
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewIdleSweeper creates the job. Zero durations use 300s idle timeout and a
// 60s interval.
func NewIdleSweeper(target Sweeper, timeout, interval time.Duration, logger *zap.Logger) *IdleSweeper {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &IdleSweeper{
		target:   target,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background job.
func (j *IdleSweeper) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Info("idle_sweeper: started",
		zap.Duration("interval", j.interval),
		zap.Duration("timeout", j.timeout),
	)
}

// Stop stops the job and waits for a running sweep to finish. Safe to call
// more than once.
func (j *IdleSweeper) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
	j.logger.Info("idle_sweeper: stopped")
}

func (j *IdleSweeper) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce()
		case <-j.stopCh:
			return
		}
	}
}

// RunOnce performs a single sweep and returns the removed session ids.
func (j *IdleSweeper) RunOnce() []string {
	ids := j.target.SweepIdle(j.timeout)
	if len(ids) > 0 {
		j.logger.Info("idle_sweeper: removed idle sessions", zap.Int("count", len(ids)))
	}
	return ids
}
