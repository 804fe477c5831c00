package jobs

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/medimitra/voiceagent/internal/session"
)

type countingSweeper struct {
	mu       sync.Mutex
	calls    int
	timeouts []time.Duration
}

func (c *countingSweeper) SweepIdle(timeout time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.timeouts = append(c.timeouts, timeout)
	return nil
}

func (c *countingSweeper) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestIdleSweeperDefaults(t *testing.T) {
	j := NewIdleSweeper(&countingSweeper{}, 0, 0, zap.NewNop())
	if j.timeout != 300*time.Second || j.interval != 60*time.Second {
		t.Errorf("defaults = %v/%v, want 5m0s/1m0s", j.timeout, j.interval)
	}
}

func TestIdleSweeperTicks(t *testing.T) {
	target := &countingSweeper{}
	j := NewIdleSweeper(target, time.Minute, 5*time.Millisecond, zap.NewNop())
	j.Start()

	deadline := time.Now().Add(2 * time.Second)
	for target.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	j.Stop()
	j.Stop()

	if target.count() < 2 {
		t.Fatalf("sweeps = %d, want at least 2", target.count())
	}
	after := target.count()
	time.Sleep(20 * time.Millisecond)
	if target.count() != after {
		t.Error("sweeper kept running after Stop")
	}
	if target.timeouts[0] != time.Minute {
		t.Errorf("timeout = %v, want 1m0s", target.timeouts[0])
	}
}

func TestIdleSweeperRemovesIdleSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg := session.NewRegistry()
	reg.SetClock(func() time.Time { return now })

	reg.Create("old", session.Options{})
	now = now.Add(4 * time.Minute)
	reg.Create("fresh", session.Options{})
	now = now.Add(2 * time.Minute)

	j := NewIdleSweeper(reg, 5*time.Minute, time.Hour, zap.NewNop())
	got := j.RunOnce()
	if len(got) != 1 || got[0] != "old" {
		t.Errorf("RunOnce() = %v, want [old]", got)
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}
