package httpapi

import (
	"sync"
	"sync/atomic"
)

// ConnRegistry counts open voice connections and supports draining: once
// draining starts new connections are refused while open ones finish.
//
// Add checks the draining flag and increments the WaitGroup under one lock,
// so a Wait that follows StartDraining cannot miss a connection.
type ConnRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
}

func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{}
}

// Add registers a connection. It returns false while draining.
func (cr *ConnRegistry) Add() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.draining {
		return false
	}
	cr.wg.Add(1)
	cr.count.Add(1)
	return true
}

// Done must be called exactly once per successful Add.
func (cr *ConnRegistry) Done() {
	cr.count.Add(-1)
	cr.wg.Done()
}

func (cr *ConnRegistry) StartDraining() {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.draining = true
}

func (cr *ConnRegistry) IsDraining() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.draining
}

func (cr *ConnRegistry) ActiveCount() int64 {
	return cr.count.Load()
}

// Wait blocks until every connection is done.
func (cr *ConnRegistry) Wait() {
	cr.wg.Wait()
}
