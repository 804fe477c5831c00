package session

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a session id is not registered.
var ErrNotFound = errors.New("session not found")

// Reason explains why a session left the registry.
type Reason string

const (
	ReasonEnded        Reason = "ended"
	ReasonDisconnected Reason = "disconnected"
	ReasonIdle         Reason = "idle"
	ReasonReplaced     Reason = "replaced"
)

// Registry maps session ids to live sessions. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	now       func() time.Time
	onDestroy []func(*Session, Reason)
	gen       uint64 // guarded by mu
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// OnDestroy registers a hook run after a session is removed. Hooks run
// outside the registry lock. Register hooks before serving traffic.
func (r *Registry) OnDestroy(fn func(*Session, Reason)) {
	r.onDestroy = append(r.onDestroy, fn)
}

// Create registers a new session. An existing session with the same id is
// replaced and its destroy hooks run.
func (r *Registry) Create(id string, opts Options) *Session {
	r.mu.Lock()
	r.gen++
	s := newSession(id, r.gen, opts, r.now())
	old := r.sessions[id]
	r.sessions[id] = s
	r.mu.Unlock()

	if old != nil {
		r.destroyed(old, ReasonReplaced)
	}
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Current reports whether s is still the registered session for its id.
// In-flight work uses it to drop results for sessions that ended.
func (r *Registry) Current(s *Session) bool {
	cur, ok := r.Get(s.ID)
	return ok && cur == s
}

// Touch records activity on a session.
func (r *Registry) Touch(id string) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	s.touch(r.now())
	return true
}

// Destroy removes the session with the given id.
func (r *Registry) Destroy(id string, reason Reason) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		r.destroyed(s, reason)
	}
	return ok
}

// Remove deletes s only if it is still the registered session for its id,
// so a stale connection cannot tear down its replacement.
func (r *Registry) Remove(s *Session, reason Reason) bool {
	r.mu.Lock()
	cur, ok := r.sessions[s.ID]
	ok = ok && cur == s
	if ok {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()

	if ok {
		r.destroyed(s, reason)
	}
	return ok
}

// SweepIdle destroys every session whose last activity is older than
// timeout and returns their ids.
func (r *Registry) SweepIdle(timeout time.Duration) []string {
	cutoff := r.now().Add(-timeout)

	var evicted []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, s)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(evicted))
	for _, s := range evicted {
		r.destroyed(s, ReasonIdle)
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) destroyed(s *Session, reason Reason) {
	s.Audio.Reset()
	for _, fn := range r.onDestroy {
		fn(s, reason)
	}
}
