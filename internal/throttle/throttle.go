// Package throttle bounds the per-owner request rate with fixed time
// windows. It is checked before any storage or reasoning-backend work so
// an over-quota caller costs nothing downstream. Counters live in memory
// and reset on restart.
package throttle

import (
	"sync"
	"time"
)

// Defaults: 30 requests per 60-second window per owner.
const (
	DefaultLimit  = 30
	DefaultWindow = 60 * time.Second
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// Guard is a fixed-window rate limiter keyed by owner.
type Guard struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	windows map[string]*window
	now     func() time.Time
}

// New creates a Guard. Non-positive arguments fall back to the defaults.
func New(limit int, period time.Duration) *Guard {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = DefaultWindow
	}
	return &Guard{
		limit:   limit,
		period:  period,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow counts one request for owner and reports whether it fits in the
// current window. Counting and checking happen under one lock so
// concurrent bursts never undercount.
func (g *Guard) Allow(owner string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	w, ok := g.windows[owner]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(g.period)}
		g.windows[owner] = w
	}

	if w.count >= g.limit {
		return Decision{Allowed: false, Limit: g.limit, Remaining: 0, ResetAt: w.resetAt}
	}

	w.count++
	return Decision{
		Allowed:   true,
		Limit:     g.limit,
		Remaining: g.limit - w.count,
		ResetAt:   w.resetAt,
	}
}

// Prune drops expired windows and returns how many were removed.
func (g *Guard) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for owner, w := range g.windows {
		if now.After(w.resetAt) {
			delete(g.windows, owner)
			removed++
		}
	}
	return removed
}

// Reset clears the counter for one owner. Used by tests and maintenance.
func (g *Guard) Reset(owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.windows, owner)
}
