// Package ratelimit guards the AI enrichment budget with a process-wide daily
// counter of call attempts.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultDailyLimit is the number of enrichment call attempts allowed per UTC day
const DefaultDailyLimit = 100

// State is a point-in-time view of the limiter
type State struct {
	Count       int       `json:"count"`
	Limit       int       `json:"limit"`
	WindowStart time.Time `json:"window_start"`
	ResetsAt    time.Time `json:"resets_at"`
}

// Remaining returns the attempts left in the current window
func (s State) Remaining() int {
	if s.Count >= s.Limit {
		return 0
	}
	return s.Limit - s.Count
}

// Limiter counts call attempts in a window that resets at UTC midnight.
// Safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	limit       int
	count       int
	windowStart time.Time
	now         func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter allowing limit attempts per day
func New(limit int, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	l := &Limiter{
		limit: limit,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.windowStart = startOfDay(l.now())
	return l
}

// RecordAttempt counts one call attempt, whether or not the call succeeds
func (l *Limiter) RecordAttempt() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.count++
}

// IsLimited reports whether the day's budget is spent
func (l *Limiter) IsLimited() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.count >= l.limit
}

// Snapshot returns the current state
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return State{
		Count:       l.count,
		Limit:       l.limit,
		WindowStart: l.windowStart,
		ResetsAt:    l.windowStart.AddDate(0, 0, 1),
	}
}

// rollLocked starts a new window once the clock passes the next UTC midnight.
// Caller holds mu.
func (l *Limiter) rollLocked() {
	now := l.now()
	if !now.Before(l.windowStart.AddDate(0, 0, 1)) {
		l.windowStart = startOfDay(now)
		l.count = 0
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
