package handlers

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter bounds request rates per client key. A nil limiter allows
// everything.
type RateLimiter interface {
	Allow(key string) bool
}

// NewRateLimiter returns a fixed-window in-memory limiter, or nil when the
// limit or window is not positive.
func NewRateLimiter(limit int, window time.Duration) RateLimiter {
	return newWindowLimiter(limit, window, time.Now)
}

type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]countWindow
}

type countWindow struct {
	startedAt time.Time
	count     int
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) RateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]countWindow),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || now.Sub(current.startedAt) >= l.window {
		l.dropStaleLocked(now)
		l.windows[key] = countWindow{startedAt: now, count: 1}
		return true
	}
	if current.count >= l.limit {
		return false
	}
	current.count++
	l.windows[key] = current
	return true
}

// dropStaleLocked evicts windows that have fully elapsed so idle keys do not
// accumulate. Called with the mutex held.
func (l *windowLimiter) dropStaleLocked(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.startedAt) >= l.window {
			delete(l.windows, key)
		}
	}
}
