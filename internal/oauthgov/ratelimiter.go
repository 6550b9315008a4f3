package oauthgov

import (
	"sync"
	"time"
)

// fixedWindowLimiter implements fixed-start-bucket rate
// limit: a window is a bucket with a monotone resetAt, not a sliding
// count, so a burst that lands just before the boundary cannot double
// the effective rate the way a sliding window would mask it. This is a
// deliberate stdlib implementation (see DESIGN.md): golang.org/x/time/rate
// gives a token bucket, which refills continuously rather than resetting
// at a fixed boundary, so it does not express this contract.
type fixedWindowLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	windowStart time.Time
	count       int
}

func newFixedWindowLimiter(limit int, window time.Duration) *fixedWindowLimiter {
	return &fixedWindowLimiter{limit: limit, window: window, windowStart: time.Now()}
}

// allow reports whether the next call is permitted and the unix-millis
// resetAt of the current (or just-started) window.
func (l *fixedWindowLimiter) allow() (bool, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
	resetAt := l.windowStart.Add(l.window).UnixMilli()

	if l.count >= l.limit {
		return false, resetAt
	}
	l.count++
	return true, resetAt
}
