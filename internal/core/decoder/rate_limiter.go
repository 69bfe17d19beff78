package decoder

import (
	"sync"
	"time"
)

// FragmentRateLimiter caps how many fragments one source may contribute
// per window. Windows advance on the timestamps passed to Allow, so a
// capture file is limited by its own timeline rather than by how fast it
// is read.
type FragmentRateLimiter struct {
	mu          sync.Mutex
	counts      map[[4]byte]int
	windowStart time.Time
	window      time.Duration
	limit       int
	rejected    int64
}

// NewFragmentRateLimiter returns nil when maxPerWindow is not positive; a
// nil limiter allows everything.
func NewFragmentRateLimiter(maxPerWindow int, window time.Duration) *FragmentRateLimiter {
	if maxPerWindow <= 0 {
		return nil
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &FragmentRateLimiter{
		counts: make(map[[4]byte]int),
		window: window,
		limit:  maxPerWindow,
	}
}

// Allow counts one fragment from src at time now.
func (l *FragmentRateLimiter) Allow(src [4]byte, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window || now.Before(l.windowStart) {
		clear(l.counts)
		l.windowStart = now
	}

	l.counts[src]++
	if l.counts[src] > l.limit {
		l.rejected++
		return false
	}
	return true
}

// Rejected returns the total number of fragments refused.
func (l *FragmentRateLimiter) Rejected() int64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejected
}

// Sources returns the number of sources seen in the current window.
func (l *FragmentRateLimiter) Sources() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
