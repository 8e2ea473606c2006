package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many Allow calls pass between removals of idle keys.
const sweepEvery = 1024

var _ Limiter = (*MemoryLimiter)(nil)

// MemoryLimiter is a sliding-window limiter local to one process.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	calls  int
	now    func() time.Time
}

// NewMemoryLimiter allows limit requests per sliding window. Non-positive
// values fall back to DefaultLimit and DefaultWindow.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	limit, window = normalize(limit, window)
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(cutoff)
	}

	recent := prune(l.hits[key], cutoff)
	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false, nil
	}
	l.hits[key] = append(recent, now)
	return true, nil
}

func (l *MemoryLimiter) sweep(cutoff time.Time) {
	for k, ts := range l.hits {
		if len(prune(ts, cutoff)) == 0 {
			delete(l.hits, k)
		}
	}
}

// prune drops timestamps at or before cutoff. ts is in ascending order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
