package ratelimit

import (
	"sync"
	"time"
)

// Limiter bounds per-key request volume inside a fixed time window.
// Implementations decide where counters live; handlers only call Allow.
type Limiter interface {
	Allow(key string) bool
}

type windowEntry struct {
	count         int
	windowResetAt time.Time
}

// MemoryLimiter keeps fixed-window counters in a process-local map.
// Counters vanish on restart and diverge across instances; deployments that
// run more than one replica should use the Redis-backed limiter instead.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]windowEntry
}

// NewMemoryLimiter creates an in-process fixed-window limiter.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Hour
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		entries: make(map[string]windowEntry),
	}
}

// Allow returns true when the key is within quota. The window resets
// wholesale at its boundary, so a caller can burst up to twice the limit
// across a window seam; that imprecision is accepted.
func (l *MemoryLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok || now.After(entry.windowResetAt) {
		l.entries[key] = windowEntry{count: 1, windowResetAt: now.Add(l.window)}
		return true
	}
	if entry.count >= l.limit {
		return false
	}
	entry.count++
	l.entries[key] = entry
	return true
}
