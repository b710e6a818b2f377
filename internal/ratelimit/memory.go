package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memorySweepThreshold is the number of tracked keys that triggers pruning of stale windows.
const memorySweepThreshold = 1024

type window struct {
	sec  int64
	hits int64
}

// MemoryLimiter counts hits per key in one-second windows inside this process.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]window
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]window)}
}

// Allow records a hit for key and reports whether it fits within limit.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()

	l.mu.Lock()
	if len(l.windows) >= memorySweepThreshold {
		for k, w := range l.windows {
			if w.sec != sec {
				delete(l.windows, k)
			}
		}
	}
	w := l.windows[key]
	if w.sec != sec {
		w = window{sec: sec}
	}
	w.hits++
	l.windows[key] = w
	l.mu.Unlock()

	return decide(limit, w.hits, sec), nil
}

// Len reports the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
