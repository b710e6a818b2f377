package ratelimit

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// breaker keeps a failing backend out of rotation for a cool-down period.
type breaker struct {
	cooldown time.Duration

	mu        sync.Mutex
	openUntil time.Time
}

func newBreaker(cooldown time.Duration) *breaker {
	return &breaker{cooldown: cooldown}
}

// Open reports whether the backend is currently suspended.
func (b *breaker) Open(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if now.Before(b.openUntil) {
		return true
	}
	b.openUntil = time.Time{}
	return false
}

// Trip suspends the backend unless it is already suspended.
func (b *breaker) Trip(err error, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Before(b.openUntil) {
		return
	}
	b.openUntil = now.Add(b.cooldown)
	log.WithError(err).WithField("retry_after", b.cooldown).Warn("rate limit: redis unavailable, using in-memory limiter")
}
