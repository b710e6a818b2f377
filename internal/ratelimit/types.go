package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool      // Whether the request may proceed.
	Remaining int       // Requests left in the current window.
	Reset     time.Time // Start of the next window.
}

// Limiter provides rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

// decide turns the hit count of the one-second window starting at sec into a Result.
func decide(limit int, hits int64, sec int64) Result {
	reset := time.Unix(sec+1, 0).UTC()
	if hits > int64(limit) {
		return Result{Allowed: false, Remaining: 0, Reset: reset}
	}
	return Result{Allowed: true, Remaining: limit - int(hits), Reset: reset}
}
