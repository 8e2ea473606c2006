// Package ratelimit counts requests per client key over a time window.
package ratelimit

import (
	"context"
	"time"
)

// Budget used by the constructors when given a non-positive limit or window.
const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

// Limiter reports whether one more request for key fits in the window.
// An error means the backend could not decide.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

func normalize(limit int, window time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return limit, window
}
