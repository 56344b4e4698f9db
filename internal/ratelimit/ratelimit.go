// Package ratelimit provides per-key token buckets behind a common
// interface, with an in-process backend for single replicas and a Redis
// backend for fleets.
package ratelimit

import "context"

// Limit is one bucket's refill rate and capacity.
type Limit struct {
	RPS   float64
	Burst float64
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed           bool
	Remaining         float64
	RetryAfterSeconds int
}

type Limiter interface {
	// Allow consumes one token from key's bucket if available.
	Allow(ctx context.Context, key string, lim Limit) (Decision, error)
	Close() error
}
