// Package ratelimit throttles requests per client key, in process memory
// or in Redis when several replicas share the budget.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the limiter backend cannot be reached.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Decision is the answer to a single Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
