package harnessports

import (
	"context"
	"time"
)

// Admission is the outcome of a rate limit check.
type Admission struct {
	Allowed    bool
	RetryAfter time.Duration // > 0 when denied
	Limit      int           // ceiling of the blocking window
	Window     string        // "minute" | "hour"
}

// RateLimiter decides per-user admission. It never errors; backend failures
// are the implementation's problem.
type RateLimiter interface {
	Admit(ctx context.Context, userID string, now time.Time) Admission
}
