// Package jobs schedules and executes subscription lifecycle jobs: delayed
// expiry, expiry warnings and retention cleanup. Each job class carries a
// fixed retry policy; callers cannot override it.
package jobs

import (
	"fmt"
	"time"

	"subwatch/internal/types"
)

// BackoffKind selects how the delay between attempts grows.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// RetryPolicy is the per-class retry and retention policy.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffKind
	Base        time.Duration
	MaxDelay    time.Duration

	// KeepCompleted and KeepDead bound how many finished job records of the
	// class are retained for operators.
	KeepCompleted int
	KeepDead      int
}

// Delay returns the wait before retry k (k >= 1): Base * 2^(k-1) for
// exponential backoff, Base for fixed. The result never exceeds MaxDelay.
func (p RetryPolicy) Delay(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	d := p.Base
	if p.Backoff == BackoffExponential {
		for i := 1; i < k; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

var policies = map[types.JobClass]RetryPolicy{
	types.JobExpireSubscription: {
		MaxAttempts:   3,
		Backoff:       BackoffExponential,
		Base:          5 * time.Second,
		MaxDelay:      time.Hour,
		KeepCompleted: 10,
		KeepDead:      5,
	},
	types.JobExpiryWarning: {
		MaxAttempts:   3,
		Backoff:       BackoffExponential,
		Base:          2 * time.Second,
		MaxDelay:      time.Hour,
		KeepCompleted: 10,
		KeepDead:      5,
	},
	types.JobCleanup: {
		MaxAttempts:   2,
		Backoff:       BackoffFixed,
		Base:          10 * time.Second,
		MaxDelay:      time.Hour,
		KeepCompleted: 5,
		KeepDead:      5,
	},
}

// PolicyFor returns the fixed policy of a job class.
func PolicyFor(class types.JobClass) (RetryPolicy, error) {
	p, ok := policies[class]
	if !ok {
		return RetryPolicy{}, types.NewAppError(types.ErrCodeConfiguration, fmt.Sprintf("no policy for job class %q", class), nil)
	}
	return p, nil
}
