// Package retry provides an explicit retry policy for calls to best-effort
// collaborators such as the room metadata cache.
//
// The policy is deliberately separate from the code that uses it: callers
// declare how many attempts they get and how long to wait between them, and
// which errors are worth retrying, instead of open-coding sleep loops.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes a bounded retry schedule.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff is the delay between consecutive attempts.
	Backoff time.Duration

	// Retryable classifies errors. A nil Retryable retries every error.
	Retryable func(error) bool

	// Sleep is overridable for tests. Nil means a context-aware real sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// CachePolicy is the schedule the auxiliary cache client uses: three attempts
// with one second between them.
func CachePolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     time.Second,
	}
}

// Do runs fn under the policy. It returns nil as soon as an attempt succeeds,
// the last error once attempts are exhausted or fn returns a non-retryable
// error, and the context error if ctx is canceled while waiting.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, last)
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(last) {
			return last
		}
		if attempt == attempts {
			break
		}
		if p.Backoff > 0 {
			if err := sleep(ctx, p.Backoff); err != nil {
				return errors.Join(err, last)
			}
		}
	}
	return last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
