// Package retry runs calls to external services with per-attempt timeouts
// and a fixed backoff schedule.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy describes how an operation is attempted.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// Backoff[i] is the wait after the (i+1)th failed attempt. The last entry
	// is reused when the schedule is shorter than Attempts-1.
	Backoff []time.Duration
	// AttemptTimeout bounds each attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration
	// OnRetry, when set, is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Once runs an operation a single time under timeout.
func Once(timeout time.Duration) Policy {
	return Policy{Attempts: 1, AttemptTimeout: timeout}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op according to p and returns the first successful result or the
// last error. Cancelling ctx stops further attempts.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(p.Attempts, 1)

	var (
		result  T
		attempt int
	)
	err := goretry.Do(ctx, p.backoff(attempts), func(ctx context.Context) error {
		attempt++

		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		v, err := op(actx)
		cancel()
		if err == nil {
			result = v
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) || ctx.Err() != nil || attempt >= attempts {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		return goretry.RetryableError(err)
	})
	if err != nil {
		var zero T
		var perm *permanentError
		if errors.As(err, &perm) {
			err = perm.err
		}
		if attempt > 1 {
			return zero, fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		return zero, err
	}
	return result, nil
}

func (p Policy) backoff(attempts int) goretry.Backoff {
	i := 0
	next := goretry.BackoffFunc(func() (time.Duration, bool) {
		if len(p.Backoff) == 0 {
			return 0, false
		}
		d := p.Backoff[min(i, len(p.Backoff)-1)]
		i++
		return d, false
	})
	return goretry.WithMaxRetries(uint64(attempts-1), next)
}
