// Package backoff provides a generic retry executor with exponential
// backoff and jitter. Callers classify each failure into a Decision so
// the backoff math stays decoupled from the call site.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Decision tells the executor how to treat a failed attempt.
type Decision struct {
	// Retry indicates the attempt may be repeated.
	Retry bool
	// MinWindow, when nonzero, extends retrying past MaxAttempts until at
	// least this much time has elapsed since the first attempt.
	MinWindow time.Duration
}

// Classifier maps an attempt error to a retry Decision. A nil Classifier
// retries every error up to MaxAttempts.
type Classifier func(err error) Decision

// Executor retries an operation with exponentially growing delays.
// The zero value is not usable; construct with the fields set.
type Executor struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay before jitter.
	MaxDelay time.Duration
	// Jitter returns an additional random delay component. Defaults to a
	// uniform value in [0, BaseDelay).
	Jitter func() time.Duration
	// Classify decides retryability per error.
	Classify Classifier
	// Sleep is overridable for tests. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now is overridable for tests.
	Now func() time.Time
}

// Retryable is a single attempt of the operation under retry.
type Retryable[T any] func(ctx context.Context) (T, error)

func (e *Executor) jitter() time.Duration {
	if e.Jitter != nil {
		return e.Jitter()
	}
	if e.BaseDelay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(e.BaseDelay)))
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Do runs fn until it succeeds, the classifier declines a retry, the
// attempt budget (and any minimum retry window) is exhausted, or ctx is
// done. The last error is returned unwrapped so callers can inspect it.
func Do[T any](ctx context.Context, e *Executor, fn Retryable[T]) (T, error) {
	var zero T
	start := e.now()
	delay := e.BaseDelay
	var minWindow time.Duration

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		d := Decision{Retry: true}
		if e.Classify != nil {
			d = e.Classify(err)
		}
		if !d.Retry {
			return zero, err
		}
		if d.MinWindow > minWindow {
			minWindow = d.MinWindow
		}

		withinWindow := minWindow > 0 && e.now().Sub(start) < minWindow
		if attempt >= e.MaxAttempts && !withinWindow {
			return zero, err
		}

		wait := delay + e.jitter()
		if e.MaxDelay > 0 && wait > e.MaxDelay {
			wait = e.MaxDelay
		}
		if err := e.sleep(ctx, wait); err != nil {
			return zero, err
		}
		delay *= 2
		if e.MaxDelay > 0 && delay > e.MaxDelay {
			delay = e.MaxDelay
		}
	}
}
