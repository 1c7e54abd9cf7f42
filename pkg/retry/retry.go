// Package retry runs an operation again after transient failures, with
// exponential backoff and jitter. It is used around startup connections to
// the store and around reconciliation inserts that lose a race to another
// writer.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ══════════════════════════════════════════════════════════════════════════════

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err for retry under a policy without RetryIf.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked Retryable.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent stops retrying regardless of RetryIf. Do returns the wrapped
// error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// unmark strips a top-level marker so callers see their own error.
func unmark(err error) error {
	switch e := err.(type) {
	case *retryableError:
		return e.err
	case *permanentError:
		return e.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy describes how often and how long to retry. The zero value makes a
// single attempt.
type Policy struct {
	// Attempts includes the first call.
	Attempts int

	// BaseDelay doubles after every failed attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Jitter spreads each delay by ±Jitter of its value (0..1).
	Jitter float64

	// RetryIf selects retryable errors; nil retries only Retryable errors.
	RetryIf func(error) bool

	// OnRetry is called before sleeping.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// StartupRetrier waits for a dependency that may come up after the process,
// such as the database in a compose stack. Errors must be marked Retryable.
func StartupRetrier(onRetry func(attempt int, err error, delay time.Duration)) *Policy {
	return &Policy{
		Attempts:  6,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  8 * time.Second,
		Jitter:    0.1,
		OnRetry:   onRetry,
	}
}

// ConflictRetrier retries operations whose errors satisfy isConflict.
// A reconciliation pass that loses an insert race re-reads the store and
// plans again.
func ConflictRetrier(attempts int, isConflict func(error) bool, onRetry func(attempt int, err error, delay time.Duration)) *Policy {
	return &Policy{
		Attempts:  attempts,
		BaseDelay: 20 * time.Millisecond,
		MaxDelay:  500 * time.Millisecond,
		Jitter:    0.2,
		RetryIf:   isConflict,
		OnRetry:   onRetry,
	}
}

// Do calls op until it succeeds, returns a non-retryable error, or the
// attempts run out. Markers are stripped from the returned error. A context
// cancelled between attempts returns the last operation error.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return unmark(last)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err

		if IsPermanent(err) || !p.shouldRetry(err) || attempt >= attempts {
			return unmark(err)
		}

		delay := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmark(last)
		case <-timer.C:
		}
	}
}

func (p *Policy) shouldRetry(err error) bool {
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return IsRetryable(err)
}

func (p *Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && (p.MaxDelay <= 0 || d < p.MaxDelay); i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * (rand.Float64()*2 - 1))
	}
	return max(d, 0)
}
