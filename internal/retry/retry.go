// Package retry runs an operation a bounded number of times with a fixed delay
// between attempts, stopping early when the context is cancelled.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/phenrril/pharmastore/internal/domain"
)

// Exhaustion decides what Do returns once every attempt has failed.
type Exhaustion int

const (
	// Fail returns the last attempt's error.
	Fail Exhaustion = iota
	// Soft returns the zero value and a nil error.
	Soft
)

type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Exhausted   Exhaustion
}

// Do calls fn until it succeeds or p.MaxAttempts attempts have been made.
// Cancellation is checked before every attempt and after every failure, and
// reported as domain.ErrAborted without further attempts.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return zero, domain.ErrAborted
		}

		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, domain.ErrAborted) || ctx.Err() != nil {
			return zero, domain.ErrAborted
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, domain.ErrAborted
			case <-timer.C:
			}
		}
	}

	if p.Exhausted == Soft {
		return zero, nil
	}
	return zero, lastErr
}
