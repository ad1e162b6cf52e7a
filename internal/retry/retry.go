// Package retry runs an operation a bounded number of times with a fixed or
// growing delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/autoapply/internal/utils"
)

// Policy describes how often and how far apart an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	// Delay is the pause before the second attempt.
	Delay time.Duration
	// Backoff multiplies the delay after each failed attempt. Values below 1 keep it fixed.
	Backoff float64
	// MaxDelay caps the grown delay when positive.
	MaxDelay time.Duration
}

// Fixed returns a policy with a constant delay.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Do calls fn until it succeeds, returns a permanent error, the attempts run out
// or ctx is done. attempt starts at 1.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	delay := p.Delay
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return fmt.Errorf("%w (last error: %v)", err, last)
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		last = err

		if attempt == attempts {
			break
		}

		if err := utils.WaitFor(ctx, delay); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, last)
		}
		delay = p.next(delay)
	}

	return &ExhaustedError{Attempts: attempts, Last: last}
}

func (p Policy) next(d time.Duration) time.Duration {
	if p.Backoff <= 1 {
		return d
	}
	d = time.Duration(float64(d) * p.Backoff)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
