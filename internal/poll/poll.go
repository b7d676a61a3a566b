// Package poll implements bounded retry-until-condition waits used in place
// of fixed sleeps.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Condition reports whether the awaited state holds. A returned error is
// recorded as the last observation and polling continues, unless it was
// produced by Abort.
type Condition func() (bool, error)

// TimeoutError is returned when a condition did not hold before the deadline
type TimeoutError struct {
	Timeout  time.Duration
	Elapsed  time.Duration
	Attempts int
	Last     error
}

func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("condition not met within %s after %d attempts: %v", e.Timeout, e.Attempts, e.Last)
	}
	return fmt.Sprintf("condition not met within %s after %d attempts", e.Timeout, e.Attempts)
}

func (e *TimeoutError) Unwrap() error {
	return e.Last
}

var errNotYet = errors.New("condition not met")

type abortError struct{ err error }

func (a *abortError) Error() string { return a.err.Error() }
func (a *abortError) Unwrap() error { return a.err }

// Abort marks err as fatal: Until returns it immediately instead of retrying.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// Until evaluates cond every interval until it holds, cond aborts, ctx is
// cancelled, or timeout elapses. The first evaluation happens immediately.
func Until(ctx context.Context, timeout, interval time.Duration, cond Condition) error {
	if timeout <= 0 {
		return fmt.Errorf("poll: timeout must be positive, got %s", timeout)
	}
	if interval <= 0 {
		return fmt.Errorf("poll: interval must be positive, got %s", interval)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	attempts := 0
	var last, aborted error

	op := func() error {
		attempts++
		ok, err := cond()
		var abort *abortError
		if errors.As(err, &abort) {
			aborted = abort.err
			return backoff.Permanent(abort.err)
		}
		if err != nil {
			last = err
			return err
		}
		if !ok {
			last = nil
			return errNotYet
		}
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	err := backoff.Retry(op, b)
	if err == nil {
		return nil
	}

	if aborted != nil {
		return aborted
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("poll: %w", ctx.Err())
	}
	return &TimeoutError{
		Timeout:  timeout,
		Elapsed:  time.Since(start),
		Attempts: attempts,
		Last:     last,
	}
}
