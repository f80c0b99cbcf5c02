// Package retry runs an operation again after transient failures,
// waiting exponentially longer between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that [Backoff.Do] returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Backoff describes an exponential retry schedule.
type Backoff struct {
	InitialDelay time.Duration // default 1s
	MaxDelay     time.Duration // default 60s
	Multiplier   float64       // default 2
	// MaxAttempts counts the first try.  Zero retries until ctx ends.
	MaxAttempts int
	// Jitter spreads each wait by ±25%.
	Jitter bool
}

// AcceptBackoff is the schedule for transient accept failures such as
// running out of file descriptors: 5ms doubling up to 1s, forever.
func AcceptBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}
}

// Delay returns the wait before retry number attempt (1-based),
// without jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	d, maxDelay, mult := b.params()
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Do calls fn until it returns nil, returns a [Permanent] error, runs
// out of attempts, or ctx is done.  attempt is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("max retries (%d) exceeded: %w", b.MaxAttempts, err)
		}

		wait := b.Delay(attempt)
		if b.Jitter {
			wait = jitter(wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (b *Backoff) params() (initial, maxDelay time.Duration, mult float64) {
	initial, maxDelay, mult = b.InitialDelay, b.MaxDelay, b.Multiplier
	if initial <= 0 {
		initial = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	if mult <= 1 {
		mult = 2
	}
	return initial, maxDelay, mult
}

func jitter(d time.Duration) time.Duration {
	quarter := float64(d) / 4
	out := time.Duration(float64(d) + rand.Float64()*2*quarter - quarter)
	if out < time.Millisecond {
		return time.Millisecond
	}
	return out
}
