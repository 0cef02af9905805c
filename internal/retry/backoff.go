// Package retry provides exponential backoff and a circuit breaker for
// upstream dials made on behalf of WebSocket sessions.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ── permanent errors ─────────────────────────────────────────────────

// PermanentError marks an error that no further attempt can fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so [Backoff.Do] returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with [Permanent].
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── backoff ──────────────────────────────────────────────────────────

// Backoff retries an operation with exponentially growing delays.
type Backoff struct {
	// InitialDelay is the wait before the second attempt (default 100ms).
	InitialDelay time.Duration
	// MaxDelay caps a single wait (default 5s).
	MaxDelay time.Duration
	// Multiplier grows the delay after each attempt (default 2.0).
	Multiplier float64
	// MaxAttempts is the total number of tries, the first included.
	// Zero retries until ctx is done.
	MaxAttempts int
	// Jitter spreads each wait by ±25%.
	Jitter bool

	// Retryable, if set, decides whether an error is worth another
	// attempt.  Errors it rejects end Do like permanent ones.
	Retryable func(error) bool
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultBackoff suits short-lived upstream dials: attempts are few and
// the waits stay well below a client's patience.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       true,
	}
}

// Do calls fn until it succeeds, returns a permanent or non-retryable
// error, runs out of attempts, or ctx is done.  attempt is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	delay, multiplier, maxDelay := b.InitialDelay, b.Multiplier, b.MaxDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	if multiplier <= 0 {
		multiplier = 2.0
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if b.Retryable != nil && !b.Retryable(err) {
			return err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := delay
		if b.Jitter {
			wait = addJitter(delay)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * multiplier)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := rand.Float64()*2*quarter - quarter
	return time.Duration(math.Max(float64(d)+delta, float64(time.Millisecond)))
}
