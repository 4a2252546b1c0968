// Package retry bounds the startup connects (database, NATS, Redis) with exponential
// backoff from cenkalti/backoff, adding an attempt budget and per-attempt timeouts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts    int           // total attempts including the first; <= 0 means 1
	InitialDelay   time.Duration // delay before the second attempt
	MaxDelay       time.Duration // cap for any single delay
	Multiplier     float64       // growth factor; <= 1 means 2
	AttemptTimeout time.Duration // optional deadline for each attempt
	Jitter         float64       // fraction of the delay randomised, 0..1
}

// DefaultPolicy suits connecting to infrastructure at startup.
var DefaultPolicy = Policy{
	MaxAttempts:  5,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2,
	Jitter:       0.1,
}

// ErrExhausted wraps the last error once the attempt budget is spent.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Permanent marks err as terminal: Do returns it immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// backOff builds the delay sequence for p. Elapsed time is unbounded; the attempt
// budget and ctx end the loop instead.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = p.Multiplier
	if b.Multiplier <= 1 {
		b.Multiplier = 2
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do calls fn until it succeeds, returns a Permanent error, the context ends, or the
// attempt budget is spent. The attempt number (1-based) is passed to fn.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		n         int
		last      error
		permanent bool
	)
	op := func() error {
		n++
		last = attempt(ctx, p.AttemptTimeout, n, fn)
		if IsPermanent(last) {
			permanent = true
		}
		return last
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(attempts-1)), ctx)

	err := backoff.Retry(op, b)
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ctx.Err(), last)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, n, last)
}

func attempt(ctx context.Context, timeout time.Duration, n int, fn func(context.Context, int) error) error {
	if timeout <= 0 {
		return fn(ctx, n)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(actx, n)
	if err == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		// The attempt ignored its deadline; a late success is still a timeout.
		return fmt.Errorf("attempt %d: %w", n, context.DeadlineExceeded)
	}
	return err
}
