// Package retry runs network calls under a bounded exponential-backoff
// policy.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
)

// Policy describes how a failing operation is retried.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay is the wait before the second try.
	Delay time.Duration
	// Multiplier scales Delay after every retry.
	Multiplier float64
	// Retryable decides whether an error is worth another try. Nil retries
	// every error.
	Retryable func(error) bool
}

// Default returns the policy used for upstream APIs: 3 tries, 10s initial
// delay, doubling.
func Default() Policy {
	return Policy{Attempts: 3, Delay: 10 * time.Second, Multiplier: 2}
}

// WithRetryable returns a copy of p using fn as its error predicate.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

func (p Policy) backOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Delay
	eb.Multiplier = p.Multiplier
	if eb.Multiplier < 1 {
		eb.Multiplier = 1
	}
	eb.RandomizationFactor = 0
	eb.MaxInterval = 24 * time.Hour
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(eb, uint64(retries))
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// attempts or ctx is cancelled. The last error is returned.
func (p Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	b := p.backOff()
	attempt := 0
	for {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("%s: giving up after %d attempts: %w", name, attempt, err)
		}
		slog.Warn("retry: call failed, retrying",
			"op", name,
			"attempt", attempt,
			"of", p.Attempts,
			"wait", wait,
			"err", err,
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", name, ctx.Err(), err)
		case <-timer.C:
		}
	}
}
