// Package retry re-runs remote calls that fail with a temporary error.
package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"bestprice/models"
)

// Policy bounds how often and how patiently a call is retried.
// MaxAttempts counts the first call; values below one mean one.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// Once never retries.
var Once = Policy{MaxAttempts: 1}

// Do calls fn until it succeeds, returns a non-temporary error, or the
// attempts are used up. The last error is returned. onRetry, if set, is
// called before each wait.
func Do(ctx context.Context, p Policy, fn func(context.Context) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := &backoff.Backoff{
		Min:    p.BaseDelay,
		Max:    p.MaxDelay,
		Factor: p.Multiplier,
		Jitter: p.Jitter,
	}
	if b.Factor <= 0 {
		b.Factor = 2
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= attempts || !models.IsTemporary(err) {
			return err
		}

		wait := b.Duration()
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
