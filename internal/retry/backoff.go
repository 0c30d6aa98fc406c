package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig describes an exponential schedule: attempt n waits
// InitialDelay*Multiplier^(n-1), capped at MaxDelay.
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
	// Jitter draws each wait uniformly from the upper half of the delay.
	Jitter bool `json:"jitter"`
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error) `json:"-"`
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Retry returns it without another attempt. The
// mark is removed from the returned error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Backoff runs operations on a BackoffConfig schedule. It holds no per-call
// state and is safe for concurrent use.
type Backoff struct {
	config BackoffConfig
}

// NewBackoff clamps nonsensical values: at least one attempt, a multiplier of
// at least 1 and a max delay no smaller than the initial delay.
func NewBackoff(config BackoffConfig) *Backoff {
	config.MaxAttempts = max(config.MaxAttempts, 1)
	config.Multiplier = math.Max(config.Multiplier, 1)
	config.InitialDelay = max(config.InitialDelay, 0)
	config.MaxDelay = max(config.MaxDelay, config.InitialDelay)
	return &Backoff{config: config}
}

// Retry runs operation until it succeeds, returns a Permanent error or runs
// out of attempts. The last error is returned as is.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryIf(ctx, operation, nil)
}

// RetryIf is Retry that also stops on the first error for which retryable
// returns false. A nil retryable retries everything.
func (b *Backoff) RetryIf(ctx context.Context, operation func() error, retryable func(error) bool) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return permanent.err
		}
		if attempt >= b.config.MaxAttempts || (retryable != nil && !retryable(err)) {
			return err
		}

		delay := b.Delay(attempt)
		if b.config.OnRetry != nil {
			b.config.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Delay is the wait after the given failed attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	base := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(max(attempt-1, 0)))
	base = math.Min(base, float64(b.config.MaxDelay))

	if b.config.Jitter {
		base = base/2 + rand.Float64()*base/2
	}
	return time.Duration(base)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
