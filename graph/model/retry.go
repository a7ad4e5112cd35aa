package model

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls driver-side retries of transient provider
// failures (rate limits, 5xx, dropped connections). Exponential
// backoff with jitter spreads concurrent retries apart.
type RetryPolicy struct {
	// MaxAttempts includes the initial attempt; 1 disables retries.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Retryable reports whether an error is worth retrying. Nil means
	// retry nothing.
	Retryable func(error) bool
}

// DefaultRetryPolicy is the policy drivers use unless overridden:
// three attempts, 500ms base, 10s cap.
func DefaultRetryPolicy(retryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Retryable:   retryable,
	}
}

// backoff computes the delay before retry attempt (zero-based):
// min(base * 2^attempt, max) + jitter(0, base).
func (p RetryPolicy) backoff(attempt int, rng *rand.Rand) time.Duration {
	delay := p.BaseDelay * (1 << attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	if p.BaseDelay > 0 {
		delay += time.Duration(rng.Int63n(int64(p.BaseDelay)))
	}
	return delay
}

// Do runs fn under the policy, sleeping between attempts and bailing
// out on context cancellation or a non-retryable error.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.backoff(attempt-1, rng))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
	}
	return err
}
