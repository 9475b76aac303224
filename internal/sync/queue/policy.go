package queue

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy decides what happens to an action whose replay failed.
//
// Each failure increments the action's RetryCount. The action is held back
// for Delay(RetryCount) and moved to the dead-letter list once Exhausted.
type RetryPolicy struct {
	// MaxAttempts is the number of failed replays after which an action is
	// dead-lettered. Zero retries forever.
	MaxAttempts int

	// InitialInterval is the hold-back after the first failure. Zero
	// disables backoff: failed actions are retried on the next flush.
	InitialInterval time.Duration

	// MaxInterval caps the hold-back.
	MaxInterval time.Duration

	// Multiplier grows the hold-back after each further failure.
	Multiplier float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     10,
		InitialInterval: 2 * time.Second,
		MaxInterval:     10 * time.Minute,
		Multiplier:      2,
	}
}

// UnlimitedRetryPolicy retries every failed action on every flush, forever.
func UnlimitedRetryPolicy() RetryPolicy {
	return RetryPolicy{}
}

// Exhausted reports whether an action that has failed retryCount times
// should be dead-lettered.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return p.MaxAttempts > 0 && retryCount >= p.MaxAttempts
}

// maxBackoffSteps bounds the loop in Delay; the interval has long reached
// MaxInterval by then.
const maxBackoffSteps = 64

// Delay returns the hold-back after the retryCount-th failure:
// InitialInterval * Multiplier^(retryCount-1), capped at MaxInterval.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if p.InitialInterval <= 0 || retryCount <= 0 {
		return 0
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}
	if b.Multiplier < 1 {
		b.Multiplier = backoff.DefaultMultiplier
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.Reset()

	steps := min(retryCount, maxBackoffSteps)
	var d time.Duration
	for i := 0; i < steps; i++ {
		d = b.NextBackOff()
	}
	return d
}
