package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures the exponential backoff between task attempts.
type RetryConfig struct {
	InitialInterval     time.Duration // Delay before the first retry (default 500ms)
	MaxInterval         time.Duration // Ceiling for a single delay (default 30s)
	Multiplier          float64       // Growth factor (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// policy builds a backoff that allows maxRetries retries. The elapsed-time
// cap is disabled: the retry budget is the only stopping rule.
func (c RetryConfig) policy(maxRetries int) backoff.BackOff {
	def := DefaultRetryConfig()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = orDuration(c.InitialInterval, def.InitialInterval)
	b.MaxInterval = orDuration(c.MaxInterval, def.MaxInterval)
	b.Multiplier = def.Multiplier
	if c.Multiplier > 0 {
		b.Multiplier = c.Multiplier
	}
	b.RandomizationFactor = c.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()

	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithMaxRetries(b, uint64(maxRetries))
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
