package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before a given retry attempt. Implementations
// must be safe for concurrent use.
type Strategy interface {
	// Calculate returns the delay for attempt (0-based) given the configured
	// initial/max bounds, growth multiplier and jitter fraction [0,1].
	Calculate(attempt int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitterStrategy grows the delay geometrically and adds a uniform
// jitter fraction on top, capped at maxBackoff.
type ExponentialJitterStrategy struct{}

// Calculate implements Strategy.
func (s ExponentialJitterStrategy) Calculate(attempt int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// keep the exponent small enough that the float product cannot overflow
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(initialBackoff) * pow(multiplier, attempt))
	if delay < 0 || delay > maxBackoff {
		delay = maxBackoff
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		extra := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+extra > maxBackoff {
			delay = maxBackoff
		} else {
			delay += extra
		}
	}
	return delay
}

// DecorrelatedJitterStrategy spreads delays uniformly between the base and a
// 3^attempt multiple of it, after the AWS exponential backoff and jitter
// write-up. Compared to plain exponential jitter it smooths tail latencies
// when many clients retry at once.
type DecorrelatedJitterStrategy struct{}

// Calculate implements Strategy.
func (s DecorrelatedJitterStrategy) Calculate(attempt int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) time.Duration {
	if attempt <= 0 {
		return initialBackoff
	}
	if attempt > 10 {
		attempt = 10
	}

	// Stateless variant: random_between(base, min(cap, base * 3^attempt)).
	base := float64(initialBackoff)
	upper := base * pow(3.0, attempt)

	maxBackoffFloat := float64(maxBackoff)
	if upper > maxBackoffFloat || upper < 0 {
		upper = maxBackoffFloat
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// clampJitter bounds jitter to [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// pow is an integer-exponent power, avoiding math.Pow for the hot path.
func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
