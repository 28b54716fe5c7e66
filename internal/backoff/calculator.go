package backoff

import (
	"time"
)

// Calculator binds a Strategy to the Calculate call sites so retry code does
// not branch on strategy kinds.
type Calculator struct {
	strategy Strategy
}

// NewCalculator creates a calculator using the given strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{strategy: strategy}
}

// Calculate computes the delay for the given attempt and parameters.
func (c *Calculator) Calculate(attempt int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) time.Duration {
	return c.strategy.Calculate(attempt, initialBackoff, maxBackoff, multiplier, jitter)
}

// ExponentialJitter returns a calculator using exponential backoff with
// uniform jitter, the default retry behavior.
func ExponentialJitter() *Calculator {
	return NewCalculator(ExponentialJitterStrategy{})
}

// DecorrelatedJitter returns a calculator using AWS-style decorrelated jitter.
func DecorrelatedJitter() *Calculator {
	return NewCalculator(DecorrelatedJitterStrategy{})
}
