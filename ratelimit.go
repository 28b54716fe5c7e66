package pipa

import (
	"fmt"
	"sync/atomic"
	"time"
)

// RateLimiter is a lock-free token bucket. Tokens refill at a fixed rate up
// to a maximum; each request consumes one token.
type RateLimiter struct {
	maxTokens  int64
	tokens     int64
	refillRate time.Duration
	lastRefill int64
}

// NewRateLimiter creates a rate limiter holding maxTokens tokens, refilling
// one token every refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		maxTokens:  int64(maxTokens),
		tokens:     int64(maxTokens),
		refillRate: refillRate,
		lastRefill: time.Now().UnixNano(),
	}
}

// Allow reports whether a request may proceed, consuming a token if so.
func (rl *RateLimiter) Allow() bool {
	rl.refillTokens()
	return rl.consumeToken()
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() int64 {
	rl.refillTokens()
	return atomic.LoadInt64(&rl.tokens)
}

func (rl *RateLimiter) refillTokens() {
	now := time.Now().UnixNano()

	for {
		currentTokens := atomic.LoadInt64(&rl.tokens)
		lastRefill := atomic.LoadInt64(&rl.lastRefill)

		elapsed := now - lastRefill
		tokensToAdd := int64(0)
		if rl.refillRate > 0 {
			tokensToAdd = elapsed / int64(rl.refillRate)
		}

		if tokensToAdd == 0 {
			break
		}

		newTokens := currentTokens + tokensToAdd
		if newTokens > rl.maxTokens {
			newTokens = rl.maxTokens
		}

		newLastRefill := lastRefill + (tokensToAdd * int64(rl.refillRate))

		// Claim the refill window first so concurrent refillers retry
		if !atomic.CompareAndSwapInt64(&rl.lastRefill, lastRefill, newLastRefill) {
			continue
		}

		atomic.StoreInt64(&rl.tokens, newTokens)
		break
	}
}

func (rl *RateLimiter) consumeToken() bool {
	for {
		currentTokens := atomic.LoadInt64(&rl.tokens)
		if currentTokens <= 0 {
			return false
		}

		if atomic.CompareAndSwapInt64(&rl.tokens, currentTokens, currentTokens-1) {
			return true
		}
	}
}

// NewRateLimitPolicy wraps a rate limiter as a pipeline policy. Requests that
// cannot obtain a token fail fast with ErrRateLimited.
func NewRateLimitPolicy(rl *RateLimiter, metrics *MetricsCollector) Policy {
	return &rateLimitPolicy{rl: rl, metrics: metrics}
}

type rateLimitPolicy struct {
	rl      *RateLimiter
	metrics *MetricsCollector
}

func (p *rateLimitPolicy) Do(req *Request) (*Response, error) {
	if p.rl == nil {
		return req.Next()
	}

	endpoint := endpointLabel(req.Raw())
	if !p.rl.Allow() {
		p.metrics.RecordRateLimiterTokens(endpoint, 0)
		return nil, &ClientError{
			Type:      ErrorTypeRateLimit,
			Message:   fmt.Sprintf("rate limit exceeded for %s", endpoint),
			Cause:     ErrRateLimited,
			Method:    req.Raw().Method,
			URL:       req.Raw().URL.String(),
			Timestamp: time.Now(),
		}
	}
	p.metrics.RecordRateLimiterTokens(endpoint, atomic.LoadInt64(&p.rl.tokens))

	return req.Next()
}
