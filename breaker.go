package pipa

import (
	"fmt"
	"sync/atomic"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int64

const (
	// StateClosed allows all requests through.
	StateClosed CircuitState = iota
	// StateOpen rejects all requests until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen allows probe requests to test recovery.
	StateHalfOpen
)

// String returns a human readable name for the state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of half-open successes that close the circuit.
	SuccessThreshold int
}

// CircuitBreaker is a lock-free circuit breaker using atomic state transitions.
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       int64
	failures    int64
	lastFailure int64
	successes   int64
}

// NewCircuitBreaker creates a circuit breaker, applying defaults for zero fields.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}

	return &CircuitBreaker{
		config: config,
		state:  int64(StateClosed),
	}
}

// Allow reports whether a request may proceed, transitioning to half-open
// when the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	now := time.Now().UnixNano()
	state := CircuitState(atomic.LoadInt64(&cb.state))

	switch state {
	case StateClosed:
		return true
	case StateOpen:
		lastFailure := atomic.LoadInt64(&cb.lastFailure)
		if now-lastFailure >= int64(cb.config.RecoveryTimeout) {
			if atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen)) {
				atomic.StoreInt64(&cb.successes, 0)
				return true
			}
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	now := time.Now().UnixNano()
	atomic.StoreInt64(&cb.lastFailure, now)

	state := CircuitState(atomic.LoadInt64(&cb.state))

	switch state {
	case StateClosed:
		failures := atomic.AddInt64(&cb.failures, 1)
		if failures >= int64(cb.config.FailureThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateOpen))
		}
	case StateOpen:
		// When open, just update lastFailure
	case StateHalfOpen:
		// A failure in half-open immediately reopens the circuit
		atomic.AddInt64(&cb.failures, 1)
		atomic.StoreInt64(&cb.state, int64(StateOpen))
		atomic.StoreInt64(&cb.successes, 0)
	}
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	state := CircuitState(atomic.LoadInt64(&cb.state))

	switch state {
	case StateClosed, StateOpen:
		// No transition on success in these states
	case StateHalfOpen:
		successes := atomic.AddInt64(&cb.successes, 1)
		if successes >= int64(cb.config.SuccessThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateClosed))
			atomic.StoreInt64(&cb.failures, 0)
			atomic.StoreInt64(&cb.successes, 0)
		}
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}

// NewCircuitBreakerPolicy wraps a circuit breaker as a pipeline policy.
// Requests rejected by the breaker fail fast with ErrCircuitOpen. Transport
// errors and 5xx responses count as failures; anything else as a success.
func NewCircuitBreakerPolicy(cb *CircuitBreaker, metrics *MetricsCollector, logger Logger) Policy {
	return &circuitBreakerPolicy{cb: cb, metrics: metrics, logger: logger}
}

type circuitBreakerPolicy struct {
	cb      *CircuitBreaker
	metrics *MetricsCollector
	logger  Logger
}

func (p *circuitBreakerPolicy) Do(req *Request) (*Response, error) {
	if p.cb == nil {
		return req.Next()
	}

	if !p.cb.Allow() {
		p.metrics.RecordCircuitBreakerState(endpointLabel(req.Raw()), p.cb.State())
		if p.logger != nil {
			p.logger.Warn("circuit breaker rejected request",
				"method", req.Raw().Method, "url", req.Raw().URL.String())
		}
		return nil, &ClientError{
			Type:      ErrorTypeCircuitOpen,
			Message:   fmt.Sprintf("circuit breaker is %s", p.cb.State()),
			Cause:     ErrCircuitOpen,
			Method:    req.Raw().Method,
			URL:       req.Raw().URL.String(),
			Timestamp: time.Now(),
		}
	}

	resp, err := req.Next()
	if err != nil || (resp != nil && resp.StatusCode >= 500) {
		p.cb.RecordFailure()
	} else {
		p.cb.RecordSuccess()
	}
	p.metrics.RecordCircuitBreakerState(endpointLabel(req.Raw()), p.cb.State())
	return resp, err
}
