package pipa

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	internalbackoff "github.com/ambiyansyah-risyal/pipa/internal/backoff"
)

// BackoffStrategy selects the delay calculation used between retries.
type BackoffStrategy int

const (
	// ExponentialJitter grows delays geometrically with uniform jitter.
	ExponentialJitter BackoffStrategy = iota
	// DecorrelatedJitter spreads delays after the AWS decorrelated scheme.
	DecorrelatedJitter
)

// defaultRetryStatusCodes are the response codes treated as transient.
var defaultRetryStatusCodes = []int{
	http.StatusRequestTimeout,      // 408
	http.StatusTooManyRequests,     // 429
	http.StatusInternalServerError, // 500
	http.StatusBadGateway,          // 502
	http.StatusServiceUnavailable,  // 503
	http.StatusGatewayTimeout,      // 504
}

// RetryOptions configures the retry policy. The zero value selects the
// defaults noted per field.
type RetryOptions struct {
	// MaxRetries is the number of resends after the first attempt.
	// Zero selects 3; a negative value disables retries.
	MaxRetries int

	// InitialBackoff is the base delay before the first retry. Default 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Default 10s.
	MaxBackoff time.Duration

	// BackoffMultiplier is the geometric growth factor. Default 2.0.
	BackoffMultiplier float64

	// Jitter is the uniform jitter fraction in [0,1]. Default 0.1.
	Jitter float64

	// Strategy selects the backoff scheme. Default ExponentialJitter.
	Strategy BackoffStrategy

	// StatusCodes are the response codes eligible for retry. Defaults to
	// 408, 429, 500, 502, 503 and 504.
	StatusCodes []int

	// RetryNonIdempotent permits retrying responses for methods with side
	// effects (POST, PATCH). Transport failures are always eligible.
	RetryNonIdempotent bool

	// TryTimeout bounds each individual attempt. Zero means no per-try bound
	// beyond the request context.
	TryTimeout time.Duration

	// ShouldRetry overrides the retry condition entirely; the attempt cap
	// still applies.
	ShouldRetry func(resp *Response, err error) bool

	// Budget caps retries across calls within a sliding window.
	Budget *RetryBudget
}

func (o *RetryOptions) fillDefaults() {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	} else if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = 2.0
	}
	if o.Jitter == 0 {
		o.Jitter = 0.1
	} else if o.Jitter < 0 {
		o.Jitter = 0
	}
	if len(o.StatusCodes) == 0 {
		o.StatusCodes = defaultRetryStatusCodes
	}
}

// NewRetryPolicy creates a policy that resends requests on transient
// transport failures and retryable status codes, with backoff between
// attempts. When retries are exhausted while the service keeps answering
// with a retryable status, the policy returns a *ResponseError.
func NewRetryPolicy(opts RetryOptions) Policy {
	return newRetryPolicy(opts, nil, nil)
}

func newRetryPolicy(opts RetryOptions, metrics *MetricsCollector, logger Logger) *retryPolicy {
	opts.fillDefaults()
	p := &retryPolicy{opts: opts, metrics: metrics, logger: logger}
	switch opts.Strategy {
	case DecorrelatedJitter:
		p.calc = internalbackoff.DecorrelatedJitter()
	default:
		p.calc = internalbackoff.ExponentialJitter()
	}
	return p
}

type retryPolicy struct {
	opts    RetryOptions
	calc    *internalbackoff.Calculator
	metrics *MetricsCollector
	logger  Logger
}

func (p *retryPolicy) Do(req *Request) (*Response, error) {
	endpoint := endpointLabel(req.Raw())
	method := req.Raw().Method
	start := time.Now()

	var resp *Response
	var err error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			p.metrics.RecordRetry(method, endpoint, attempt)
			if p.logger != nil {
				p.logger.Info("Retry attempt", "attempt", attempt, "maxRetries", p.opts.MaxRetries, "endpoint", endpoint)
			}
			if rerr := req.RewindBody(); rerr != nil {
				return nil, rerr
			}
		}

		tryCtx := req.Context()
		var tryCancel context.CancelFunc
		if p.opts.TryTimeout > 0 {
			tryCtx, tryCancel = context.WithTimeout(tryCtx, p.opts.TryTimeout)
		}
		tryReq := req.Clone(tryCtx)
		resp, err = tryReq.Next()

		if err != nil {
			p.metrics.RecordError(errorKind(err), method, endpoint)
		}

		if !p.shouldRetry(req, resp, err, attempt) {
			if err != nil {
				if tryCancel != nil {
					tryCancel()
				}
				var clientErr *ClientError
				if errors.As(err, &clientErr) {
					clientErr.Attempt = attempt
					clientErr.MaxRetries = p.opts.MaxRetries
					clientErr.Duration = time.Since(start)
				}
				return nil, err
			}
			// The service kept failing with a retryable status until the
			// attempt cap; surface it as a typed service error.
			if attempt >= p.opts.MaxRetries && p.isRetryableResponse(req, resp) {
				respErr := newResponseError(resp)
				if tryCancel != nil {
					tryCancel()
				}
				p.metrics.RecordError(ErrorTypeServiceResponse, method, endpoint)
				return nil, respErr
			}
			if tryCancel != nil {
				// delay cancellation until the caller is done streaming,
				// through either body handle
				body := &cancelOnClose{ReadCloser: resp.Body, cancel: tryCancel}
				resp.Body = body
				if raw := resp.Raw(); raw != nil {
					raw.Body = body
				}
			}
			return resp, nil
		}

		resp.Drain()
		if tryCancel != nil {
			tryCancel()
		}

		if p.opts.Budget != nil && !p.opts.Budget.Allow() {
			p.metrics.RecordRetryBudgetExceeded(endpoint)
			return nil, &ClientError{
				Type:       ErrorTypeRetryBudget,
				Message:    "retry budget exceeded",
				Cause:      ErrRetryBudgetExceeded,
				Method:     method,
				URL:        req.Raw().URL.String(),
				Attempt:    attempt,
				MaxRetries: p.opts.MaxRetries,
				Timestamp:  time.Now(),
				Duration:   time.Since(start),
			}
		}

		delay := retryAfter(resp)
		if delay == 0 {
			delay = p.calc.Calculate(attempt, p.opts.InitialBackoff, p.opts.MaxBackoff, p.opts.BackoffMultiplier, p.opts.Jitter)
		}
		if p.logger != nil {
			p.logger.Debug("Scheduling retry", "attempt", attempt+1, "backoff", delay, "endpoint", endpoint)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-req.Context().Done():
			timer.Stop()
			return nil, contextError(req, time.Since(start))
		}
	}
}

func (p *retryPolicy) shouldRetry(req *Request, resp *Response, err error, attempt int) bool {
	if attempt >= p.opts.MaxRetries {
		return false
	}
	if p.opts.ShouldRetry != nil {
		return p.opts.ShouldRetry(resp, err)
	}
	if err != nil {
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			return clientErr.Type == ErrorTypeConnection || clientErr.Type == ErrorTypeTimeout
		}
		return false
	}
	return p.isRetryableResponse(req, resp)
}

func (p *retryPolicy) isRetryableResponse(req *Request, resp *Response) bool {
	if resp == nil {
		return false
	}
	if !isRetryableStatus(resp.StatusCode, p.opts.StatusCodes) {
		return false
	}
	if !p.opts.RetryNonIdempotent && !isIdempotent(req.Raw().Method) {
		return false
	}
	return true
}

// isIdempotent reports whether a method is safe to resend by default.
func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

// retryAfter parses the Retry-After header of a throttling response.
// Both delay-seconds and HTTP-date forms are supported, capped at one hour.
func retryAfter(resp *Response) time.Duration {
	if resp == nil {
		return 0
	}
	if !resp.HasStatusCode(http.StatusTooManyRequests, http.StatusServiceUnavailable) {
		return 0
	}
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

func errorKind(err error) string {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type
	}
	return "Unknown"
}

func contextError(req *Request, elapsed time.Duration) *ClientError {
	kind := ErrorTypeCanceled
	message := "request canceled during retry wait"
	if errors.Is(req.Context().Err(), context.DeadlineExceeded) {
		kind = ErrorTypeTimeout
		message = "deadline exceeded during retry wait"
	}
	return &ClientError{
		Type:      kind,
		Message:   message,
		Cause:     req.Context().Err(),
		Method:    req.Raw().Method,
		URL:       req.Raw().URL.String(),
		Timestamp: time.Now(),
		Duration:  elapsed,
	}
}

// cancelOnClose releases a per-try context once the caller closes the body,
// keeping the connection alive while the response streams.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

// NewRetryBudget creates a windowed cap on retries shared across calls.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   perWindow,
		current:     0,
		windowStart: time.Now().UnixNano(),
	}
}

// RetryBudget bounds the total number of retries a client may issue within a
// sliding window, protecting a struggling service from retry storms.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	current     int64
	windowStart int64
}

// Allow reports whether another retry fits in the current window.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	if now-windowStart >= int64(rb.perWindow) {
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	current := atomic.LoadInt64(&rb.current)
	if current >= rb.maxRetries {
		return false
	}

	return atomic.AddInt64(&rb.current, 1) <= rb.maxRetries
}

// Stats returns current usage, the cap and the window start.
func (rb *RetryBudget) Stats() (current, max int64, windowStart time.Time) {
	return atomic.LoadInt64(&rb.current),
		rb.maxRetries,
		time.Unix(0, atomic.LoadInt64(&rb.windowStart))
}
