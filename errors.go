package pipa

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Error type constants used in ClientError.Type.
const (
	ErrorTypeConnection      = "Connection"
	ErrorTypeTimeout         = "Timeout"
	ErrorTypeCanceled        = "Canceled"
	ErrorTypeServiceRequest  = "ServiceRequest"
	ErrorTypeServiceResponse = "ServiceResponse"
	ErrorTypeAuthentication  = "Authentication"
	ErrorTypeCircuitOpen     = "CircuitOpen"
	ErrorTypeRateLimit       = "RateLimit"
	ErrorTypeRetryBudget     = "RetryBudget"
	ErrorTypeValidation      = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("pipa: circuit open")

	// ErrRateLimited is returned when a request is denied by the client-side limiter
	ErrRateLimited = errors.New("pipa: rate limited")

	// ErrRetryBudgetExceeded is returned when the retry budget is exhausted
	ErrRetryBudgetExceeded = errors.New("pipa: retry budget exceeded")

	// ErrTooManyRedirects is returned when the redirect policy hits its hop limit
	ErrTooManyRedirects = errors.New("pipa: too many redirects")
)

// ClientError is the typed error produced by the transport and the built-in
// policies. Type carries the failure kind, Cause the underlying error.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	Method     string
	URL        string
	Attempt    int
	MaxRetries int
	StatusCode int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// ResponseError is returned when a service call completes with a failing
// status code. Code and Message are parsed from the service error envelope
// when the body carries one. RawResponse is the final response with its
// payload buffered for re-reading.
type ResponseError struct {
	StatusCode  int
	ErrorCode   string
	Message     string
	RawResponse *Response
}

// errorEnvelope matches the common JSON error body shape, both nested
// ({"error":{"code","message"}}) and flat ({"code","message"}).
type errorEnvelope struct {
	Error   *errorDetail `json:"error"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newResponseError builds a ResponseError from resp, buffering the payload
// so callers can still inspect the raw body.
func newResponseError(resp *Response) *ResponseError {
	re := &ResponseError{
		StatusCode:  resp.StatusCode,
		RawResponse: resp,
	}
	body, err := resp.Payload()
	if err != nil || len(body) == 0 {
		return re
	}

	var env errorEnvelope
	if jsonErr := json.Unmarshal(body, &env); jsonErr == nil {
		if env.Error != nil {
			re.ErrorCode = env.Error.Code
			re.Message = env.Error.Message
		} else {
			re.ErrorCode = env.Code
			re.Message = env.Message
		}
	}
	if re.Message == "" && utf8.Valid(body) {
		re.Message = bodySnippet(body)
	}
	return re
}

const maxSnippetLen = 256

func bodySnippet(body []byte) string {
	if len(body) <= maxSnippetLen {
		return string(body)
	}
	return string(body[:maxSnippetLen]) + "…"
}

// Error implements error interface.
func (e *ResponseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("pipa: service returned %d", e.StatusCode)
	if e.ErrorCode != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.ErrorCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	return msg
}

// Is matches any ResponseError, or one with the same status code.
func (e *ResponseError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ResponseError); ok {
		return targetErr.StatusCode == 0 || targetErr.StatusCode == e.StatusCode
	}
	return false
}

// IsTransient determines if an error represents a transient failure that might
// succeed on retry. Returns true for connection errors, timeouts, 5xx service
// responses and 408/429. Returns false for other 4xx responses, authentication
// failures and caller cancellation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeCircuitOpen, ErrorTypeRateLimit, ErrorTypeRetryBudget:
			return true
		default:
			return false
		}
	}

	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return isRetryableStatus(respErr.StatusCode, defaultRetryStatusCodes)
	}

	return false
}

func isRetryableStatus(code int, retryable []int) bool {
	for _, c := range retryable {
		if code == c {
			return true
		}
	}
	return false
}
