package pipa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetryOptions(maxRetries int) RetryOptions {
	return RetryOptions{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRetrySucceedsAfterTransientStatus(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("recovered")); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer server.Close()

	pl := NewPipeline(NewTransportFromClient(server.Client()), NewRetryPolicy(fastRetryOptions(3)))
	req, _ := NewRequest(context.Background(), http.MethodGet, server.URL)

	resp, err := pl.Do(req)
	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("Expected 3 requests, got %d", got)
	}
	body, _ := resp.Payload()
	if string(body) != "recovered" {
		t.Errorf("Expected body 'recovered', got '%s'", string(body))
	}
}

func TestRetryExhaustedReturnsResponseError(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"code":"Overloaded","message":"try later"}}`)
	}))
	defer server.Close()

	pl := NewPipeline(NewTransportFromClient(server.Client()), NewRetryPolicy(fastRetryOptions(1)))
	req, _ := NewRequest(context.Background(), http.MethodGet, server.URL)

	_, err := pl.Do(req)
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("Expected *ResponseError, got %v", err)
	}
	if respErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", respErr.StatusCode)
	}
	if respErr.ErrorCode != "Overloaded" {
		t.Errorf("Expected error code Overloaded, got %s", respErr.ErrorCode)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("Expected 2 requests (1 retry), got %d", got)
	}
}

func TestRetryNonIdempotentNotRetried(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	pl := NewPipeline(NewTransportFromClient(server.Client()), NewRetryPolicy(fastRetryOptions(3)))
	req, _ := NewRequest(context.Background(), http.MethodPost, server.URL)

	resp, err := pl.Do(req)
	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("Expected 1 request for POST, got %d", got)
	}
}

func TestRetryNonIdempotentOptIn(t *testing.T) {
	var hits int32
	bodies := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- string(body)
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	opts := fastRetryOptions(3)
	opts.RetryNonIdempotent = true
	pl := NewPipeline(NewTransportFromClient(server.Client()), NewRetryPolicy(opts))
	req, _ := NewRequest(context.Background(), http.MethodPost, server.URL)
	if err := req.SetBodyBytes([]byte("the payload"), "text/plain"); err != nil {
		t.Fatalf("SetBodyBytes() returned error: %v", err)
	}

	resp, err := pl.Do(req)
	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	close(bodies)
	for body := range bodies {
		if body != "the payload" {
			t.Errorf("Expected resent body 'the payload', got '%s'", body)
		}
	}
}

func TestRetryConnectionError(t *testing.T) {
	var calls int32
	tr := TransportFunc(func(r *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return nil, errors.New("connection reset")
		}
		return okTransport("ok")(r)
	})

	pl := NewPipeline(tr, NewRetryPolicy(fastRetryOptions(3)))
	req, _ := NewRequest(context.Background(), http.MethodGet, "https://example.com/")

	resp, err := pl.Do(req)
	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 transport calls, got %d", got)
	}
}

func TestRetryDisabled(t *testing.T) {
	var calls int32
	tr := TransportFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("connection reset")
	})

	pl := NewPipeline(tr, NewRetryPolicy(RetryOptions{MaxRetries: -1}))
	req, _ := NewRequest(context.Background(), http.MethodGet, "https://example.com/")

	_, err := pl.Do(req)
	if err == nil {
		t.Fatal("Expected error with retries disabled")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 transport call, got %d", got)
	}
}

func TestRetryNonRetryableStatusReturned(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	pl := NewPipeline(NewTransportFromClient(server.Client()), NewRetryPolicy(fastRetryOptions(3)))
	req, _ := NewRequest(context.Background(), http.MethodGet, server.URL)

	resp, err := pl.Do(req)
	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("Expected 1 request for 404, got %d", got)
	}
}

func TestRetryCustomShouldRetry(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	opts := fastRetryOptions(3)
	opts.ShouldRetry = func(resp *Response, err error) bool {
		return err == nil && resp.StatusCode == http.StatusTeapot
	}
	pl := NewPipeline(NewTransportFromClient(server.Client()), NewRetryPolicy(opts))
	req, _ := NewRequest(context.Background(), http.MethodGet, server.URL)

	resp, err := pl.Do(req)
	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("Expected 2 requests, got %d", got)
	}
}

func TestRetryBudgetExceeded(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	opts := fastRetryOptions(5)
	opts.Budget = NewRetryBudget(1, time.Minute)
	pl := NewPipeline(NewTransportFromClient(server.Client()), NewRetryPolicy(opts))
	req, _ := NewRequest(context.Background(), http.MethodGet, server.URL)

	_, err := pl.Do(req)
	if !errors.Is(err, ErrRetryBudgetExceeded) {
		t.Fatalf("Expected ErrRetryBudgetExceeded, got %v", err)
	}
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected *ClientError, got %v", err)
	}
	if clientErr.Type != ErrorTypeRetryBudget {
		t.Errorf("Expected type %s, got %s", ErrorTypeRetryBudget, clientErr.Type)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("Expected 2 requests before budget blocked, got %d", got)
	}
}

func TestRetryCanceledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	opts := RetryOptions{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Second,
		MaxBackoff:     10 * time.Second,
	}
	pl := NewPipeline(NewTransportFromClient(server.Client()), NewRetryPolicy(opts))

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := NewRequest(ctx, http.MethodGet, server.URL)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := pl.Do(req)
	elapsed := time.Since(start)

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected *ClientError, got %v", err)
	}
	if clientErr.Type != ErrorTypeCanceled {
		t.Errorf("Expected type %s, got %s", ErrorTypeCanceled, clientErr.Type)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Expected prompt cancellation, waited %v", elapsed)
	}
}

func TestRetryAfterHeader(t *testing.T) {
	mkResp := func(status int, retryAfterValue string) *Response {
		h := http.Header{}
		if retryAfterValue != "" {
			h.Set("Retry-After", retryAfterValue)
		}
		return &Response{StatusCode: status, Header: h}
	}

	tests := []struct {
		name     string
		resp     *Response
		expected time.Duration
	}{
		{"seconds on 429", mkResp(429, "2"), 2 * time.Second},
		{"seconds on 503", mkResp(503, "5"), 5 * time.Second},
		{"ignored on 500", mkResp(500, "5"), 0},
		{"missing header", mkResp(429, ""), 0},
		{"garbage value", mkResp(429, "soon"), 0},
		{"negative seconds", mkResp(429, "-3"), 0},
		{"capped at one hour", mkResp(429, "7200"), time.Hour},
		{"nil response", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryAfter(tt.resp); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestRetryAfterHTTPDate(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(30*time.Second).UTC().Format(http.TimeFormat))
	resp := &Response{StatusCode: 429, Header: h}

	got := retryAfter(resp)
	if got <= 0 || got > 30*time.Second {
		t.Errorf("Expected delay in (0s, 30s], got %v", got)
	}
}

func TestIsIdempotent(t *testing.T) {
	idempotent := []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions}
	for _, m := range idempotent {
		if !isIdempotent(m) {
			t.Errorf("Expected %s to be idempotent", m)
		}
	}
	for _, m := range []string{http.MethodPost, http.MethodPatch, http.MethodConnect} {
		if isIdempotent(m) {
			t.Errorf("Expected %s to be non-idempotent", m)
		}
	}
}

func TestTryTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	opts := RetryOptions{
		MaxRetries:     -1,
		InitialBackoff: time.Millisecond,
		TryTimeout:     50 * time.Millisecond,
	}
	pl := NewPipeline(NewTransportFromClient(server.Client()), NewRetryPolicy(opts))
	req, _ := NewRequest(context.Background(), http.MethodGet, server.URL)

	start := time.Now()
	_, err := pl.Do(req)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected prompt per-try timeout, waited %v", elapsed)
	}
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected *ClientError, got %v", err)
	}
	if clientErr.Type != ErrorTypeTimeout && clientErr.Type != ErrorTypeCanceled {
		t.Errorf("Expected timeout kind, got %s", clientErr.Type)
	}
}

func TestTryTimeoutReleasedOnRawBodyClose(t *testing.T) {
	var tryCtx context.Context
	tr := TransportFunc(func(r *http.Request) (*http.Response, error) {
		tryCtx = r.Context()
		return okTransport("streamed")(r)
	})

	opts := fastRetryOptions(1)
	opts.TryTimeout = time.Minute
	pl := NewPipeline(tr, NewRetryPolicy(opts))
	req, _ := NewRequest(context.Background(), http.MethodGet, "https://example.com/stream")

	resp, err := pl.Do(req)
	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	select {
	case <-tryCtx.Done():
		t.Fatal("Expected per-try context alive while the body streams")
	default:
	}

	if err := resp.Raw().Body.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}
	select {
	case <-tryCtx.Done():
	default:
		t.Error("Expected per-try context released when the raw body is closed")
	}
}

func TestRetryBudgetWindowReset(t *testing.T) {
	budget := NewRetryBudget(2, 20*time.Millisecond)

	if !budget.Allow() || !budget.Allow() {
		t.Fatal("Expected first two retries to fit the budget")
	}
	if budget.Allow() {
		t.Error("Expected third retry to be rejected")
	}

	time.Sleep(30 * time.Millisecond)

	if !budget.Allow() {
		t.Error("Expected budget to reset after the window elapsed")
	}

	current, max, _ := budget.Stats()
	if max != 2 {
		t.Errorf("Expected max=2, got %d", max)
	}
	if current != 1 {
		t.Errorf("Expected current=1 after reset, got %d", current)
	}
}

func TestRetryOptionsDefaults(t *testing.T) {
	var opts RetryOptions
	opts.fillDefaults()

	if opts.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries=3, got %d", opts.MaxRetries)
	}
	if opts.InitialBackoff != 100*time.Millisecond {
		t.Errorf("Expected InitialBackoff=100ms, got %v", opts.InitialBackoff)
	}
	if opts.MaxBackoff != 10*time.Second {
		t.Errorf("Expected MaxBackoff=10s, got %v", opts.MaxBackoff)
	}
	if opts.BackoffMultiplier != 2.0 {
		t.Errorf("Expected BackoffMultiplier=2.0, got %v", opts.BackoffMultiplier)
	}
	if opts.Jitter != 0.1 {
		t.Errorf("Expected Jitter=0.1, got %v", opts.Jitter)
	}
	if len(opts.StatusCodes) != 6 {
		t.Errorf("Expected 6 default status codes, got %d", len(opts.StatusCodes))
	}
}
