package pipa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// Client is a resilient HTTP client that layers retries, redirects, bearer
// auth, circuit breaking, rate limiting, logging, tracing and metrics around
// a Transport as an ordered policy pipeline. It is safe for concurrent use.
type Client struct {
	endpoint   *url.URL
	transport  Transport
	httpClient *http.Client
	timeout    time.Duration
	timeoutSet bool

	retryOptions RetryOptions

	credential  TokenCredential
	scopes      []string
	authOptions BearerTokenOptions

	maxRedirects     int
	disableRedirects bool

	applicationID string

	circuitBreaker *CircuitBreaker
	rateLimiter    *RateLimiter

	metrics *MetricsCollector
	logger  Logger

	logOptions     LogOptions
	tracingEnabled bool
	tracingOptions TracingOptions

	perCallPolicies  []Policy
	perRetryPolicies []Policy

	pipeline        Pipeline
	validationError error
}

// NewClient constructs a Client for the given service endpoint using the
// provided functional options. The endpoint must be an absolute http or
// https URL. Configuration is validated best effort; call IsValid or
// ValidationError to inspect the result.
func NewClient(endpoint string, options ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   "invalid endpoint URL",
			Cause:     err,
			URL:       endpoint,
			Timestamp: time.Now(),
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   fmt.Sprintf("endpoint scheme must be http or https, got %q", u.Scheme),
			URL:       endpoint,
			Timestamp: time.Now(),
		}
	}

	client := &Client{
		endpoint:     u,
		timeout:      30 * time.Second,
		maxRedirects: defaultMaxRedirects,
	}

	for _, option := range options {
		option(client)
	}

	if client.transport == nil {
		if client.httpClient != nil {
			if client.timeoutSet {
				client.httpClient.Timeout = client.timeout
			}
			client.transport = NewTransportFromClient(client.httpClient)
		} else {
			tr := NewDefaultTransport()
			tr.SetTimeout(client.timeout)
			client.transport = tr
		}
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	client.pipeline = client.buildPipeline()

	return client, nil
}

// buildPipeline assembles the policy chain. Per call policies run once per
// logical operation; everything after the retry policy runs once per attempt.
func (c *Client) buildPipeline() Pipeline {
	policies := []Policy{
		NewUserAgentPolicy(c.applicationID),
		NewRequestIDPolicy(),
	}
	policies = append(policies, c.perCallPolicies...)

	policies = append(policies, newRetryPolicy(c.retryOptions, c.metrics, c.logger))

	if !c.disableRedirects {
		policies = append(policies, NewRedirectPolicy(RedirectOptions{MaxRedirects: c.maxRedirects}))
	}
	if c.credential != nil {
		policies = append(policies, newBearerTokenPolicy(c.credential, c.scopes, &c.authOptions, c.metrics, c.logger))
	}
	if c.circuitBreaker != nil {
		policies = append(policies, NewCircuitBreakerPolicy(c.circuitBreaker, c.metrics, c.logger))
	}
	if c.rateLimiter != nil {
		policies = append(policies, NewRateLimitPolicy(c.rateLimiter, c.metrics))
	}
	policies = append(policies, c.perRetryPolicies...)
	if c.logger != nil {
		policies = append(policies, NewLogPolicy(c.logger, c.logOptions))
	}
	if c.tracingEnabled {
		policies = append(policies, NewTracingPolicy(c.tracingOptions))
	}

	return NewPipeline(c.transport, policies...)
}

// Endpoint returns the service endpoint the client was built with.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// Pipeline returns the assembled policy pipeline for callers that build
// requests themselves.
func (c *Client) Pipeline() Pipeline {
	return c.pipeline
}

// IsValid reports whether the client configuration passed validation.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// NewRequest creates a request for the given path resolved against the
// client endpoint. An absolute URL is used as is.
func (c *Client) NewRequest(ctx context.Context, method, path string) (*Request, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	return NewRequest(ctx, method, target)
}

func (c *Client) resolve(path string) (string, error) {
	if path == "" {
		return c.endpoint.String(), nil
	}
	u, err := url.Parse(path)
	if err != nil {
		return "", &ClientError{
			Type:      ErrorTypeServiceRequest,
			Message:   "invalid request path",
			Cause:     err,
			URL:       path,
			Timestamp: time.Now(),
		}
	}
	if u.IsAbs() {
		return path, nil
	}
	resolved := c.endpoint.JoinPath(u.Path)
	resolved.RawQuery = u.RawQuery
	return resolved.String(), nil
}

// Do sends a request through the pipeline. The response is returned for any
// status code the service answered with; transport level failures and policy
// rejections surface as errors.
func (c *Client) Do(req *Request) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	method := req.Raw().Method
	endpoint := endpointLabel(req.Raw())
	start := time.Now()

	c.metrics.RecordRequestStart(method, endpoint)
	resp, err := c.pipeline.Do(req)
	c.metrics.RecordRequestEnd(method, endpoint)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordRequest(method, endpoint, statusCode, time.Since(start))

	return resp, err
}

// Get performs a GET against the given path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs a POST with the given content type and body.
func (c *Client) Post(ctx context.Context, path, contentType string, body []byte) (*Response, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, path)
	if err != nil {
		return nil, err
	}
	if err := req.SetBodyBytes(body, contentType); err != nil {
		return nil, err
	}
	return c.Do(req)
}

// DoJSON sends the request and decodes a 2xx JSON payload into out, which
// may be nil to discard the body. Non-2xx responses are returned as a
// *ResponseError carrying the parsed service error envelope.
func (c *Client) DoJSON(req *Request, out interface{}) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newResponseError(resp)
	}

	if out == nil {
		resp.Drain()
		return nil
	}

	payload, err := resp.Payload()
	if err != nil {
		return &ClientError{
			Type:       ErrorTypeServiceResponse,
			Message:    "reading response body",
			Cause:      err,
			Method:     req.Raw().Method,
			URL:        req.Raw().URL.String(),
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &ClientError{
			Type:       ErrorTypeServiceResponse,
			Message:    "decoding JSON response",
			Cause:      err,
			Method:     req.Raw().Method,
			URL:        req.Raw().URL.String(),
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}
	return nil
}

// GetJSON performs a GET against the given path and decodes the JSON
// response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	req, err := c.NewRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	return c.DoJSON(req, out)
}

// PostJSON marshals in as the JSON request body, performs a POST and decodes
// the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	req, err := c.NewRequest(ctx, http.MethodPost, path)
	if err != nil {
		return err
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return &ClientError{
				Type:      ErrorTypeServiceRequest,
				Message:   "encoding JSON request body",
				Cause:     err,
				Method:    http.MethodPost,
				URL:       req.Raw().URL.String(),
				Timestamp: time.Now(),
			}
		}
		if err := req.SetBodyBytes(body, "application/json"); err != nil {
			return err
		}
	}
	return c.DoJSON(req, out)
}

// Metrics returns the metrics collector, or nil when metrics are disabled.
func (c *Client) Metrics() *MetricsCollector {
	return c.metrics
}
