package pipa

import (
	"fmt"
	"net/http"
	"time"
)

// WithTransport sets a custom transport. It takes precedence over
// WithHTTPClient and WithTimeout.
func WithTransport(tr Transport) Option {
	return func(c *Client) {
		c.transport = tr
	}
}

// WithHTTPClient sends requests over an existing *http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout bounds the total time for a single exchange. It applies to the
// default transport and to a client supplied via WithHTTPClient, regardless
// of option order.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		c.timeoutSet = true
	}
}

// WithRetryOptions replaces the retry configuration wholesale.
func WithRetryOptions(opts RetryOptions) Option {
	return func(c *Client) {
		c.retryOptions = opts
	}
}

// WithMaxRetries sets the number of resends after the first attempt.
// A negative value disables retries.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.retryOptions.MaxRetries = n
	}
}

// WithRetryBudget caps retries across all calls within a sliding window.
func WithRetryBudget(maxRetries int, perWindow time.Duration) Option {
	return func(c *Client) {
		c.retryOptions.Budget = NewRetryBudget(maxRetries, perWindow)
	}
}

// WithCredential enables bearer token auth using the given credential and
// scopes.
func WithCredential(cred TokenCredential, scopes ...string) Option {
	return func(c *Client) {
		c.credential = cred
		c.scopes = scopes
	}
}

// WithAuthOptions tunes the bearer token policy.
func WithAuthOptions(opts BearerTokenOptions) Option {
	return func(c *Client) {
		c.authOptions = opts
	}
}

// WithMaxRedirects sets the redirect hop limit.
func WithMaxRedirects(n int) Option {
	return func(c *Client) {
		c.maxRedirects = n
	}
}

// WithoutRedirects disables redirect following; 3xx responses are returned
// to the caller.
func WithoutRedirects() Option {
	return func(c *Client) {
		c.disableRedirects = true
	}
}

// WithApplicationID prefixes the User-Agent header with an application
// identifier.
func WithApplicationID(id string) Option {
	return func(c *Client) {
		c.applicationID = id
	}
}

// WithCircuitBreaker enables a circuit breaker with the given configuration.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.circuitBreaker = NewCircuitBreaker(config)
	}
}

// WithRateLimiter enables a client side token bucket rate limiter.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger enables request logging through the given logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables request logging to stderr.
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
	}
}

// WithLogAllowedHeaders extends the set of headers logged with their values
// instead of being redacted.
func WithLogAllowedHeaders(headers ...string) Option {
	return func(c *Client) {
		c.logOptions.AllowedHeaders = append(c.logOptions.AllowedHeaders, headers...)
	}
}

// WithTracing enables one OpenTelemetry span per attempt.
func WithTracing() Option {
	return func(c *Client) {
		c.tracingEnabled = true
	}
}

// WithTracingOptions enables tracing with a custom tracer.
func WithTracingOptions(opts TracingOptions) Option {
	return func(c *Client) {
		c.tracingEnabled = true
		c.tracingOptions = opts
	}
}

// WithPerCallPolicies appends policies that run once per logical operation,
// before the retry policy.
func WithPerCallPolicies(policies ...Policy) Option {
	return func(c *Client) {
		c.perCallPolicies = append(c.perCallPolicies, policies...)
	}
}

// WithPerRetryPolicies appends policies that run once per attempt, after the
// retry policy.
func WithPerRetryPolicies(policies ...Policy) Option {
	return func(c *Client) {
		c.perRetryPolicies = append(c.perRetryPolicies, policies...)
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error describing every problem found.
func (c *Client) ValidateConfiguration() error {
	var errs []string

	errs = append(errs, c.validateRetryConfig()...)
	errs = append(errs, c.validateAuthConfig()...)
	errs = append(errs, c.validateRedirectConfig()...)
	errs = append(errs, c.validateRateLimiterConfig()...)
	errs = append(errs, c.validateCircuitBreakerConfig()...)
	errs = append(errs, c.validatePolicyConfig()...)
	errs = append(errs, c.validateTransportConfig()...)
	errs = append(errs, c.validateExtremeValues()...)

	if len(errs) > 0 {
		return &ClientError{
			Type:      ErrorTypeValidation,
			Message:   "configuration validation failed",
			Cause:     fmt.Errorf("validation errors: %v", errs),
			Timestamp: time.Now(),
		}
	}

	return nil
}

func (c *Client) validateRetryConfig() []string {
	var errs []string

	o := c.retryOptions
	if o.InitialBackoff < 0 {
		errs = append(errs, "retry InitialBackoff must be non-negative")
	}
	if o.MaxBackoff < 0 {
		errs = append(errs, "retry MaxBackoff must be non-negative")
	}
	if o.InitialBackoff > 0 && o.MaxBackoff > 0 && o.MaxBackoff < o.InitialBackoff {
		errs = append(errs, "retry MaxBackoff must be greater than or equal to InitialBackoff")
	}
	if o.BackoffMultiplier < 0 {
		errs = append(errs, "retry BackoffMultiplier must be non-negative")
	}
	if o.Jitter < 0 || o.Jitter > 1 {
		errs = append(errs, "retry Jitter must be between 0 and 1")
	}
	if o.TryTimeout < 0 {
		errs = append(errs, "retry TryTimeout must be non-negative")
	}
	for _, code := range o.StatusCodes {
		if code < 100 || code > 599 {
			errs = append(errs, fmt.Sprintf("retry status code %d is not a valid HTTP status", code))
		}
	}

	return errs
}

func (c *Client) validateAuthConfig() []string {
	var errs []string

	if c.credential != nil && len(c.scopes) == 0 {
		errs = append(errs, "credential requires at least one scope")
	}
	if c.credential == nil && len(c.scopes) > 0 {
		errs = append(errs, "scopes set without a credential")
	}
	if c.authOptions.RefreshWindow < 0 {
		errs = append(errs, "auth RefreshWindow must be non-negative")
	}

	return errs
}

func (c *Client) validateRedirectConfig() []string {
	var errs []string

	if c.maxRedirects < 0 {
		errs = append(errs, "maxRedirects must be non-negative")
	}

	return errs
}

func (c *Client) validateRateLimiterConfig() []string {
	var errs []string

	if c.rateLimiter != nil {
		if c.rateLimiter.maxTokens <= 0 {
			errs = append(errs, "rateLimiter maxTokens must be positive")
		}
		if c.rateLimiter.refillRate <= 0 {
			errs = append(errs, "rateLimiter refillRate must be positive")
		}
	}

	return errs
}

func (c *Client) validateCircuitBreakerConfig() []string {
	var errs []string

	if c.circuitBreaker != nil {
		if c.circuitBreaker.config.FailureThreshold <= 0 {
			errs = append(errs, "circuitBreaker FailureThreshold must be positive")
		}
		if c.circuitBreaker.config.RecoveryTimeout <= 0 {
			errs = append(errs, "circuitBreaker RecoveryTimeout must be positive")
		}
		if c.circuitBreaker.config.SuccessThreshold <= 0 {
			errs = append(errs, "circuitBreaker SuccessThreshold must be positive")
		}
	}

	return errs
}

func (c *Client) validatePolicyConfig() []string {
	var errs []string

	for i, p := range c.perCallPolicies {
		if p == nil {
			errs = append(errs, fmt.Sprintf("perCallPolicies[%d] cannot be nil", i))
		}
	}
	for i, p := range c.perRetryPolicies {
		if p == nil {
			errs = append(errs, fmt.Sprintf("perRetryPolicies[%d] cannot be nil", i))
		}
	}

	return errs
}

func (c *Client) validateTransportConfig() []string {
	var errs []string

	if c.transport == nil {
		errs = append(errs, "transport cannot be nil")
	}
	if c.timeout < 0 {
		errs = append(errs, "timeout must be non-negative")
	}

	return errs
}

func (c *Client) validateExtremeValues() []string {
	var errs []string

	if c.retryOptions.MaxRetries > 100 {
		errs = append(errs, "retry MaxRetries > 100 may cause excessive resource usage")
	}
	if c.retryOptions.InitialBackoff > 10*time.Minute {
		errs = append(errs, "retry InitialBackoff > 10m may cause very long delays")
	}
	if c.retryOptions.MaxBackoff > time.Hour {
		errs = append(errs, "retry MaxBackoff > 1h may cause extremely long delays")
	}
	if c.timeout > 10*time.Minute {
		errs = append(errs, "timeout > 10m may cause requests to hang for too long")
	}
	if c.rateLimiter != nil {
		if c.rateLimiter.maxTokens > 1000000 {
			errs = append(errs, "rateLimiter maxTokens > 1M may cause memory issues")
		}
		if c.rateLimiter.refillRate > 0 && c.rateLimiter.refillRate < time.Millisecond {
			errs = append(errs, "rateLimiter refillRate < 1ms may cause excessive CPU usage")
		}
	}

	return errs
}
