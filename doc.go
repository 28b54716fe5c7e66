// Package pipa provides a resilient HTTP client built as an ordered policy
// pipeline around a pluggable transport:
//
//   - Retries with exponential backoff + jitter, Retry-After awareness and
//     an optional windowed retry budget
//   - Bearer token auth with proactive refresh and 401 challenge replay
//   - Redirect following with cross-host credential stripping
//   - Circuit breaker (open / half-open / closed states)
//   - Rate limiting (token bucket)
//   - Request IDs, User-Agent telemetry, structured logging and
//     OpenTelemetry tracing
//   - Prometheus metrics for the request lifecycle
//
// Design goals:
//   - Small surface area - functional options configure everything
//   - Policies compose; each sees the request on the way down and the
//     response on the way up
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via user supplied per call and per retry policies
//
// Typical usage:
//
//	client, err := pipa.NewClient("https://api.example.com",
//	    pipa.WithMaxRetries(3),
//	    pipa.WithCredential(cred, "https://api.example.com/.default"),
//	    pipa.WithCircuitBreaker(pipa.CircuitBreakerConfig{}),
//	    pipa.WithMetrics(),
//	)
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Get(ctx, "/data")
//
// Only transient transport failures and retryable status codes trigger
// retries by default; override with RetryOptions.ShouldRetry. The library
// avoids opinionated logging: provide a Logger (e.g. via WithSimpleLogger)
// for insight without noise.
package pipa
