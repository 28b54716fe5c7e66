package pipa

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Transport performs the wire exchange for one fully prepared request. It
// must not interpret the response: a non-2xx status is a successful round
// trip, and retries belong to the retry policy, not here.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(*http.Request) (*http.Response, error)

// Do implements Transport.
func (f TransportFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// DefaultTransport sends requests over a pooled net/http client. Redirect
// handling is disabled here so the redirect policy stays in charge.
type DefaultTransport struct {
	client *http.Client
}

// NewDefaultTransport creates a transport with a tuned connection pool.
func NewDefaultTransport() *DefaultTransport {
	return &DefaultTransport{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// NewTransportFromClient wraps an existing *http.Client as a Transport.
// The client's redirect handling is left as configured.
func NewTransportFromClient(client *http.Client) *DefaultTransport {
	return &DefaultTransport{client: client}
}

// Do implements Transport.
func (t *DefaultTransport) Do(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// SetTimeout bounds the total time for a single exchange, headers and body
// included. Zero means no bound.
func (t *DefaultTransport) SetTimeout(d time.Duration) {
	t.client.Timeout = d
}

// transportPolicy is the terminal pipeline step invoking the transport.
type transportPolicy struct {
	tr Transport
}

func (p transportPolicy) Do(req *Request) (*Response, error) {
	resp, err := p.tr.Do(req.Raw())
	if err != nil {
		return nil, classifyTransportError(req, err)
	}
	return newResponse(resp, req), nil
}

// classifyTransportError maps wire failures onto the error taxonomy so
// policies above can treat kinds, not library specifics.
func classifyTransportError(req *Request, err error) *ClientError {
	kind := ErrorTypeConnection
	message := "connection failed"

	switch {
	case errors.Is(err, context.Canceled):
		kind = ErrorTypeCanceled
		message = "request canceled"
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrorTypeTimeout
		message = "request deadline exceeded"
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = ErrorTypeTimeout
			message = "request timed out"
		}
	}

	return &ClientError{
		Type:      kind,
		Message:   message,
		Cause:     err,
		Method:    req.Raw().Method,
		URL:       req.Raw().URL.String(),
		Timestamp: time.Now(),
	}
}
