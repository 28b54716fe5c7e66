package pipa

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
)

// Request is the unit of work flowing through a pipeline. It wraps an
// *http.Request with a rewindable body, the remaining policy chain and a
// per-call value bag shared by all policies handling the same logical call.
type Request struct {
	req      *http.Request
	body     io.ReadSeekCloser
	policies []Policy
	values   map[string]interface{}
}

// NewRequest creates a request for the given method and URL. The context is
// carried through every policy and the transport.
func NewRequest(ctx context.Context, method, rawURL string) (*Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, &ClientError{
			Type:    ErrorTypeServiceRequest,
			Message: "invalid request",
			Cause:   err,
			Method:  method,
			URL:     rawURL,
		}
	}
	return &Request{
		req:    req,
		values: map[string]interface{}{},
	}, nil
}

// Raw returns the underlying *http.Request. Policies may mutate it.
func (r *Request) Raw() *http.Request {
	return r.req
}

// Context returns the request context.
func (r *Request) Context() context.Context {
	return r.req.Context()
}

// SetContext replaces the request context in place, so the change is visible
// to every holder of this logical call.
func (r *Request) SetContext(ctx context.Context) {
	*r.req = *r.req.WithContext(ctx)
}

// SetBody installs a rewindable body and content type. Content length is
// derived by seeking to the end.
func (r *Request) SetBody(body io.ReadSeekCloser, contentType string) error {
	size, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return &ClientError{Type: ErrorTypeServiceRequest, Message: "body is not seekable", Cause: err}
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return &ClientError{Type: ErrorTypeServiceRequest, Message: "body rewind failed", Cause: err}
	}
	r.body = body
	r.req.Body = body
	r.req.ContentLength = size
	if contentType != "" {
		r.req.Header.Set("Content-Type", contentType)
	}
	return nil
}

// SetBodyBytes installs a byte slice body.
func (r *Request) SetBodyBytes(body []byte, contentType string) error {
	return r.SetBody(nopSeekCloser{bytes.NewReader(body)}, contentType)
}

// ClearBody removes any body from the request. Used by redirect handling when
// a method rewrite drops the payload.
func (r *Request) ClearBody() {
	r.body = nil
	r.req.Body = nil
	r.req.ContentLength = 0
	r.req.Header.Del("Content-Type")
}

// RewindBody seeks the body back to its start so the request can be resent.
func (r *Request) RewindBody() error {
	if r.body == nil {
		return nil
	}
	if _, err := r.body.Seek(0, io.SeekStart); err != nil {
		return &ClientError{Type: ErrorTypeServiceRequest, Message: "body rewind failed", Cause: err}
	}
	r.req.Body = r.body
	return nil
}

// Close releases the request body, if any.
func (r *Request) Close() error {
	if r.body == nil {
		return nil
	}
	body := r.body
	r.body = nil
	r.req.Body = nil
	return body.Close()
}

// Clone returns a copy of the request with cloned headers and the given
// context. The body and the per-call value bag are shared, so a rewound body
// serves the clone and values written by one attempt are visible to the next.
func (r *Request) Clone(ctx context.Context) *Request {
	clone := *r
	clone.req = r.req.Clone(ctx)
	if r.body != nil {
		clone.req.Body = r.body
	}
	return &clone
}

// SetQueryParam sets a single query parameter on the request URL.
func (r *Request) SetQueryParam(key, value string) {
	q := r.req.URL.Query()
	q.Set(key, value)
	r.req.URL.RawQuery = q.Encode()
}

// SetValue stores a per-call value visible to every policy handling this call.
func (r *Request) SetValue(key string, value interface{}) {
	r.values[key] = value
}

// Value retrieves a per-call value.
func (r *Request) Value(key string) (interface{}, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Next passes the request to the next policy in the chain. A policy may call
// Next more than once to resend the request through the remainder of the
// chain; callers are responsible for rewinding the body first.
func (r *Request) Next() (*Response, error) {
	if len(r.policies) == 0 {
		return nil, errors.New("pipa: no more policies")
	}
	next := *r
	next.policies = r.policies[1:]
	return r.policies[0].Do(&next)
}

// endpointLabel extracts a host+path label from the request for metrics and
// logging.
func endpointLabel(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)

	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}

// nopSeekCloser adds a no-op Close to a bytes.Reader.
type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }
