package pipa

import (
	"bytes"
	"io"
	"net/http"
)

// Response is the result of one pipeline run. The body may be streamed from
// the wire or re-buffered after Payload; Request points back at the
// originating logical call.
type Response struct {
	StatusCode    int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	Request       *Request

	raw     *http.Response
	payload []byte
	read    bool
}

func newResponse(raw *http.Response, req *Request) *Response {
	return &Response{
		StatusCode:    raw.StatusCode,
		Header:        raw.Header,
		Body:          raw.Body,
		ContentLength: raw.ContentLength,
		Request:       req,
		raw:           raw,
	}
}

// Raw returns the underlying *http.Response.
func (r *Response) Raw() *http.Response {
	return r.raw
}

// HasStatusCode reports whether the status code matches one of codes.
func (r *Response) HasStatusCode(codes ...int) bool {
	for _, code := range codes {
		if r.StatusCode == code {
			return true
		}
	}
	return false
}

// Payload reads the whole body once and replaces it with an in-memory copy,
// so the payload can be inspected and still handed to the caller.
func (r *Response) Payload() ([]byte, error) {
	if r.read {
		return r.payload, nil
	}
	if r.Body == nil {
		r.read = true
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	closeErr := r.Body.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}
	r.payload = body
	r.read = true
	r.Body = io.NopCloser(bytes.NewReader(body))
	if r.raw != nil {
		r.raw.Body = io.NopCloser(bytes.NewReader(body))
	}
	return body, nil
}

// Drain consumes and closes the body so the underlying connection can be
// reused. Safe to call on a nil response.
func (r *Response) Drain() {
	if r == nil || r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
	_ = r.Body.Close()
}

// Close closes the response body.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}
