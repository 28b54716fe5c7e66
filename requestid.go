package pipa

import "github.com/google/uuid"

// HeaderClientRequestID is the header carrying the per-call correlation ID.
const HeaderClientRequestID = "X-Client-Request-Id"

// NewRequestIDPolicy creates a policy assigning a fresh UUID to every logical
// call. The ID is set once and kept stable across retries and redirects so
// server-side logs can be correlated with one client call; a caller-provided
// ID is left untouched.
func NewRequestIDPolicy() Policy {
	return PolicyFunc(func(req *Request) (*Response, error) {
		if req.Raw().Header.Get(HeaderClientRequestID) == "" {
			var id string
			if v, ok := req.Value(HeaderClientRequestID); ok {
				id = v.(string)
			} else {
				id = uuid.NewString()
				req.SetValue(HeaderClientRequestID, id)
			}
			req.Raw().Header.Set(HeaderClientRequestID, id)
		}
		return req.Next()
	})
}
