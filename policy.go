package pipa

// Policy is one unit of pipeline middleware. A policy does its request-side
// work, forwards the call with req.Next(), then does its response-side work
// with whatever Next returned. Policies run in registration order on the way
// down and unwind in reverse order on the way up, so the last policy before
// the transport sees the rawest response first.
//
// Policies must be safe to re-run for the same logical call: the retry policy
// replays everything after itself on each attempt.
type Policy interface {
	Do(req *Request) (*Response, error)
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(*Request) (*Response, error)

// Do implements Policy.
func (f PolicyFunc) Do(req *Request) (*Response, error) {
	return f(req)
}

// HookPolicy builds a policy out of plain request/response/error hooks, for
// cross-cutting concerns that never need to short-circuit the chain
// themselves. A nil hook is skipped. An error returned from OnRequest aborts
// the call before the transport is reached.
type HookPolicy struct {
	OnRequest  func(req *Request) error
	OnResponse func(req *Request, resp *Response) error
	OnError    func(req *Request, err error)
}

// Do implements Policy.
func (h HookPolicy) Do(req *Request) (*Response, error) {
	if h.OnRequest != nil {
		if err := h.OnRequest(req); err != nil {
			return nil, err
		}
	}
	resp, err := req.Next()
	if err != nil {
		if h.OnError != nil {
			h.OnError(req, err)
		}
		return nil, err
	}
	if h.OnResponse != nil {
		if err := h.OnResponse(req, resp); err != nil {
			resp.Drain()
			return nil, err
		}
	}
	return resp, nil
}
