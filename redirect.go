package pipa

import (
	"net/http"
	"time"
)

// defaultMaxRedirects bounds redirect following, matching the net/http limit.
const defaultMaxRedirects = 10

// RedirectOptions configures NewRedirectPolicy.
type RedirectOptions struct {
	// MaxRedirects is the hop limit. Zero selects 10.
	MaxRedirects int
}

// NewRedirectPolicy creates a policy that follows 3xx responses. 303 replies
// (and 301/302 answering a POST) are replayed as GET without a body; 307/308
// resend the original method with a rewound body. When a redirect leaves the
// original host the Authorization header is withheld from the replay.
func NewRedirectPolicy(opts RedirectOptions) Policy {
	max := opts.MaxRedirects
	if max <= 0 {
		max = defaultMaxRedirects
	}
	return &redirectPolicy{maxRedirects: max}
}

type redirectPolicy struct {
	maxRedirects int
}

func (p *redirectPolicy) Do(req *Request) (*Response, error) {
	resp, err := req.Next()

	for hops := 0; err == nil && isRedirectStatus(resp.StatusCode); hops++ {
		if hops >= p.maxRedirects {
			resp.Drain()
			return nil, &ClientError{
				Type:      ErrorTypeServiceResponse,
				Message:   "redirect limit reached",
				Cause:     ErrTooManyRedirects,
				Method:    req.Raw().Method,
				URL:       req.Raw().URL.String(),
				Timestamp: time.Now(),
			}
		}

		location := resp.Header.Get("Location")
		if location == "" {
			return resp, nil
		}
		target, perr := req.Raw().URL.Parse(location)
		if perr != nil {
			return resp, nil
		}

		raw := req.Raw()
		if target.Host != raw.URL.Host {
			req.SetValue(crossHostValue, target.Host)
			raw.Header.Del("Authorization")
		}

		if rewriteToGet(resp.StatusCode, raw.Method) {
			raw.Method = http.MethodGet
			req.ClearBody()
		} else if rerr := req.RewindBody(); rerr != nil {
			resp.Drain()
			return nil, rerr
		}

		resp.Drain()
		raw.URL = target
		raw.Host = ""
		resp, err = req.Next()
	}

	return resp, err
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// rewriteToGet mirrors the net/http redirect method rules: 303 always becomes
// GET, and the historical 301/302 behavior downgrades everything but GET and
// HEAD.
func rewriteToGet(status int, method string) bool {
	if method == http.MethodGet || method == http.MethodHead {
		return false
	}
	switch status {
	case http.StatusSeeOther, http.StatusMovedPermanently, http.StatusFound:
		return true
	default:
		return false
	}
}
