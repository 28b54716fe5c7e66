package pipa

import "strings"

// NewUserAgentPolicy creates a policy stamping the User-Agent header with the
// library's telemetry string, optionally prefixed by an application ID. A
// User-Agent already set by the caller is kept in front.
func NewUserAgentPolicy(applicationID string) Policy {
	base := UserAgent()
	if applicationID != "" {
		base = applicationID + " " + base
	}
	return PolicyFunc(func(req *Request) (*Response, error) {
		ua := base
		if existing := req.Raw().Header.Get("User-Agent"); existing != "" && !strings.Contains(existing, "pipa/") {
			ua = existing + " " + base
		}
		req.Raw().Header.Set("User-Agent", ua)
		return req.Next()
	})
}
