package pipa

// Pipeline is an ordered chain of policies terminated by a transport step.
// A zero Pipeline is not usable; build one with NewPipeline. Pipelines are
// immutable after construction and safe for concurrent use.
type Pipeline struct {
	policies []Policy
}

// NewPipeline builds a pipeline from the given policies in order, appending
// the transport as the terminal step. A nil transport selects the default
// pooled transport.
func NewPipeline(tr Transport, policies ...Policy) Pipeline {
	if tr == nil {
		tr = NewDefaultTransport()
	}
	chain := make([]Policy, len(policies), len(policies)+1)
	copy(chain, policies)
	chain = append(chain, transportPolicy{tr: tr})
	return Pipeline{policies: chain}
}

// Do runs the request through the policy chain and transport. The request is
// mutated on the way down and the response inspected on the way up; the same
// Request must not be shared between concurrent calls.
func (p Pipeline) Do(req *Request) (*Response, error) {
	if len(p.policies) == 0 {
		return nil, &ClientError{
			Type:    ErrorTypeValidation,
			Message: "pipeline has no transport; use NewPipeline",
		}
	}
	req.policies = p.policies
	return req.Next()
}
