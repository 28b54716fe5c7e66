package pipa

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies spans produced by this library.
const instrumentationName = "github.com/ambiyansyah-risyal/pipa"

// TracingOptions configures NewTracingPolicy.
type TracingOptions struct {
	// Tracer overrides the tracer; nil selects the global provider.
	Tracer trace.Tracer
}

// NewTracingPolicy creates a policy opening one client span per attempt.
// Placed after the retry policy, each resend shows up as its own span.
func NewTracingPolicy(opts TracingOptions) Policy {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &tracingPolicy{tracer: tracer}
}

type tracingPolicy struct {
	tracer trace.Tracer
}

func (p *tracingPolicy) Do(req *Request) (*Response, error) {
	raw := req.Raw()
	ctx, span := p.tracer.Start(req.Context(), raw.Method+" "+raw.URL.Host,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", raw.Method),
			attribute.String("url.full", raw.URL.String()),
			attribute.String("server.address", raw.URL.Hostname()),
		),
	)
	defer span.End()

	req.SetContext(ctx)
	resp, err := req.Next()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	return resp, nil
}
