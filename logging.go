package pipa

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Logger is the minimal structured logging interface used across the
// pipeline. Arguments after the message alternate keys and values. The
// library stays quiet unless a Logger is configured.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// NewSimpleLogger returns a Logger writing text lines to stderr.
func NewSimpleLogger() Logger {
	return NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// NewSlogLogger adapts a *slog.Logger to the Logger interface.
func NewSlogLogger(l *slog.Logger) Logger {
	return &slogLogger{l: l}
}

type slogLogger struct {
	l *slog.Logger
}

func (s *slogLogger) Debug(msg string, keysAndValues ...interface{}) {
	s.l.Debug(msg, keysAndValues...)
}

func (s *slogLogger) Info(msg string, keysAndValues ...interface{}) {
	s.l.Info(msg, keysAndValues...)
}

func (s *slogLogger) Warn(msg string, keysAndValues ...interface{}) {
	s.l.Warn(msg, keysAndValues...)
}

func (s *slogLogger) Error(msg string, keysAndValues ...interface{}) {
	s.l.Error(msg, keysAndValues...)
}

// defaultAllowedLogHeaders are logged verbatim; anything else is redacted so
// credentials and customer data stay out of logs.
var defaultAllowedLogHeaders = []string{
	"Accept",
	"Content-Length",
	"Content-Type",
	"Retry-After",
	"User-Agent",
	"WWW-Authenticate",
	HeaderClientRequestID,
}

const redactedValue = "REDACTED"

// LogOptions configures NewLogPolicy.
type LogOptions struct {
	// AllowedHeaders extends the set of headers logged with their values.
	AllowedHeaders []string
}

// NewLogPolicy creates a policy logging one line per attempt on the way out
// and one on the way back, with sensitive header values redacted.
func NewLogPolicy(logger Logger, opts LogOptions) Policy {
	allowed := make(map[string]struct{}, len(defaultAllowedLogHeaders)+len(opts.AllowedHeaders))
	for _, h := range defaultAllowedLogHeaders {
		allowed[strings.ToLower(h)] = struct{}{}
	}
	for _, h := range opts.AllowedHeaders {
		allowed[strings.ToLower(h)] = struct{}{}
	}
	return &logPolicy{logger: logger, allowed: allowed}
}

type logPolicy struct {
	logger  Logger
	allowed map[string]struct{}
}

func (p *logPolicy) Do(req *Request) (*Response, error) {
	raw := req.Raw()
	p.logger.Debug("Sending request",
		"method", raw.Method,
		"url", raw.URL.String(),
		"headers", p.sanitize(raw.Header),
	)

	start := time.Now()
	resp, err := req.Next()
	elapsed := time.Since(start)

	if err != nil {
		p.logger.Error("Request failed",
			"method", raw.Method,
			"url", raw.URL.String(),
			"duration", elapsed,
			"error", err.Error(),
		)
		return nil, err
	}

	logFn := p.logger.Debug
	if resp.StatusCode >= 400 {
		logFn = p.logger.Warn
	}
	logFn("Received response",
		"method", raw.Method,
		"url", raw.URL.String(),
		"statusCode", resp.StatusCode,
		"duration", elapsed,
		"headers", p.sanitize(resp.Header),
	)
	return resp, nil
}

func (p *logPolicy) sanitize(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if _, ok := p.allowed[strings.ToLower(name)]; ok {
			out[name] = strings.Join(values, ", ")
		} else {
			out[name] = redactedValue
		}
	}
	return out
}
