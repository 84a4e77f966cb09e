package core

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var redactedHeaders = map[string]bool{
	"Authorization":        true,
	"Cookie":               true,
	"X-Amz-Security-Token": true,
}

type LogEntry struct {
	Method     string
	URL        string
	Proto      string
	Attempt    string
	DurationMS float64
	StatusCode int
}

func (e LogEntry) Request() slog.Attr {
	return slog.Group("request",
		"proto", e.Proto,
		"method", e.Method,
		"url", e.URL,
		"attempt", e.Attempt,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

func headerAttrs(h http.Header) slog.Attr {
	var attrs []any
	for key, values := range h {
		for _, value := range values {
			if redactedHeaders[http.CanonicalHeaderKey(key)] {
				value = "[REDACTED]"
			}
			attrs = append(attrs, slog.String(key, value))
		}
	}
	return slog.Group("headers", attrs...)
}

// loggingTransport logs every attempt at debug level. Secrets in headers
// are redacted.
type loggingTransport struct {
	next   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if !t.logger.Enabled(ctx, slog.LevelDebug) {
		return t.next.RoundTrip(req)
	}

	entry := LogEntry{
		Method:  req.Method,
		URL:     req.URL.String(),
		Proto:   req.Proto,
		Attempt: req.Header.Get(headerSDKRequest),
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	entry.DurationMS = float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

	if err != nil {
		t.logger.DebugContext(ctx, "Request failed", entry.Request(), headerAttrs(req.Header), "error", err)
		return nil, err
	}

	entry.StatusCode = resp.StatusCode
	t.logger.DebugContext(ctx, "Request", entry.Request(), headerAttrs(req.Header))
	return resp, nil
}

// newHTTPClient builds the client used for every attempt. Redirects are
// returned to the caller as responses so a wrong-region 301 surfaces as a
// ResponseError.
func newHTTPClient(opts ClientOptions, logger *slog.Logger) *http.Client {
	rt := opts.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	rt = &loggingTransport{next: rt, logger: logger}
	if opts.Tracing {
		rt = otelhttp.NewTransport(rt)
	}

	return &http.Client{
		Transport: rt,
		Timeout:   opts.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
