package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// knownRoutes are the endpoints served next to a run. Any other path is
// labelled "other".
var knownRoutes = map[string]bool{
	"/metrics": true,
	"/healthz": true,
	"/readyz":  true,
	"/statusz": true,
}

// Route maps a request path to its metric label.
func Route(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// codeWriter remembers the status code the wrapped handler wrote.
type codeWriter struct {
	http.ResponseWriter
	code int
}

func (w *codeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *codeWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// statusClass returns "2xx", "4xx" and so on.
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// Middleware instruments the operator endpoints (metrics scrape and health
// probes). Each request gets a server span, continuing a W3C traceparent when
// the caller sends one, and its latency lands in
// [Metrics.HTTPRequestDuration] labelled by route and status class. Requests
// are logged at debug level because scrapers poll continuously. A nil m
// skips the histogram.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := Route(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			cw := &codeWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(cw, r.WithContext(ctx))

			elapsed := time.Since(start)
			span.SetAttributes(semconv.HTTPResponseStatusCode(cw.code))
			if m != nil {
				m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
					metric.WithAttributes(Attr("route", route), Attr("code", statusClass(cw.code))))
			}

			Logger(ctx).LogAttrs(ctx, slog.LevelDebug, "endpoint served",
				slog.String("route", route),
				slog.Int("status", cw.code),
				slog.Duration("elapsed", elapsed),
			)
		})
	}
}
