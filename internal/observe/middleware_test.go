package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// withTracer installs an in-memory tracer provider for the test.
func withTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path, want string
	}{
		{"/metrics", "/metrics"},
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/statusz", "/statusz"},
		{"/wp-login.php", "other"},
		{"/metrics/extra", "other"},
	}
	for _, tc := range tests {
		if got := Route(tc.path); got != tc.want {
			t.Errorf("Route(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestMiddleware_RecordsRouteAndStatusClass(t *testing.T) {
	withTracer(t)
	m, reader := newTestMetrics(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/readyz" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	serve(h, "/readyz")
	serve(h, "/nope")
	serve(h, "/also-nope")

	met := findMetric(collect(t, reader), "scribefix.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data = %T, want a histogram", met.Data)
	}

	got := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		code, _ := dp.Attributes.Value("code")
		got[route.AsString()+" "+code.AsString()] += dp.Count
	}
	want := map[string]uint64{"/readyz 5xx": 1, "other 4xx": 2}
	if len(got) != len(want) {
		t.Fatalf("data points = %v, want %v", got, want)
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("count[%s] = %d, want %d", k, got[k], n)
		}
	}
}

func TestMiddleware_SpanContinuesTraceparent(t *testing.T) {
	exp := withTracer(t)

	var seen string
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/statusz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace ID in handler = %q", seen)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "GET /statusz" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "GET /statusz")
	}
}

func TestMiddleware_NilMetrics(t *testing.T) {
	withTracer(t)
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	if rec := serve(h, "/metrics"); rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestMiddleware_LogsAtDebug(t *testing.T) {
	withTracer(t)

	var buf bytes.Buffer
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	h := Middleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	serve(h, "/metrics")
	if buf.Len() != 0 {
		t.Errorf("logged at info level: %s", buf.String())
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	serve(h, "/metrics")
	if out := buf.String(); !strings.Contains(out, "endpoint served") || !strings.Contains(out, "route=/metrics") {
		t.Errorf("debug log = %q", out)
	}
}
