package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates metrics and tracing infrastructure for middleware tests.
// It swaps the global tracer provider, so callers must not run in parallel.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// routed serves h under pattern on a fresh mux wrapped in the middleware.
func routed(m *Metrics, pattern string, h http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(pattern, h)
	return Middleware(m)(mux)
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	var captured string
	handler := routed(m, "GET /api/chapters", func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chapters", nil))

	if len(captured) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", captured)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != captured {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, captured)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("traceparent was not injected into the response")
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	m, _, exp := testSetup(t)

	handler := routed(m, "GET /api/verses", func(w http.ResponseWriter, _ *http.Request) {})
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/verses?chapter=2", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if want := "HTTP GET /api/verses"; spans[0].Name != want {
		t.Errorf("span name = %q, want %q", spans[0].Name, want)
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	m, reader, _ := testSetup(t)

	handler := routed(m, "GET /api/verses", func(w http.ResponseWriter, _ *http.Request) {})
	for _, target := range []string{"/api/verses?chapter=1", "/api/verses?chapter=2", "/nope"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	rm := collect(t, reader)
	met := findMetric(rm, "gitapractice.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		counts[path.AsString()] += dp.Count
	}
	if counts["GET /api/verses"] != 2 {
		t.Errorf("route count = %d, want 2 (counts %v)", counts["GET /api/verses"], counts)
	}
	if counts["unmatched"] != 1 {
		t.Errorf("unmatched count = %d, want 1 (counts %v)", counts["unmatched"], counts)
	}
}

func TestMiddleware_ChiRoutePattern(t *testing.T) {
	m, reader, exp := testSetup(t)

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/api/users/{user}/stats", func(w http.ResponseWriter, _ *http.Request) {})
	for _, target := range []string{"/api/users/alice/stats", "/api/users/bob/stats"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	hist := findMetric(collect(t, reader), "gitapractice.http.request.duration").Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1 shared by both users", len(hist.DataPoints))
	}
	path, _ := hist.DataPoints[0].Attributes.Value("path")
	if path.AsString() != "/api/users/{user}/stats" {
		t.Errorf("path = %q", path.AsString())
	}
	if spans := exp.GetSpans(); spans[0].Name != "HTTP /api/users/{user}/stats" {
		t.Errorf("span name = %q", spans[0].Name)
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	m, _, exp := testSetup(t)

	handler := routed(m, "POST /api/bookmarks", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bookmarks", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error", spans[0].Status.Code)
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 503 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)

	var captured string
	handler := routed(m, "GET /", func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	const want = "4bf92f3577b34da6a3ce929d0e0e4736"
	if captured != want {
		t.Errorf("correlation ID = %q, want %q", captured, want)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != want {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, want)
	}
}

func TestMiddleware_LogsCompletion(t *testing.T) {
	m, _, _ := testSetup(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	handler := routed(m, "GET /api/stats", func(w http.ResponseWriter, _ *http.Request) {})
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stats?user_id=a", nil))

	line := buf.String()
	for _, want := range []string{"request completed", "status=200", `route="GET /api/stats"`, "trace_id="} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q: %s", want, line)
		}
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}
	if sr.Unwrap() != rec {
		t.Error("Unwrap did not return the wrapped writer")
	}
}
