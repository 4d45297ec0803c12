package observe

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func middlewareMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "livescribe.http.request.duration")
	if met == nil {
		return nil
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration metric is %T, want histogram", met.Data)
	}
	return hist.DataPoints
}

func TestMiddleware_TracesAndRecords(t *testing.T) {
	exp := installTracer(t)
	m, reader := middlewareMetrics(t)
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))

	var inner string
	h := Middleware(m, log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = TraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/some/client/path", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if inner == "" || rec.Header().Get(TraceHeader) != inner {
		t.Errorf("%s = %q, handler saw trace %q", TraceHeader, rec.Header().Get(TraceHeader), inner)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "GET other" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "GET other")
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusTeapot {
		t.Errorf("span status attribute = %d, want %d", status, http.StatusTeapot)
	}

	dps := durationPoints(t, reader)
	if len(dps) != 1 || dps[0].Count != 1 {
		t.Fatalf("duration points = %+v, want one sample", dps)
	}
	if v, ok := dps[0].Attributes.Value("route"); !ok || v.AsString() != "other" {
		t.Errorf("route attribute = %v, want other", v.AsString())
	}

	out := logs.String()
	for _, want := range []string{"level=INFO", "status=418", "bytes=15", "path=/some/client/path", "trace_id=" + inner} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestMiddleware_OperationalRoutesLogAtDebug(t *testing.T) {
	installTracer(t)
	m, reader := middlewareMetrics(t)
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))

	h := Middleware(m, log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if logs.Len() != 0 {
		t.Errorf("operational requests logged at info: %s", logs.String())
	}
	routes := map[string]bool{}
	for _, dp := range durationPoints(t, reader) {
		v, _ := dp.Attributes.Value("route")
		routes[v.AsString()] = true
	}
	for _, want := range []string{"/healthz", "/readyz", "/metrics"} {
		if !routes[want] {
			t.Errorf("no duration recorded for route %s", want)
		}
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	installTracer(t)
	m, _ := middlewareMetrics(t)

	var inner string
	h := Middleware(m, slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		inner = TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	const want = "4bf92f3577b34da6a3ce929d0e0e4736"
	if inner != want {
		t.Errorf("handler trace ID = %q, want %q", inner, want)
	}
	if got := rec.Header().Get(TraceHeader); got != want {
		t.Errorf("%s = %q, want %q", TraceHeader, got, want)
	}
}

func TestMiddleware_UpgradeUntouched(t *testing.T) {
	exp := installTracer(t)
	m, reader := middlewareMetrics(t)

	var wrapped bool
	h := Middleware(m, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, wrapped = w.(*responseRecorder)
		w.WriteHeader(http.StatusSwitchingProtocols)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Upgrade", "WebSocket")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if wrapped {
		t.Error("upgrade request received a wrapped writer")
	}
	if n := len(exp.GetSpans()); n != 0 {
		t.Errorf("upgrade produced %d spans, want 0", n)
	}
	if dps := durationPoints(t, reader); len(dps) != 0 {
		t.Errorf("upgrade recorded %d duration points, want 0", len(dps))
	}
}

func TestResponseRecorder_Unwrap(t *testing.T) {
	inner := httptest.NewRecorder()
	rec := &responseRecorder{ResponseWriter: inner}
	if rec.Unwrap() != inner {
		t.Error("Unwrap did not return the wrapped writer")
	}
}
