package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_ServesMetricsAndTraces(t *testing.T) {
	prevMP, prevTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMP)
		otel.SetTracerProvider(prevTP)
	})

	spans := tracetest.NewInMemoryExporter()
	tel, err := Setup(context.Background(), Config{ServiceVersion: "test", SpanExporter: spans})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	tel.Metrics.RecordChunk(context.Background(), 1024)
	_, span := StartSpan(context.Background(), "relay.flush")
	span.End()

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"go_goroutines", "chunks_received"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}

	if err := tel.tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if got := spans.GetSpans(); len(got) != 1 || got[0].Name != "relay.flush" {
		t.Errorf("exported spans = %v, want relay.flush", got)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/healthz":     "/healthz",
		"/metrics":     "/metrics",
		"/":            "other",
		"/any/path/ws": "other",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
