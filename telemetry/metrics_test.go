package telemetry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const testEvent = "taskboard.board.request"

func TestRequestMetricsLogProducesObservabilityEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := StartRequest(context.Background(), logger, testEvent, "board", http.MethodPost, "/api/drag/end")
	metrics.start = metrics.start.Add(-50 * time.Millisecond)
	metrics.Observe("engine", 5*time.Millisecond)
	metrics.Set("changed", true)
	metrics.Set("tasks", 3)

	metrics.Log(http.StatusOK, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected log entry")
	}
	if entry.Message != EventMessage {
		t.Fatalf("unexpected message: %s", entry.Message)
	}
	if entry.Data["event.name"] != testEvent {
		t.Fatalf("unexpected event name: %v", entry.Data["event.name"])
	}
	attrs, ok := entry.Data["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes not logged as map: %#v", entry.Data["attributes"])
	}
	if attrs[AttrRoute] != "/api/drag/end" {
		t.Fatalf("unexpected route attribute: %#v", attrs[AttrRoute])
	}
	if attrs["board.changed"] != true || attrs["board.tasks"] != 3 {
		t.Fatalf("unexpected custom attributes: %#v", attrs)
	}
	if attrs["board.engine_ms"] != 5.0 {
		t.Fatalf("unexpected stage duration: %#v", attrs["board.engine_ms"])
	}
	if total, _ := attrs["board.total_ms"].(float64); total < 50 {
		t.Fatalf("expected total duration attribute, got %#v", attrs["board.total_ms"])
	}
	if entry.Data["severity_text"] != "INFO" || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected severity: %v/%v", entry.Data["severity_text"], entry.Data["severity_number"])
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id to be recorded, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != testEvent {
		t.Fatalf("unexpected span name: %s", span.Name)
	}
	spanAttrs := attributesToMap(span.Attributes)
	if code, ok := spanAttrs[AttrStatusCode].(int64); !ok || code != int64(http.StatusOK) {
		t.Fatalf("unexpected http.status_code on span: %#v", spanAttrs[AttrStatusCode])
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected span status Ok, got %v", span.Status.Code)
	}
	if findEvent(span.Events).Name == "" {
		t.Fatalf("expected observability.event span event, got %#v", span.Events)
	}
}

func TestRequestMetricsLogWithErrorSetsSpanStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := StartRequest(context.Background(), logger, "taskboard.remote.request", "remote", http.MethodPut, "/tasks/{id}")
	metrics.SetErrorStage("transport")
	boom := errors.New("connection refused")

	metrics.Log(0, boom)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	if entry := hook.LastEntry(); entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error log entry, got %#v", entry)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error || span.Status.Description != boom.Error() {
		t.Fatalf("unexpected span status: %#v", span.Status)
	}
	attrs := attributesToMap(findEvent(span.Events).Attributes)
	if attrs["remote.error_stage"] != "transport" {
		t.Fatalf("expected error stage attribute propagated, got %#v", attrs["remote.error_stage"])
	}
	if attrs["error.message"] != boom.Error() {
		t.Fatalf("expected error.message attribute, got %#v", attrs["error.message"])
	}
	if _, ok := attrs[AttrStatusCode]; ok {
		t.Fatalf("status code recorded for transport failure")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *RequestMetrics
	m.Observe("x", time.Second)
	m.Set("x", 1)
	m.SetErrorStage("x")
	m.Log(http.StatusOK, nil)
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantText   string
		wantNumber int
	}{
		{name: "ok", status: http.StatusOK, wantText: "INFO", wantNumber: 9},
		{name: "warn", status: http.StatusConflict, wantText: "WARN", wantNumber: 13},
		{name: "error", status: http.StatusBadGateway, wantText: "ERROR", wantNumber: 17},
		{name: "errorFromErr", status: 0, err: errors.New("boom"), wantText: "ERROR", wantNumber: 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotText, gotNumber := SeverityForStatus(tt.status, tt.err)
			if gotText != tt.wantText || gotNumber != tt.wantNumber {
				t.Fatalf("SeverityForStatus(%d, %v) = %s/%d, want %s/%d", tt.status, tt.err, gotText, gotNumber, tt.wantText, tt.wantNumber)
			}
		})
	}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func findEvent(events []sdktrace.Event) sdktrace.Event {
	for _, ev := range events {
		if ev.Name == EventMessage {
			return ev
		}
	}
	return sdktrace.Event{}
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
