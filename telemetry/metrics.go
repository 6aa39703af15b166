package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// EventMessage is the log message and span event name of every request record.
	EventMessage = "observability.event"
	eventDomain  = "app"
	tracerName   = "taskboard"

	AttrRoute      = "http.route"
	AttrMethod     = "http.method"
	AttrStatusCode = "http.status_code"
)

// RequestMetrics collects timings and attributes for one request and emits
// them as a structured log entry and a span when Log is called.
type RequestMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	eventName  string
	prefix     string
	method     string
	route      string
	attrs      map[string]any
	errorStage string
}

// StartRequest opens a span named eventName and returns the metrics together
// with the span context. prefix namespaces custom attributes, e.g. "board".
func StartRequest(ctx context.Context, logger *log.Logger, eventName, prefix, method, route string) (*RequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, eventName, trace.WithSpanKind(trace.SpanKindInternal))
	return &RequestMetrics{
		logger:    logger,
		span:      span,
		start:     time.Now(),
		eventName: eventName,
		prefix:    prefix,
		method:    method,
		route:     route,
		attrs:     map[string]any{},
	}, spanCtx
}

// Observe records a stage duration as <prefix>.<stage>_ms.
func (m *RequestMetrics) Observe(stage string, d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.attrs[m.key(stage+"_ms")] = durationToMillis(d)
}

// Set records a custom attribute under the metrics prefix.
func (m *RequestMetrics) Set(name string, value any) {
	if m == nil {
		return
	}
	m.attrs[m.key(name)] = value
}

func (m *RequestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

// Log emits the request record and ends the span.
func (m *RequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	severityText, severityNumber := SeverityForStatus(status, err)

	attrs := make(map[string]any, len(m.attrs)+5)
	for k, v := range m.attrs {
		attrs[k] = v
	}
	attrs[AttrRoute] = m.route
	attrs[AttrMethod] = m.method
	attrs[m.key("total_ms")] = durationToMillis(time.Since(m.start))
	if status > 0 {
		attrs[AttrStatusCode] = status
	}
	if m.errorStage != "" {
		attrs[m.key("error_stage")] = m.errorStage
	}

	if m.span != nil {
		kvs := toKeyValues(attrs)
		m.span.SetAttributes(kvs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", m.eventName),
			attribute.String("event.domain", eventDomain),
			attribute.String("severity_text", severityText),
		}, kvs...)
		if err != nil {
			eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
			m.span.RecordError(err)
		}
		m.span.AddEvent(EventMessage, trace.WithAttributes(eventAttrs...))
		if severityText == "ERROR" {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      m.eventName,
		"event.domain":    eventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrs,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(EventMessage)
	case "WARN":
		entry.Warn(EventMessage)
	default:
		entry.Info(EventMessage)
	}
}

func (m *RequestMetrics) key(name string) string {
	if m.prefix == "" {
		return name
	}
	return m.prefix + "." + name
}

// SeverityForStatus maps an HTTP status and error to OpenTelemetry log severity.
func SeverityForStatus(status int, err error) (string, int) {
	switch {
	case status >= 500 || (status == 0 && err != nil):
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case int64:
			out = append(out, attribute.Int64(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
