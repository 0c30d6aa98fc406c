package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName names spans created by the application itself.
const TracerName = "whatslog"

func StartSpan(ctx context.Context, spanName string, attributes ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return otel.Tracer(TracerName).Start(ctx, spanName, oteltrace.WithAttributes(attributes...))
}

// StartServerSpan continues the trace carried by r's headers, if any. When
// neither the caller nor a provider supplies a trace, the scope still gets a
// random trace id so log lines of one request can be grouped.
func StartServerSpan(r *http.Request, spanName string) (context.Context, oteltrace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(TracerName).Start(ctx, spanName, oteltrace.WithSpanKind(oteltrace.SpanKindServer))

	if !span.SpanContext().IsValid() {
		s := ScopeFrom(ctx)
		s.TraceID = strings.ReplaceAll(uuid.NewString(), "-", "")
		ctx = WithScope(ctx, s)
	}
	return ctx, span
}

// AddSpanAttributes is a no-op unless the span in ctx is recording.
func AddSpanAttributes(ctx context.Context, attributes ...attribute.KeyValue) {
	if span := oteltrace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attributes...)
	}
}

// SetHTTPStatus records the response code and marks 5xx responses as errors.
func SetHTTPStatus(ctx context.Context, statusCode int) {
	span := oteltrace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
	if statusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(statusCode))
	}
}

func RecordError(ctx context.Context, err error, attributes ...attribute.KeyValue) {
	span := oteltrace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, oteltrace.WithAttributes(attributes...))
	span.SetStatus(codes.Error, err.Error())
}
