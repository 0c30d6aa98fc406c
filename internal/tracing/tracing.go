package tracing

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries a caller supplied request id.
const RequestIDHeader = "X-Request-ID"

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

type scopeKey struct{}

// Scope is the per-request correlation data carried through the context and
// copied into log lines and published events.
type Scope struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id"`
	SpanID    string    `json:"span_id"`
	Started   time.Time `json:"start_time"`
}

// NewRequestID returns a random request id.
func NewRequestID() string {
	return "req_" + uuid.NewString()
}

// AcceptRequestID keeps a caller supplied id when it is safe to log and echo
// back, otherwise it returns a fresh one.
func AcceptRequestID(header string) string {
	if requestIDPattern.MatchString(header) {
		return header
	}
	return NewRequestID()
}

// WithScope replaces the scope stored in ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope stored in ctx. Trace and span ids of a valid
// span in ctx win over stored ones.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
		s.TraceID = sc.TraceID().String()
		s.SpanID = sc.SpanID().String()
	}
	return s
}

// Begin stamps ctx with requestID and the current time.
func Begin(ctx context.Context, requestID string) context.Context {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	s.RequestID = requestID
	s.Started = time.Now()
	return WithScope(ctx, s)
}

// WithRequestID sets only the request id, keeping the rest of the scope.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	s.RequestID = requestID
	return WithScope(ctx, s)
}

func RequestID(ctx context.Context) string {
	return ScopeFrom(ctx).RequestID
}

func TraceID(ctx context.Context) string {
	return ScopeFrom(ctx).TraceID
}

func StartedAt(ctx context.Context) time.Time {
	return ScopeFrom(ctx).Started
}

// Elapsed is the time since Begin, or zero when ctx was never stamped.
func Elapsed(ctx context.Context) time.Duration {
	started := StartedAt(ctx)
	if started.IsZero() {
		return 0
	}
	return time.Since(started)
}
