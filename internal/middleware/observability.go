package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"whatslog/internal/httputil"
	"whatslog/internal/metrics"
	"whatslog/internal/privacy"
	"whatslog/internal/service"
	"whatslog/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const unmatchedRoute = "unmatched"

// ObservabilityMiddleware tags each request with a request id (the caller's
// X-Request-ID when it is well formed), opens a server span and records
// request metrics labelled by route template.
func ObservabilityMiddleware(logger *logrus.Logger, clientIP *httputil.ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeTemplate(r)

			ctx, span := tracing.StartServerSpan(r, r.Method+" "+route)
			defer span.End()

			requestID := tracing.AcceptRequestID(r.Header.Get(tracing.RequestIDHeader))
			ctx = tracing.Begin(ctx, requestID)
			r = r.WithContext(ctx)
			w.Header().Set(tracing.RequestIDHeader, requestID)

			remoteIP := clientIP.ClientIP(r)
			tracing.AddSpanAttributes(ctx,
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
				attribute.String("client.address", remoteIP),
				attribute.String("request.id", requestID),
			)

			wrapper := newResponseWrapper(w)

			metrics.AddToGauge("http_requests_active", 1, nil, "Currently active HTTP requests")
			defer metrics.AddToGauge("http_requests_active", -1, nil, "Currently active HTTP requests")

			next.ServeHTTP(wrapper, r)

			duration := tracing.Elapsed(ctx)
			status := strconv.Itoa(wrapper.statusCode)
			tracing.SetHTTPStatus(ctx, wrapper.statusCode)
			tracing.AddSpanAttributes(ctx, attribute.Int64("http.response.body.size", wrapper.responseSize))

			labels := map[string]string{
				"method":      r.Method,
				"route":       route,
				"status_code": status,
			}
			metrics.IncrementCounter("http_requests_total", labels, "HTTP requests by route and status")
			metrics.RecordTimer("http_request_duration", duration, labels, "HTTP request duration")

			logLevel := logrus.DebugLevel
			switch {
			case wrapper.statusCode >= http.StatusInternalServerError:
				logLevel = logrus.ErrorLevel
			case wrapper.statusCode >= http.StatusBadRequest:
				logLevel = logrus.WarnLevel
			case route != unmatchedRoute && r.Method != http.MethodGet:
				logLevel = logrus.InfoLevel
			}

			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  requestID,
				service.LogFieldTraceID:    tracing.TraceID(ctx),
				service.LogFieldMethod:     r.Method,
				service.LogFieldRoute:      route,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   remoteIP,
				service.LogFieldSize:       wrapper.responseSize,
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

// WebhookObservabilityMiddleware records gateway callback metrics. It expects
// ObservabilityMiddleware to have run first.
func WebhookObservabilityMiddleware(logger *logrus.Logger, source string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			wrapper := newResponseWrapper(w)

			tracing.AddSpanAttributes(r.Context(),
				attribute.String("webhook.source", source),
				attribute.Int64("http.request.body.size", r.ContentLength),
			)

			next.ServeHTTP(wrapper, r)

			processingTime := time.Since(startTime)
			metrics.RecordTimer("webhook_processing_duration", processingTime, map[string]string{
				"source": source,
			}, "Webhook processing duration")

			if wrapper.statusCode < http.StatusBadRequest {
				return
			}

			metrics.IncrementCounter("webhook_errors_total", map[string]string{
				"source":      source,
				"status_code": strconv.Itoa(wrapper.statusCode),
			}, "Webhook deliveries answered with an error")

			fields := logrus.Fields{}
			for k, v := range privacy.MaskSensitiveFields(map[string]interface{}{
				service.LogFieldRequestID:  tracing.RequestID(r.Context()),
				service.LogFieldComponent:  source,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   processingTime.Milliseconds(),
				"content_length":           r.ContentLength,
			}) {
				fields[k] = v
			}
			logger.WithFields(fields).Warn("Webhook delivery rejected")
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return unmatchedRoute
}

// responseWrapper captures the status code and body size. It keeps the
// optional interfaces of the wrapped writer reachable so that streaming and
// websocket upgrades still work behind it.
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func newResponseWrapper(w http.ResponseWriter) *responseWrapper {
	return &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.wroteHeader = true
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
