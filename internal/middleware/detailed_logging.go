package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"whatslog/internal/httputil"
	"whatslog/internal/privacy"
	"whatslog/internal/service"
	"whatslog/internal/tracing"

	"github.com/sirupsen/logrus"
)

const maskedValue = "***MASKED***"

// DetailedLoggingConfig controls what gets logged
type DetailedLoggingConfig struct {
	LogRequestHeaders  bool     `json:"log_request_headers"`
	LogResponseHeaders bool     `json:"log_response_headers"`
	LogRequestBody     bool     `json:"log_request_body"`
	LogResponseBody    bool     `json:"log_response_body"`
	MaxBodySize        int      `json:"max_body_size"`
	SensitiveHeaders   []string `json:"sensitive_headers"`
	SensitiveParams    []string `json:"sensitive_params"`
	SkipEndpoints      []string `json:"skip_endpoints"`
}

// DefaultDetailedLoggingConfig logs request headers only. Bodies carry
// message text and stay off unless asked for.
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		MaxBodySize:       1024,
		SensitiveHeaders: []string{
			"authorization", "apikey", "x-api-key", "x-webhook-token",
			"cookie", "set-cookie",
		},
		SensitiveParams: []string{"apikey", "token"},
		SkipEndpoints:   []string{"/metrics", "/health", "/api/instance/stream"},
	}
}

// DetailedLoggingMiddleware logs request and response details at debug level.
// Install it inside ObservabilityMiddleware so the request id is available.
func DetailedLoggingMiddleware(logger *logrus.Logger, clientIP *httputil.ClientIPResolver, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) {
				next.ServeHTTP(w, r)
				return
			}
			for _, skip := range config.SkipEndpoints {
				if r.URL.Path == skip {
					next.ServeHTTP(w, r)
					return
				}
			}

			scope := tracing.ScopeFrom(r.Context())
			logRequestDetails(logger, r, clientIP, scope, config)

			if !config.LogResponseBody && !config.LogResponseHeaders {
				next.ServeHTTP(w, r)
				return
			}

			capture := &responseCaptureWrapper{
				responseWrapper: newResponseWrapper(w),
				body:            bytes.NewBuffer(nil),
			}
			next.ServeHTTP(capture, r)
			logResponseDetails(logger, capture, scope, config)
		})
	}
}

func logRequestDetails(logger *logrus.Logger, r *http.Request, clientIP *httputil.ClientIPResolver, scope tracing.Scope, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID: scope.RequestID,
		service.LogFieldTraceID:   scope.TraceID,
		service.LogFieldMethod:    r.Method,
		service.LogFieldEndpoint:  maskQuery(r.URL, config.SensitiveParams),
		service.LogFieldRemoteIP:  clientIP.ClientIP(r),
		"content_length":          r.ContentLength,
		"protocol":                r.Proto,
	}

	if config.LogRequestHeaders {
		fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)
	}

	if config.LogRequestBody && isJSON(r.Header.Get("Content-Type")) &&
		r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
		body, err := io.ReadAll(r.Body)
		if err == nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			fields["request_body"] = maskJSONBody(body)
		}
	}

	logger.WithFields(fields).Debug("Detailed request logging")
}

func logResponseDetails(logger *logrus.Logger, capture *responseCaptureWrapper, scope tracing.Scope, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID:  scope.RequestID,
		service.LogFieldTraceID:    scope.TraceID,
		service.LogFieldStatusCode: capture.statusCode,
		service.LogFieldSize:       capture.responseSize,
	}

	if config.LogResponseHeaders {
		fields["response_headers"] = maskHeaders(capture.Header(), config.SensitiveHeaders)
	}

	if config.LogResponseBody && capture.body.Len() > 0 {
		if capture.body.Len() <= config.MaxBodySize {
			fields["response_body"] = maskJSONBody(capture.body.Bytes())
		} else {
			fields["response_body"] = fmt.Sprintf("***TRUNCATED*** (size: %d bytes)", capture.body.Len())
		}
	}

	logger.WithFields(fields).Debug("Detailed response logging")
}

// responseCaptureWrapper tees the response body into a buffer.
type responseCaptureWrapper struct {
	*responseWrapper
	body *bytes.Buffer
}

func (rc *responseCaptureWrapper) Write(data []byte) (int, error) {
	n, err := rc.responseWrapper.Write(data)
	rc.body.Write(data[:n])
	return n, err
}

func maskHeaders(header http.Header, sensitive []string) map[string]string {
	headers := make(map[string]string, len(header))
	for name, values := range header {
		if isSensitive(name, sensitive) {
			headers[name] = maskedValue
		} else {
			headers[name] = strings.Join(values, ", ")
		}
	}
	return headers
}

func maskQuery(u *url.URL, sensitive []string) string {
	if u.RawQuery == "" {
		return u.Path
	}
	query := u.Query()
	for name := range query {
		if isSensitive(name, sensitive) {
			query.Set(name, maskedValue)
		}
	}
	return u.Path + "?" + query.Encode()
}

// maskJSONBody masks the top-level fields of a JSON object. Anything else is
// reported by size only.
func maskJSONBody(body []byte) interface{} {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Sprintf("[non-object body, %d bytes]", len(body))
	}
	for k, v := range fields {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			fields[k] = "[nested]"
		}
	}
	return privacy.MaskSensitiveFields(fields)
}

func isSensitive(name string, sensitive []string) bool {
	for _, s := range sensitive {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/json")
}
