package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"whatslog/internal/tracing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailedLoggingMiddleware_DisabledAboveDebug(t *testing.T) {
	logger, buf := bufferedLogger(logrus.InfoLevel)

	called := false
	handler := DetailedLoggingMiddleware(logger, nil, DefaultDetailedLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/webhook", nil))

	assert.True(t, called)
	assert.Empty(t, buf.String())
}

func TestDetailedLoggingMiddleware_MasksSecrets(t *testing.T) {
	logger, buf := bufferedLogger(logrus.DebugLevel)

	handler := DetailedLoggingMiddleware(logger, nil, DefaultDetailedLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/api/webhook?apikey=s3cret&instance=shop", nil)
	req.Header.Set("X-Webhook-Token", "token-value")
	req.Header.Set("apikey", "gateway-key")
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(tracing.WithRequestID(req.Context(), "req_1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.NotContains(t, out, "s3cret")
	assert.NotContains(t, out, "token-value")
	assert.NotContains(t, out, "gateway-key")
	assert.Contains(t, out, "instance=shop")

	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "req_1", lines[0]["request_id"])
	headers := lines[0]["request_headers"].(map[string]interface{})
	assert.Equal(t, maskedValue, headers["X-Webhook-Token"])
	assert.Equal(t, "application/json", headers["Content-Type"])
}

func TestDetailedLoggingMiddleware_RequestBody(t *testing.T) {
	logger, buf := bufferedLogger(logrus.DebugLevel)
	config := DefaultDetailedLoggingConfig()
	config.LogRequestBody = true

	body := `{"event":"messages.upsert","instance":"shop","text":"secret words","data":{"key":{}}}`
	var seen string
	handler := DetailedLoggingMiddleware(logger, nil, config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, body, seen, "handler must still see the full body")

	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	logged := lines[0]["request_body"].(map[string]interface{})
	assert.Equal(t, "messages.upsert", logged["event"])
	assert.Equal(t, "[hidden]", logged["text"])
	assert.Equal(t, "[nested]", logged["data"])
}

func TestDetailedLoggingMiddleware_SkipsBodies(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		maxBody     int
	}{
		{"non json", "text/plain", "hello", 1024},
		{"too large", "application/json", `{"a":"` + strings.Repeat("x", 100) + `"}`, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := bufferedLogger(logrus.DebugLevel)
			config := DefaultDetailedLoggingConfig()
			config.LogRequestBody = true
			config.MaxBodySize = tt.maxBody

			handler := DetailedLoggingMiddleware(logger, nil, config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			lines := logLines(t, buf)
			require.Len(t, lines, 1)
			assert.NotContains(t, lines[0], "request_body")
		})
	}
}

func TestDetailedLoggingMiddleware_Response(t *testing.T) {
	logger, buf := bufferedLogger(logrus.DebugLevel)
	config := DefaultDetailedLoggingConfig()
	config.LogResponseBody = true
	config.LogResponseHeaders = true

	handler := DetailedLoggingMiddleware(logger, nil, config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "session=abc")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"received":true,"status":"processing"}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhook", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, `{"received":true,"status":"processing"}`, rec.Body.String())

	lines := logLines(t, buf)
	require.Len(t, lines, 2)
	response := lines[1]
	assert.Equal(t, "Detailed response logging", response["msg"])
	assert.Equal(t, float64(http.StatusAccepted), response["status_code"])
	assert.Equal(t, "processing", response["response_body"].(map[string]interface{})["status"])
	assert.Equal(t, maskedValue, response["response_headers"].(map[string]interface{})["Set-Cookie"])
	assert.NotContains(t, buf.String(), "session=abc")
}

func TestDetailedLoggingMiddleware_SkipEndpoints(t *testing.T) {
	logger, buf := bufferedLogger(logrus.DebugLevel)

	handler := DetailedLoggingMiddleware(logger, nil, DefaultDetailedLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for _, path := range []string{"/health", "/metrics", "/api/instance/stream"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Empty(t, buf.String())
}

func TestMaskJSONBody(t *testing.T) {
	assert.Equal(t, "[non-object body, 5 bytes]", maskJSONBody([]byte("[1,2]")))

	masked := maskJSONBody([]byte(`{"number":"5511999998888","status":"ok"}`)).(map[string]interface{})
	assert.NotEqual(t, "5511999998888", masked["number"])
	assert.Equal(t, "ok", masked["status"])
}

func TestIsSensitive(t *testing.T) {
	sensitive := DefaultDetailedLoggingConfig().SensitiveHeaders
	assert.True(t, isSensitive("APIKEY", sensitive))
	assert.True(t, isSensitive("X-Webhook-Token", sensitive))
	assert.False(t, isSensitive("Content-Type", sensitive))
}
