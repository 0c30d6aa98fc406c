package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// GatewayError is returned for every failed gateway call. StatusCode is 0 when
// the request never produced a response (timeouts, refused connections).
type GatewayError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("evolution %s: %v", e.Operation, e.Err)
		}
		return fmt.Sprintf("evolution %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("evolution %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the gateway answered 404.
func (e *GatewayError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Retryable reports whether repeating the call may succeed: transport
// failures, timeouts, throttling and 5xx answers.
func (e *GatewayError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return e.Err != nil && !errors.Is(e.Err, context.Canceled)
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= http.StatusInternalServerError
	}
}

// IsRetryable reports whether err is a retryable *GatewayError.
func IsRetryable(err error) bool {
	gwErr, ok := AsGatewayError(err)
	return ok && gwErr.Retryable()
}

// BreakerFailure reports whether err signals an unhealthy gateway. Client
// errors such as 4xx answers leave the breaker alone.
func BreakerFailure(err error) bool {
	return IsRetryable(err)
}

// AsGatewayError extracts a *GatewayError from err.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// errorMessage pulls a human readable message out of an error response body.
// The gateway nests messages as a string or a list of strings.
func errorMessage(status int, body []byte) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Response != nil {
			if msg := flattenMessage(parsed.Response.Message); msg != "" {
				return msg
			}
		}
		if msg := flattenMessage(parsed.Message); msg != "" {
			return msg
		}
		if msg, ok := parsed.Error.(string); ok && msg != "" {
			return msg
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(status)
	}
	if len(text) > maxErrorBodyLen {
		text = text[:maxErrorBodyLen]
	}
	return text
}

func flattenMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var list []interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, "; ")
	}
	return ""
}
