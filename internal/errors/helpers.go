package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewMalformedPayloadError is returned when a webhook body cannot be decoded
func NewMalformedPayloadError(err error) *AppError {
	return Wrap(err, ErrCodeMalformedPayload, "malformed webhook payload").
		WithUserMessage("Malformed payload")
}

// NewAPIError creates an error for a failed gateway call. Server errors,
// throttling and timeouts are retryable.
func NewAPIError(operation, endpoint string, statusCode int, err error) *AppError {
	retryable := statusCode == 0 || statusCode >= 500 || statusCode == 429 || statusCode == 408

	appErr := Wrap(err, ErrCodeGatewayAPI, fmt.Sprintf("gateway %s failed", operation)).
		WithContext("operation", operation).
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode).
		WithUserMessage("WhatsApp gateway request failed")
	appErr.Retryable = retryable

	return appErr
}

// NewConflictError reports a request that clashes with the current state of
// an account or instance. message doubles as the user message.
func NewConflictError(resource, message string) *AppError {
	return New(ErrCodeConflict, message).
		WithContext("resource", resource).
		WithUserMessage(message)
}

// NewAuthError creates an authentication error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewNotFoundError reports a missing account or instance.
func NewNotFoundError(resource, message string) *AppError {
	return New(ErrCodeNotFound, message).
		WithContext("resource", resource)
}

// NewGatewayUnavailableError is returned while calls to the gateway are
// being shed, before any request is sent.
func NewGatewayUnavailableError(operation string, err error) *AppError {
	appErr := Wrap(err, ErrCodeGatewayUnavailable, fmt.Sprintf("gateway %s skipped", operation)).
		WithContext("operation", operation).
		WithUserMessage("WhatsApp gateway is temporarily unavailable")
	appErr.Retryable = true
	return appErr
}

// NewMigrationError wraps a failed schema migration.
func NewMigrationError(version int, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseMigration, fmt.Sprintf("migration %d failed", version)).
		WithContext("version", version)
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeGatewayAPI:
		return http.StatusBadGateway
	case ErrCodeGatewayUnavailable, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed API requests
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

var sensitiveContextKeys = map[string]bool{
	"password": true,
	"token":    true,
	"secret":   true,
	"api_key":  true,
	"endpoint": true,
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if !sensitiveContextKeys[k] {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}

	return response
}
