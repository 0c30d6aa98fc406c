package service

// Logging Standards for whatslog
//
// This file defines standard field names and patterns to keep logging
// consistent across the application.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldInstance   = "instance"
	LogFieldMessageID  = "message_id"
	LogFieldAccountID  = "account_id"
	LogFieldSender     = "sender"
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldExternalID = "external_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// Message and event fields
	LogFieldEvent       = "event"
	LogFieldMessageType = "message_type"
	LogFieldDirection   = "direction" // "INCOMING" or "OUTGOING"
	LogFieldStatus      = "status"
	LogFieldInserted    = "inserted"

	// Instance lifecycle
	LogFieldInstanceStatus = "instance_status"
	LogFieldGatewayState   = "gateway_state"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"

	// Network and external services
	LogFieldEndpoint   = "endpoint"
	LogFieldMethod     = "method"
	LogFieldRoute      = "route"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldSize       = "size_bytes"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: duplicate deliveries, ignored events, raced inserts (inserted=false).
// INFO: startup/shutdown, instance created/disconnected, status transitions.
// WARN: best-effort gateway calls that failed (setWebhook, logout, delete),
//   status downgraded to UNKNOWN, queue saturation fallback.
// ERROR: persistence failures (with replay fields), store unavailability.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
