package service

import (
	"context"

	"whatslog/internal/models"
	"whatslog/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// WithVerbose marks ctx for unmasked logging.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// maskIf returns value unchanged in verbose mode and masked otherwise.
func maskIf(ctx context.Context, value string, mask func(string) string) string {
	if IsVerboseLogging(ctx) {
		return value
	}
	return mask(value)
}

// messageFields describes a canonical message for logs, masking identifiers
// unless verbose logging is on.
func messageFields(ctx context.Context, msg *models.CanonicalMessage) logrus.Fields {
	fields := logrus.Fields{
		LogFieldInstance:    msg.InstanceName,
		LogFieldMessageID:   maskIf(ctx, msg.ExternalID, privacy.MaskMessageID),
		LogFieldSender:      maskIf(ctx, msg.SenderNumber, privacy.MaskJID),
		LogFieldMessageType: msg.Type,
		LogFieldDirection:   msg.Direction,
	}
	if msg.OwnerID != "" {
		fields[LogFieldAccountID] = maskIf(ctx, msg.OwnerID, privacy.MaskAccountID)
	}
	return fields
}

// replayFields carries everything needed to re-insert a message by hand after
// a persistence failure. Content is included only in verbose mode.
func replayFields(ctx context.Context, msg *models.CanonicalMessage) logrus.Fields {
	fields := logrus.Fields{
		LogFieldInstance:    msg.InstanceName,
		LogFieldExternalID:  msg.ExternalID,
		LogFieldAccountID:   msg.OwnerID,
		LogFieldSender:      msg.SenderNumber,
		LogFieldMessageType: msg.Type,
		LogFieldDirection:   msg.Direction,
	}
	if msg.CreatedAt != nil {
		fields["created_at_ms"] = msg.CreatedAt.UnixMilli()
	}
	if msg.SenderName != nil {
		fields["sender_name"] = *msg.SenderName
	}
	if msg.Content != nil {
		if IsVerboseLogging(ctx) {
			fields["content"] = *msg.Content
		} else {
			fields["content_length"] = len(*msg.Content)
		}
	}
	return fields
}

// LogWithContext creates a logger entry with the request id when present
func LogWithContext(ctx context.Context, logger logrus.FieldLogger, requestID string) *logrus.Entry {
	entry := logger.WithField("verbose", IsVerboseLogging(ctx))
	if requestID != "" {
		entry = entry.WithField(LogFieldRequestID, requestID)
	}
	return entry
}
