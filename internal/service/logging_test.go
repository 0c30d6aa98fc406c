package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestIsVerboseLogging(t *testing.T) {
	tests := []struct {
		name     string
		verbose  bool
		expected bool
	}{
		{
			name:     "verbose enabled",
			verbose:  true,
			expected: true,
		},
		{
			name:     "verbose disabled",
			verbose:  false,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithVerbose(context.Background(), tt.verbose)
			assert.Equal(t, tt.expected, IsVerboseLogging(ctx))
		})
	}

	t.Run("no verbose in context", func(t *testing.T) {
		assert.False(t, IsVerboseLogging(context.Background()))
	})
}

func TestMessageFields_MasksUnlessVerbose(t *testing.T) {
	msg := testMessage("3EB0ABCDEF123456", "acc-1234567890")

	masked := messageFields(context.Background(), msg)
	assert.NotEqual(t, msg.ExternalID, masked[LogFieldMessageID])
	assert.NotEqual(t, msg.SenderNumber, masked[LogFieldSender])
	assert.NotEqual(t, msg.OwnerID, masked[LogFieldAccountID])
	assert.Equal(t, "shop-main", masked[LogFieldInstance])

	verbose := messageFields(WithVerbose(context.Background(), true), msg)
	assert.Equal(t, msg.ExternalID, verbose[LogFieldMessageID])
	assert.Equal(t, msg.SenderNumber, verbose[LogFieldSender])
}

func TestReplayFields(t *testing.T) {
	created := time.UnixMilli(1700000000000)
	msg := testMessage("MSG-1", "acc-1")
	msg.CreatedAt = &created

	fields := replayFields(context.Background(), msg)
	assert.Equal(t, "MSG-1", fields[LogFieldExternalID])
	assert.Equal(t, "acc-1", fields[LogFieldAccountID])
	assert.Equal(t, msg.SenderNumber, fields[LogFieldSender])
	assert.Equal(t, int64(1700000000000), fields["created_at_ms"])
	assert.Equal(t, "Alice", fields["sender_name"])
	assert.Equal(t, 5, fields["content_length"])
	assert.NotContains(t, fields, "content")

	verbose := replayFields(WithVerbose(context.Background(), true), msg)
	assert.Equal(t, "hello", verbose["content"])
}

func TestLogWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	LogWithContext(context.Background(), logger, "req-123").Info("test message")

	output := buf.String()
	assert.Contains(t, output, `"request_id":"req-123"`)
	assert.Contains(t, output, `"verbose":false`)
}
