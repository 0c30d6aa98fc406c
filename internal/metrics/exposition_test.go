package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_WriteText(t *testing.T) {
	registry := NewRegistry()
	registry.IncrementCounter("webhook_outcomes_total", map[string]string{"status": "processing"}, "Webhook outcomes")
	registry.IncrementCounter("webhook_outcomes_total", map[string]string{"status": "duplicate"}, "Webhook outcomes")
	registry.SetGauge("circuit_breaker_state", 2, map[string]string{"breaker": "evolution"}, "")
	registry.RecordTimer("persist_duration", 4*time.Millisecond, nil, "Time to store a message")

	var out strings.Builder
	require.NoError(t, registry.Snapshot().WriteText(&out))

	assert.Equal(t, `# HELP webhook_outcomes_total Webhook outcomes
# TYPE webhook_outcomes_total counter
webhook_outcomes_total{status="duplicate"} 1
webhook_outcomes_total{status="processing"} 1
# TYPE circuit_breaker_state gauge
circuit_breaker_state{breaker="evolution"} 2
# HELP persist_duration_ms Time to store a message
# TYPE persist_duration_ms summary
persist_duration_ms{quantile="0.95"} 0
persist_duration_ms{quantile="0.99"} 0
persist_duration_ms_sum 4
persist_duration_ms_count 1
`, out.String())
}

func TestEscapeLabel(t *testing.T) {
	assert.Equal(t, `a\"b\\c\nd`, escapeLabel("a\"b\\c\nd"))
}
