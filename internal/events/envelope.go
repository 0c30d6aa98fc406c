package events

import (
	"context"
	"strings"
	"time"

	"whatslog/internal/models"
	"whatslog/internal/tracing"

	"github.com/google/uuid"
)

// EventTypeMessageStored is emitted once per newly inserted message.
const EventTypeMessageStored = "message.stored.v1"

const routingKeyPrefix = "message.stored."

// Envelope wraps every published event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Producer      string    `json:"producer,omitempty"`
}

// NewMessageStoredEnvelope builds the event for msg. The request id carried
// by ctx, if any, becomes the correlation id.
func NewMessageStoredEnvelope(ctx context.Context, producer string, msg *models.StoredMessage) Envelope {
	id := uuid.NewString()
	correlationID := tracing.RequestID(ctx)
	if correlationID == "" {
		correlationID = id
	}
	return Envelope{
		Meta: Meta{
			ID:            id,
			Type:          EventTypeMessageStored,
			OccurredAt:    time.Now().UTC(),
			CorrelationID: correlationID,
			Producer:      producer,
		},
		Data: msg,
	}
}

// RoutingKey returns message.stored.<instance>. Characters that carry meaning
// in topic bindings are replaced so an instance name is always one word.
func RoutingKey(instance string) string {
	if instance == "" {
		instance = models.DefaultWebhookInstanceName
	}
	return routingKeyPrefix + strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '#', ' ':
			return '_'
		}
		return r
	}, instance)
}
