// Package processor turns gateway webhook events into canonical messages.
// Everything here is pure: no I/O and no logging.
package processor

import (
	"strconv"
	"strings"
	"time"

	"whatslog/internal/constants"
	"whatslog/internal/models"
)

const unknownSender = "unknown"

// Normalize converts a webhook event into a CanonicalMessage. It returns nil
// when the event is not a message upsert or carries no message id.
func Normalize(event *models.EvolutionWebhook) *models.CanonicalMessage {
	if event == nil || !models.IsMessagesUpsertEvent(event.Event) {
		return nil
	}

	data := event.Data
	if data.Key == nil || data.Key.ID == "" {
		return nil
	}

	msg := &models.CanonicalMessage{
		ExternalID:   data.Key.ID,
		Content:      ExtractContent(data.Message),
		SenderName:   senderName(data),
		SenderNumber: senderNumber(data),
		InstanceName: InstanceName(event.Instance),
		Type:         Classify(data.Message),
		Direction:    direction(data),
	}

	if ts := data.MessageTimestamp.Int64(); ts != 0 {
		t := time.UnixMilli(NormalizeTimestamp(ts)).UTC()
		msg.CreatedAt = &t
	}

	return msg
}

// Classify returns the message type using the fixed priority order image,
// video, audio, document, sticker, location, contact. Anything else,
// including a missing message, is text.
func Classify(m *models.WebhookMessage) models.MessageType {
	kinds := m.Kinds()
	if len(kinds) == 0 {
		return models.MessageTypeText
	}
	return kinds[0].Type()
}

// ExtractContent renders the message body. Text bodies win over media; media
// are rendered in the order image, video, document, audio, sticker,
// location, contact. Image and video only contribute when captioned.
func ExtractContent(m *models.WebhookMessage) *string {
	if m == nil {
		return nil
	}
	if text, ok := m.TextBody(); ok {
		return &text
	}

	kinds := m.Kinds()
	for _, want := range contentOrder {
		for _, k := range kinds {
			if k.Type() != want {
				continue
			}
			if rendered, ok := render(k); ok {
				return &rendered
			}
		}
	}
	return nil
}

var contentOrder = []models.MessageType{
	models.MessageTypeImage,
	models.MessageTypeVideo,
	models.MessageTypeDocument,
	models.MessageTypeAudio,
	models.MessageTypeSticker,
	models.MessageTypeLocation,
	models.MessageTypeContact,
}

func render(k models.MessageKind) (string, bool) {
	switch v := k.(type) {
	case models.ImageKind:
		if v.Caption == "" {
			return "", false
		}
		return "[IMAGE] " + v.Caption, true
	case models.VideoKind:
		if v.Caption == "" {
			return "", false
		}
		return "[VIDEO] " + v.Caption, true
	case models.DocumentKind:
		title := v.Title
		if title == "" {
			title = "Document"
		}
		out := "[DOCUMENT] " + title
		if v.Caption != "" {
			out += ": " + v.Caption
		}
		return out, true
	case models.AudioKind:
		return "[AUDIO]", true
	case models.StickerKind:
		return "[STICKER]", true
	case models.LocationKind:
		coords := "(" + formatCoordinate(v.Latitude) + ", " + formatCoordinate(v.Longitude) + ")"
		if v.Name == "" {
			return "[LOCATION] " + coords, true
		}
		return "[LOCATION] " + v.Name + " " + coords, true
	case models.ContactKind:
		return strings.TrimSpace("[CONTACT] " + v.DisplayName), true
	}
	return "", false
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NormalizeTimestamp converts a gateway timestamp to Unix milliseconds.
// Values below 10,000,000,000 are seconds.
func NormalizeTimestamp(ts int64) int64 {
	if ts < constants.SecondsTimestampUpperBound {
		return ts * 1000
	}
	return ts
}

// InstanceName defaults an empty instance to "default".
func InstanceName(instance string) string {
	if instance == "" {
		return models.DefaultWebhookInstanceName
	}
	return instance
}

func direction(data models.WebhookData) models.Direction {
	if data.Key != nil && data.Key.FromMe {
		return models.DirectionOutgoing
	}
	return models.DirectionIncoming
}

// Outgoing messages have no sender name; clients render them as "me".
func senderName(data models.WebhookData) *string {
	if data.Key != nil && data.Key.FromMe {
		return nil
	}
	if data.PushName == "" {
		return nil
	}
	name := data.PushName
	return &name
}

func senderNumber(data models.WebhookData) string {
	if data.Key == nil || data.Key.RemoteJid == "" {
		return unknownSender
	}
	return data.Key.RemoteJid
}
