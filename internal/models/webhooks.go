package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Evolution webhook event kinds
const (
	EventMessagesUpsert        = "messages.upsert"
	EventMessagesUpsertUpper   = "MESSAGES_UPSERT"
	EventConnectionUpdate      = "connection.update"
	EventQRCodeUpdated         = "qrcode.updated"
	DefaultWebhookInstanceName = "default"
)

// IsMessagesUpsertEvent reports whether event is one of the two spellings the
// gateway uses for new or updated messages. The match is case-sensitive.
func IsMessagesUpsertEvent(event string) bool {
	return event == EventMessagesUpsert || event == EventMessagesUpsertUpper
}

// IsMessageEvent reports whether event concerns messages at all, in either
// spelling the gateway uses.
func IsMessageEvent(event string) bool {
	return strings.Contains(strings.ToLower(event), "message")
}

// WebhookEnvelope is the outer shape of every callback. Data stays raw: it is
// an object for message events and an array for events such as
// contacts.upsert, chats.upsert and presence.update.
type WebhookEnvelope struct {
	Event     string          `json:"event"`
	Instance  string          `json:"instance"`
	Data      json.RawMessage `json:"data"`
	ServerURL string          `json:"server_url,omitempty"`
	APIKey    string          `json:"apikey,omitempty"`
}

// MessageEvent decodes Data as a single message payload. A missing or null
// data field yields an empty payload.
func (e *WebhookEnvelope) MessageEvent() (*EvolutionWebhook, error) {
	event := &EvolutionWebhook{
		Event:     e.Event,
		Instance:  e.Instance,
		ServerURL: e.ServerURL,
		APIKey:    e.APIKey,
	}
	if len(e.Data) == 0 {
		return event, nil
	}
	if err := json.Unmarshal(e.Data, &event.Data); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", e.Event, err)
	}
	return event, nil
}

// EvolutionWebhook is a message callback with its data decoded.
type EvolutionWebhook struct {
	Event     string      `json:"event"`
	Instance  string      `json:"instance"`
	Data      WebhookData `json:"data"`
	ServerURL string      `json:"server_url,omitempty"`
	APIKey    string      `json:"apikey,omitempty"`
}

type WebhookKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

type WebhookData struct {
	Key              *WebhookKey       `json:"key,omitempty"`
	Message          *WebhookMessage   `json:"message,omitempty"`
	PushName         string            `json:"pushName,omitempty"`
	MessageType      string            `json:"messageType,omitempty"`
	MessageTimestamp FlexibleTimestamp `json:"messageTimestamp,omitempty"`
}

// WebhookMessage is the wire shape of the message sub-object. The gateway
// normally populates a single field; Kinds turns it into tagged variants.
type WebhookMessage struct {
	Conversation        *string `json:"conversation,omitempty"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage,omitempty"`
	ImageMessage    *CaptionedMedia  `json:"imageMessage,omitempty"`
	VideoMessage    *CaptionedMedia  `json:"videoMessage,omitempty"`
	AudioMessage    *MediaRef        `json:"audioMessage,omitempty"`
	DocumentMessage *DocumentMedia   `json:"documentMessage,omitempty"`
	StickerMessage  *MediaRef        `json:"stickerMessage,omitempty"`
	LocationMessage *LocationPayload `json:"locationMessage,omitempty"`
	ContactMessage  *ContactPayload  `json:"contactMessage,omitempty"`
}

type MediaRef struct {
	URL      string `json:"url,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

type CaptionedMedia struct {
	MediaRef
	Caption string `json:"caption,omitempty"`
}

type DocumentMedia struct {
	CaptionedMedia
	Title    string `json:"title,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

type LocationPayload struct {
	Name             string  `json:"name,omitempty"`
	DegreesLatitude  float64 `json:"degreesLatitude"`
	DegreesLongitude float64 `json:"degreesLongitude"`
}

type ContactPayload struct {
	DisplayName string `json:"displayName,omitempty"`
	Vcard       string `json:"vcard,omitempty"`
}

// MessageKind is one variant of the message sum type.
type MessageKind interface {
	Type() MessageType
}

type ImageKind struct{ Caption string }
type VideoKind struct{ Caption string }
type AudioKind struct{}
type DocumentKind struct{ Title, Caption string }
type StickerKind struct{}
type LocationKind struct {
	Name      string
	Latitude  float64
	Longitude float64
}
type ContactKind struct{ DisplayName string }

func (ImageKind) Type() MessageType    { return MessageTypeImage }
func (VideoKind) Type() MessageType    { return MessageTypeVideo }
func (AudioKind) Type() MessageType    { return MessageTypeAudio }
func (DocumentKind) Type() MessageType { return MessageTypeDocument }
func (StickerKind) Type() MessageType  { return MessageTypeSticker }
func (LocationKind) Type() MessageType { return MessageTypeLocation }
func (ContactKind) Type() MessageType  { return MessageTypeContact }

// Kinds returns the non-text variants present in the message, in
// classification priority order: image, video, audio, document, sticker,
// location, contact.
func (m *WebhookMessage) Kinds() []MessageKind {
	if m == nil {
		return nil
	}
	var kinds []MessageKind
	if m.ImageMessage != nil {
		kinds = append(kinds, ImageKind{Caption: m.ImageMessage.Caption})
	}
	if m.VideoMessage != nil {
		kinds = append(kinds, VideoKind{Caption: m.VideoMessage.Caption})
	}
	if m.AudioMessage != nil {
		kinds = append(kinds, AudioKind{})
	}
	if m.DocumentMessage != nil {
		kinds = append(kinds, DocumentKind{Title: m.DocumentMessage.Title, Caption: m.DocumentMessage.Caption})
	}
	if m.StickerMessage != nil {
		kinds = append(kinds, StickerKind{})
	}
	if m.LocationMessage != nil {
		kinds = append(kinds, LocationKind{
			Name:      m.LocationMessage.Name,
			Latitude:  m.LocationMessage.DegreesLatitude,
			Longitude: m.LocationMessage.DegreesLongitude,
		})
	}
	if m.ContactMessage != nil {
		kinds = append(kinds, ContactKind{DisplayName: m.ContactMessage.DisplayName})
	}
	return kinds
}

// TextBody returns the plain conversation text, falling back to the extended
// text message. Empty strings count as absent.
func (m *WebhookMessage) TextBody() (string, bool) {
	if m == nil {
		return "", false
	}
	if m.Conversation != nil && *m.Conversation != "" {
		return *m.Conversation, true
	}
	if m.ExtendedTextMessage != nil && m.ExtendedTextMessage.Text != "" {
		return m.ExtendedTextMessage.Text, true
	}
	return "", false
}

// FlexibleTimestamp accepts the shapes the gateway uses for messageTimestamp:
// a JSON number, a decimal string, or a protobuf Long object {low, high}.
type FlexibleTimestamp int64

func (t *FlexibleTimestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = 0
		return nil
	}

	switch data[0] {
	case '{':
		var long struct {
			Low  int64 `json:"low"`
			High int64 `json:"high"`
		}
		if err := json.Unmarshal(data, &long); err != nil {
			return fmt.Errorf("invalid timestamp object: %w", err)
		}
		*t = FlexibleTimestamp(long.High<<32 | (long.Low & 0xffffffff))
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		// Decimal only. A string that is not a number counts as absent so
		// the message is still stored with its ingestion time.
		whole, _, _ := strings.Cut(s, ".")
		v, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			v = 0
		}
		*t = FlexibleTimestamp(v)
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		*t = FlexibleTimestamp(cast.ToInt64(f))
		return nil
	}
}

func (t FlexibleTimestamp) Int64() int64 {
	return int64(t)
}
