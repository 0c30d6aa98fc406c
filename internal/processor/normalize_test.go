package processor

import (
	"encoding/json"
	"testing"
	"time"

	"whatslog/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseEvent(t *testing.T, raw string) *models.EvolutionWebhook {
	t.Helper()
	var event models.EvolutionWebhook
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	return &event
}

func strPtr(s string) *string { return &s }

func TestNormalize_IncomingTextMessage(t *testing.T) {
	event := parseEvent(t, `{
		"event": "messages.upsert",
		"instance": "acct1",
		"data": {
			"key": {"id": "MSG1", "remoteJid": "5551@s.whatsapp.net", "fromMe": false},
			"message": {"conversation": "hi"},
			"pushName": "Ana",
			"messageTimestamp": 1700000000
		}
	}`)

	msg := Normalize(event)
	require.NotNil(t, msg)

	assert.Equal(t, "MSG1", msg.ExternalID)
	require.NotNil(t, msg.Content)
	assert.Equal(t, "hi", *msg.Content)
	require.NotNil(t, msg.SenderName)
	assert.Equal(t, "Ana", *msg.SenderName)
	assert.Equal(t, "5551@s.whatsapp.net", msg.SenderNumber)
	assert.Equal(t, "acct1", msg.InstanceName)
	assert.Equal(t, models.DirectionIncoming, msg.Direction)
	assert.Equal(t, models.MessageTypeText, msg.Type)
	require.NotNil(t, msg.CreatedAt)
	assert.Equal(t, int64(1700000000000), msg.CreatedAt.UnixMilli())
}

func TestNormalize_ReturnsNil(t *testing.T) {
	tests := []struct {
		name  string
		event *models.EvolutionWebhook
	}{
		{"nil event", nil},
		{"other event kind", &models.EvolutionWebhook{
			Event: "messages.update",
			Data:  models.WebhookData{Key: &models.WebhookKey{ID: "X"}},
		}},
		{"case mismatch", &models.EvolutionWebhook{
			Event: "Messages.Upsert",
			Data:  models.WebhookData{Key: &models.WebhookKey{ID: "X"}},
		}},
		{"missing key", &models.EvolutionWebhook{Event: models.EventMessagesUpsert}},
		{"empty id", &models.EvolutionWebhook{
			Event: models.EventMessagesUpsertUpper,
			Data:  models.WebhookData{Key: &models.WebhookKey{RemoteJid: "1@s.whatsapp.net"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, Normalize(tt.event))
		})
	}
}

func TestNormalize_Defaults(t *testing.T) {
	event := &models.EvolutionWebhook{
		Event: models.EventMessagesUpsertUpper,
		Data:  models.WebhookData{Key: &models.WebhookKey{ID: "ABC"}},
	}

	msg := Normalize(event)
	require.NotNil(t, msg)
	assert.Equal(t, "default", msg.InstanceName)
	assert.Equal(t, "unknown", msg.SenderNumber)
	assert.Equal(t, models.MessageTypeText, msg.Type)
	assert.Nil(t, msg.Content)
	assert.Nil(t, msg.SenderName)
	assert.Nil(t, msg.CreatedAt)
}

func TestNormalize_OutgoingHasNoSenderName(t *testing.T) {
	for _, pushName := range []string{"", "Me", "Someone Else"} {
		event := &models.EvolutionWebhook{
			Event: models.EventMessagesUpsert,
			Data: models.WebhookData{
				Key:      &models.WebhookKey{ID: "OUT1", RemoteJid: "5552@s.whatsapp.net", FromMe: true},
				Message:  &models.WebhookMessage{Conversation: strPtr("sent")},
				PushName: pushName,
			},
		}
		msg := Normalize(event)
		require.NotNil(t, msg)
		assert.Equal(t, models.DirectionOutgoing, msg.Direction)
		assert.Nil(t, msg.SenderName, "pushName %q", pushName)
	}
}

func TestNormalizeTimestamp_Boundary(t *testing.T) {
	assert.Equal(t, int64(9999999999000), NormalizeTimestamp(9999999999))
	assert.Equal(t, int64(10000000000), NormalizeTimestamp(10000000000))
	assert.Equal(t, int64(1700000000000), NormalizeTimestamp(1700000000))
	assert.Equal(t, int64(1700000000123), NormalizeTimestamp(1700000000123))
	assert.Equal(t, int64(1000), NormalizeTimestamp(1))
}

func TestNormalize_TimestampShapes(t *testing.T) {
	tests := []struct {
		name     string
		ts       string
		expected int64
	}{
		{"seconds number", `1700000000`, 1700000000000},
		{"milliseconds number", `1700000000123`, 1700000000123},
		{"seconds string", `"1700000000"`, 1700000000000},
		{"long object", `{"low": 1700000000, "high": 0, "unsigned": true}`, 1700000000000},
		{"fractional seconds", `1700000000.75`, 1700000000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := parseEvent(t, `{"event":"messages.upsert","instance":"i","data":{"key":{"id":"T1"},"messageTimestamp":`+tt.ts+`}}`)
			msg := Normalize(event)
			require.NotNil(t, msg)
			require.NotNil(t, msg.CreatedAt)
			assert.Equal(t, tt.expected, msg.CreatedAt.UnixMilli())
			assert.Equal(t, time.UTC, msg.CreatedAt.Location())
		})
	}
}

func TestClassify_Priority(t *testing.T) {
	media := &models.CaptionedMedia{Caption: "c"}
	tests := []struct {
		name     string
		message  *models.WebhookMessage
		expected models.MessageType
	}{
		{"nil message", nil, models.MessageTypeText},
		{"conversation only", &models.WebhookMessage{Conversation: strPtr("x")}, models.MessageTypeText},
		{"image and video", &models.WebhookMessage{ImageMessage: media, VideoMessage: media}, models.MessageTypeImage},
		{"video and audio", &models.WebhookMessage{VideoMessage: media, AudioMessage: &models.MediaRef{}}, models.MessageTypeVideo},
		{"audio and document", &models.WebhookMessage{AudioMessage: &models.MediaRef{}, DocumentMessage: &models.DocumentMedia{}}, models.MessageTypeAudio},
		{"document and sticker", &models.WebhookMessage{DocumentMessage: &models.DocumentMedia{}, StickerMessage: &models.MediaRef{}}, models.MessageTypeDocument},
		{"sticker and location", &models.WebhookMessage{StickerMessage: &models.MediaRef{}, LocationMessage: &models.LocationPayload{}}, models.MessageTypeSticker},
		{"location and contact", &models.WebhookMessage{LocationMessage: &models.LocationPayload{}, ContactMessage: &models.ContactPayload{}}, models.MessageTypeLocation},
		{"contact", &models.WebhookMessage{ContactMessage: &models.ContactPayload{DisplayName: "Bob"}}, models.MessageTypeContact},
		{"image with conversation", &models.WebhookMessage{Conversation: strPtr("x"), ImageMessage: media}, models.MessageTypeImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.message))
		})
	}
}

func TestExtractContent(t *testing.T) {
	tests := []struct {
		name     string
		message  *models.WebhookMessage
		expected *string
	}{
		{"nil message", nil, nil},
		{"empty message", &models.WebhookMessage{}, nil},
		{"conversation", &models.WebhookMessage{Conversation: strPtr("hello")}, strPtr("hello")},
		{"extended text", &models.WebhookMessage{
			ExtendedTextMessage: &struct {
				Text string `json:"text"`
			}{Text: "quoted"},
		}, strPtr("quoted")},
		{"conversation beats caption", &models.WebhookMessage{
			Conversation: strPtr("body"),
			ImageMessage: &models.CaptionedMedia{Caption: "cap"},
		}, strPtr("body")},
		{"image caption", &models.WebhookMessage{ImageMessage: &models.CaptionedMedia{Caption: "sunset"}}, strPtr("[IMAGE] sunset")},
		{"image without caption", &models.WebhookMessage{ImageMessage: &models.CaptionedMedia{}}, nil},
		{"video caption", &models.WebhookMessage{VideoMessage: &models.CaptionedMedia{Caption: "clip"}}, strPtr("[VIDEO] clip")},
		{"document defaults", &models.WebhookMessage{DocumentMessage: &models.DocumentMedia{}}, strPtr("[DOCUMENT] Document")},
		{"document title and caption", &models.WebhookMessage{DocumentMessage: &models.DocumentMedia{
			CaptionedMedia: models.CaptionedMedia{Caption: "please sign"},
			Title:          "contract.pdf",
		}}, strPtr("[DOCUMENT] contract.pdf: please sign")},
		{"document beats audio", &models.WebhookMessage{
			AudioMessage:    &models.MediaRef{},
			DocumentMessage: &models.DocumentMedia{Title: "a.pdf"},
		}, strPtr("[DOCUMENT] a.pdf")},
		{"audio", &models.WebhookMessage{AudioMessage: &models.MediaRef{}}, strPtr("[AUDIO]")},
		{"sticker", &models.WebhookMessage{StickerMessage: &models.MediaRef{}}, strPtr("[STICKER]")},
		{"location", &models.WebhookMessage{LocationMessage: &models.LocationPayload{
			Name: "Office", DegreesLatitude: -23.5505, DegreesLongitude: -46.6333,
		}}, strPtr("[LOCATION] Office (-23.5505, -46.6333)")},
		{"contact", &models.WebhookMessage{ContactMessage: &models.ContactPayload{DisplayName: "Bob"}}, strPtr("[CONTACT] Bob")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractContent(tt.message)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.expected, *got)
		})
	}
}

func TestSanitizePhoneNumber(t *testing.T) {
	assert.Equal(t, "5551234", SanitizePhoneNumber("5551234@s.whatsapp.net"))
	assert.Equal(t, "1203630", SanitizePhoneNumber("1203630@g.us"))
	assert.Equal(t, "5551234", SanitizePhoneNumber("+5551234"))
	assert.Equal(t, "Ana", FormatDisplayName(strPtr("Ana"), "5551@s.whatsapp.net"))
	assert.Equal(t, "5551", FormatDisplayName(nil, "5551@s.whatsapp.net"))
	assert.Equal(t, "5551", FormatDisplayName(strPtr(" "), "5551@s.whatsapp.net"))
}

func TestRecipient(t *testing.T) {
	assert.Equal(t, "5551234", Recipient("5551234@s.whatsapp.net"))
	assert.Equal(t, "5551234", Recipient(" +5551234 "))
	assert.Equal(t, "1203630@g.us", Recipient("1203630@g.us"))
	assert.True(t, IsGroupJID("1203630@g.us"))
	assert.False(t, IsGroupJID("5551@s.whatsapp.net"))
}
