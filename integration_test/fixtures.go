package integration_test

import (
	"encoding/json"
	"time"
)

// Day used by every fixture message: 2024-03-10 (UTC).
var fixtureDay = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

// fixtureTimestamp returns the Unix seconds of fixtureDay at hour:minute.
func fixtureTimestamp(hour, minute int) int64 {
	return fixtureDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute).Unix()
}

// WebhookBuilder assembles Evolution callback bodies.
type WebhookBuilder struct {
	event    string
	instance string
	key      map[string]interface{}
	data     map[string]interface{}
	message  map[string]interface{}
}

func NewMessageWebhook(instance, id, remoteJid string) *WebhookBuilder {
	return &WebhookBuilder{
		event:    "messages.upsert",
		instance: instance,
		key:      map[string]interface{}{"remoteJid": remoteJid, "fromMe": false, "id": id},
		data:     map[string]interface{}{},
		message:  map[string]interface{}{},
	}
}

func (b *WebhookBuilder) Event(event string) *WebhookBuilder {
	b.event = event
	return b
}

func (b *WebhookBuilder) FromMe() *WebhookBuilder {
	b.key["fromMe"] = true
	return b
}

func (b *WebhookBuilder) PushName(name string) *WebhookBuilder {
	b.data["pushName"] = name
	return b
}

func (b *WebhookBuilder) Timestamp(ts interface{}) *WebhookBuilder {
	b.data["messageTimestamp"] = ts
	return b
}

func (b *WebhookBuilder) Text(text string) *WebhookBuilder {
	b.message["conversation"] = text
	return b
}

func (b *WebhookBuilder) Image(caption string) *WebhookBuilder {
	b.message["imageMessage"] = map[string]interface{}{
		"url":      "https://mmg.whatsapp.net/o1/v/t62.7118-24/f1/m231",
		"mimetype": "image/jpeg",
		"caption":  caption,
	}
	return b
}

func (b *WebhookBuilder) Location(name string, lat, lng float64) *WebhookBuilder {
	b.message["locationMessage"] = map[string]interface{}{
		"name":             name,
		"degreesLatitude":  lat,
		"degreesLongitude": lng,
	}
	return b
}

func (b *WebhookBuilder) Build() []byte {
	data := map[string]interface{}{"key": b.key}
	for k, v := range b.data {
		data[k] = v
	}
	if len(b.message) > 0 {
		data["message"] = b.message
	}

	body, err := json.Marshal(map[string]interface{}{
		"event":       b.event,
		"instance":    b.instance,
		"data":        data,
		"server_url":  "https://evolution.example.com",
		"date_time":   "2024-03-10T09:00:00.000Z",
		"sender":      "5511900000000@s.whatsapp.net",
		"apikey":      "instance-api-key",
		"destination": testWebhookURL,
	})
	if err != nil {
		panic(err)
	}
	return body
}
