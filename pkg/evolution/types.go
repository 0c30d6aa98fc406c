package evolution

import (
	"encoding/json"
	"strings"
	"time"

	"whatslog/internal/retry"
	"whatslog/pkg/circuitbreaker"
)

// Config configures a Client. BaseURL and APIKey are required. Retry applies
// to read-only calls only; a zero value means a single attempt.
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	Integration string
	Retry       retry.BackoffConfig
	// Breaker guards every call when set. Use BreakerFailure as its IsFailure.
	Breaker *circuitbreaker.Breaker
}

type createInstanceRequest struct {
	InstanceName string `json:"instanceName"`
	QRCode       bool   `json:"qrcode"`
	Integration  string `json:"integration"`
}

// QRCode is the pairing material issued for an instance.
type QRCode struct {
	Base64      string `json:"base64,omitempty"`
	Code        string `json:"code,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
	Count       int    `json:"count,omitempty"`
}

// Pairing returns the pairing code, falling back to the raw QR code string.
func (q *QRCode) Pairing() string {
	if q == nil {
		return ""
	}
	if q.PairingCode != "" {
		return q.PairingCode
	}
	return q.Code
}

// Image returns the base64 QR image, if any.
func (q *QRCode) Image() string {
	if q == nil {
		return ""
	}
	return q.Base64
}

type InstanceDetails struct {
	InstanceName string `json:"instanceName"`
	InstanceID   string `json:"instanceId,omitempty"`
	Integration  string `json:"integration,omitempty"`
	Status       string `json:"status,omitempty"`
}

type CreateInstanceResponse struct {
	Instance InstanceDetails `json:"instance"`
	Hash     json.RawMessage `json:"hash,omitempty"`
	QRCode   *QRCode         `json:"qrcode,omitempty"`
}

// ConnectionState is the gateway's view of an instance connection. State is
// one of "open", "close" or "connecting" in practice, but any value is kept.
type ConnectionState struct {
	InstanceName string
	State        string
}

// UnmarshalJSON accepts both {"instance":{"instanceName","state"}} and the
// flat {"instanceName","state"} shape returned by older gateway versions.
func (c *ConnectionState) UnmarshalJSON(data []byte) error {
	var raw struct {
		Instance *struct {
			InstanceName string `json:"instanceName"`
			State        string `json:"state"`
		} `json:"instance"`
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.InstanceName = raw.InstanceName
	c.State = raw.State
	if raw.Instance != nil {
		if raw.Instance.InstanceName != "" {
			c.InstanceName = raw.Instance.InstanceName
		}
		if raw.Instance.State != "" {
			c.State = raw.Instance.State
		}
	}
	c.State = strings.TrimSpace(c.State)
	return nil
}

// WebhookConfig is the callback registration for an instance.
type WebhookConfig struct {
	Enabled         bool              `json:"enabled"`
	URL             string            `json:"url"`
	WebhookByEvents bool              `json:"webhookByEvents"`
	WebhookBase64   bool              `json:"webhookBase64"`
	Events          []string          `json:"events"`
	Headers         map[string]string `json:"headers,omitempty"`
}

type setWebhookRequest struct {
	Webhook WebhookConfig `json:"webhook"`
}

type SendTextRequest struct {
	Number      string `json:"number"`
	Text        string `json:"text"`
	Delay       int    `json:"delay,omitempty"`
	LinkPreview bool   `json:"linkPreview,omitempty"`
}

type SendTextResponse struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	MessageTimestamp json.RawMessage `json:"messageTimestamp,omitempty"`
	Status           string          `json:"status,omitempty"`
}

// ID returns the gateway message id of the sent message.
func (r *SendTextResponse) ID() string {
	if r == nil {
		return ""
	}
	return r.Key.ID
}

// InstanceInfo is one entry of the fetchInstances listing.
type InstanceInfo struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	ConnectionStatus string `json:"connectionStatus"`
	OwnerJID         string `json:"ownerJid,omitempty"`
	ProfileName      string `json:"profileName,omitempty"`
	Integration      string `json:"integration,omitempty"`
}

type errorBody struct {
	Status   json.RawMessage `json:"status"`
	Error    interface{}     `json:"error"`
	Message  json.RawMessage `json:"message"`
	Response *struct {
		Message json.RawMessage `json:"message"`
	} `json:"response"`
}
