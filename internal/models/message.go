package models

import (
	"time"
)

type MessageType string

const (
	MessageTypeText     MessageType = "TEXT"
	MessageTypeImage    MessageType = "IMAGE"
	MessageTypeVideo    MessageType = "VIDEO"
	MessageTypeAudio    MessageType = "AUDIO"
	MessageTypeDocument MessageType = "DOCUMENT"
	MessageTypeSticker  MessageType = "STICKER"
	MessageTypeLocation MessageType = "LOCATION"
	MessageTypeContact  MessageType = "CONTACT"
)

type Direction string

const (
	DirectionIncoming Direction = "INCOMING"
	DirectionOutgoing Direction = "OUTGOING"
)

// CanonicalMessage is the gateway-independent form of a single chat message.
// ExternalID is the gateway's message id and is the deduplication key.
type CanonicalMessage struct {
	ExternalID   string      `json:"externalId"`
	Content      *string     `json:"content,omitempty"`
	SenderName   *string     `json:"senderName,omitempty"`
	SenderNumber string      `json:"senderNumber"`
	InstanceName string      `json:"instanceName"`
	Type         MessageType `json:"type"`
	Direction    Direction   `json:"direction"`
	// CreatedAt is nil when the gateway did not report a timestamp; the store
	// then records the ingestion time.
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	OwnerID   string     `json:"ownerId,omitempty"`
}

// StoredMessage is a persisted CanonicalMessage.
type StoredMessage struct {
	ID           string      `db:"id" json:"id"`
	ExternalID   string      `db:"external_id" json:"externalId"`
	Content      *string     `db:"content" json:"content,omitempty"`
	SenderName   *string     `db:"sender_name" json:"senderName,omitempty"`
	SenderNumber string      `db:"sender_number" json:"senderNumber"`
	InstanceName string      `db:"instance_name" json:"instanceName"`
	Type         MessageType `db:"message_type" json:"type"`
	Direction    Direction   `db:"direction" json:"direction"`
	OwnerID      string      `db:"owner_id" json:"ownerId"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
	ReceivedAt   time.Time   `db:"received_at" json:"receivedAt"`
}

// ContactSummary aggregates one sender's messages for a single day.
type ContactSummary struct {
	SenderNumber  string    `json:"senderNumber"`
	SenderName    *string   `json:"senderName,omitempty"`
	DisplayName   string    `json:"displayName"`
	MessageCount  int       `json:"messageCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// DaySummary is the number of messages stored for one calendar day (UTC).
type DaySummary struct {
	Date         string `json:"date"`
	MessageCount int    `json:"messageCount"`
}
