package service

import (
	"context"
	"time"

	"whatslog/internal/models"
)

// MessageStore persists canonical messages. InsertMessageIfAbsent must be
// idempotent on ExternalID: a second insert reports inserted=false.
type MessageStore interface {
	MessageExists(ctx context.Context, externalID string) (bool, error)
	InsertMessageIfAbsent(ctx context.Context, msg *models.CanonicalMessage) (*models.StoredMessage, bool, error)
	CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error)
}

// MessageReader serves the read-side queries of the log viewer.
type MessageReader interface {
	ListContacts(ctx context.Context, ownerID string, day time.Time) ([]models.ContactSummary, error)
	ListMessageDates(ctx context.Context, ownerID string) ([]models.DaySummary, error)
	ListConversation(ctx context.Context, ownerID, senderNumber string, day time.Time, limit int) ([]*models.StoredMessage, error)
}

// AccountStore owns accounts and the instance state bound to each of them.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	FindAccountByInstance(ctx context.Context, instanceName string) (*models.Account, error)
	ListAccountsPendingInstance(ctx context.Context) ([]*models.Account, error)
	SetInstanceState(ctx context.Context, accountID string, state models.InstanceState) error
	UpdateInstanceStatus(ctx context.Context, accountID string, status models.InstanceStatus) error
	ClearInstanceState(ctx context.Context, accountID string) error
}

// MessagePublisher announces newly stored messages to downstream consumers.
type MessagePublisher interface {
	PublishMessageStored(ctx context.Context, msg *models.StoredMessage) error
}

// StatusPublisher receives every instance state written by the reconciler.
type StatusPublisher interface {
	Publish(accountID string, state models.InstanceState)
}
