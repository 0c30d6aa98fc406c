package service

import (
	"context"
	"encoding/json"
	"time"

	apperrors "whatslog/internal/errors"
	"whatslog/internal/metrics"
	"whatslog/internal/models"
	"whatslog/internal/processor"

	"github.com/sirupsen/logrus"
)

// IngestStatus is the outcome reported to the gateway for one callback.
type IngestStatus string

const (
	IngestStatusNoUser     IngestStatus = "no_user"
	IngestStatusIgnored    IngestStatus = "ignored"
	IngestStatusNoData     IngestStatus = "no_data"
	IngestStatusDuplicate  IngestStatus = "duplicate"
	IngestStatusProcessing IngestStatus = "processing"
)

// IngestResult is the acknowledgement body for a webhook callback.
type IngestResult struct {
	Received   bool         `json:"received"`
	Status     IngestStatus `json:"status"`
	Instance   string       `json:"instance,omitempty"`
	WhatsappID string       `json:"whatsappId,omitempty"`
	UserID     string       `json:"userId,omitempty"`
}

// Submitter accepts canonical messages for background persistence.
type Submitter interface {
	Submit(ctx context.Context, msg *models.CanonicalMessage)
}

// IngestService turns gateway callbacks into stored messages.
type IngestService struct {
	accounts AccountStore
	messages MessageStore
	queue    Submitter
	logger   *logrus.Logger
}

func NewIngestService(accounts AccountStore, messages MessageStore, queue Submitter, logger *logrus.Logger) *IngestService {
	return &IngestService{
		accounts: accounts,
		messages: messages,
		queue:    queue,
		logger:   logger,
	}
}

// Handle processes one raw callback body. Every outcome other than a
// malformed body or an unavailable store is a successful acknowledgement.
func (s *IngestService) Handle(ctx context.Context, raw []byte) (*IngestResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecordTimer("webhook_ingest_duration", time.Since(start), nil, "Webhook ingestion latency")
	}()

	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, s.malformed(err)
	}

	instance := processor.InstanceName(envelope.Instance)
	logger := s.logger.WithFields(logrus.Fields{
		LogFieldInstance: instance,
		LogFieldEvent:    envelope.Event,
	})

	account, err := s.accounts.FindAccountByInstance(ctx, instance)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find account by instance", err).WithContext(LogFieldInstance, instance)
	}
	if account == nil {
		logger.Warn("No account found for instance")
		return s.result(IngestStatusNoUser, &IngestResult{Instance: instance}), nil
	}

	if !models.IsMessageEvent(envelope.Event) {
		logger.Debug("Skipping webhook: not a message event")
		return s.result(IngestStatusIgnored, &IngestResult{}), nil
	}
	if !models.IsMessagesUpsertEvent(envelope.Event) {
		logger.Debug("Skipping webhook: not a message upsert")
		return s.result(IngestStatusNoData, &IngestResult{}), nil
	}

	event, err := envelope.MessageEvent()
	if err != nil {
		return nil, s.malformed(err)
	}

	msg := processor.Normalize(event)
	if msg == nil {
		logger.Debug("Skipping webhook: no extractable message data")
		return s.result(IngestStatusNoData, &IngestResult{}), nil
	}
	msg.OwnerID = account.ID

	exists, err := s.messages.MessageExists(ctx, msg.ExternalID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("check message exists", err).WithContext(LogFieldInstance, instance)
	}
	if exists {
		metrics.IncrementCounter("webhook_duplicates_total", map[string]string{"stage": "lookup"}, "Duplicate webhook deliveries")
		logger.WithFields(messageFields(ctx, msg)).Debug("Skipping webhook: duplicate message")
		return s.result(IngestStatusDuplicate, &IngestResult{}), nil
	}

	s.queue.Submit(ctx, msg)

	return s.result(IngestStatusProcessing, &IngestResult{
		WhatsappID: msg.ExternalID,
		UserID:     account.ID,
	}), nil
}

func (s *IngestService) malformed(err error) error {
	metrics.IncrementCounter("webhook_rejected_total", map[string]string{"reason": "malformed"}, "Rejected webhook callbacks")
	return apperrors.NewMalformedPayloadError(err)
}

func (s *IngestService) result(status IngestStatus, r *IngestResult) *IngestResult {
	metrics.IncrementCounter("webhook_callbacks_total", map[string]string{"status": string(status)}, "Webhook callbacks by outcome")
	r.Received = true
	r.Status = status
	return r
}
