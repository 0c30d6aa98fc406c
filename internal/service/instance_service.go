package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"whatslog/internal/database"
	apperrors "whatslog/internal/errors"
	"whatslog/internal/metrics"
	"whatslog/internal/models"
	"whatslog/internal/privacy"
	"whatslog/internal/processor"
	"whatslog/internal/validation"
	"whatslog/pkg/circuitbreaker"
	"whatslog/pkg/evolution"

	"github.com/sirupsen/logrus"
)

var (
	ErrAccountNotFound   = apperrors.NewNotFoundError("account", "account not found").WithUserMessage("Account not found")
	ErrInstanceExists    = apperrors.NewConflictError("instance", "account already has an instance").WithUserMessage("You already have an instance. Disconnect it first.")
	ErrInstanceNameTaken = apperrors.NewConflictError("instance", "instance name already taken").WithUserMessage("Instance name already taken")
	ErrNoInstance        = apperrors.NewNotFoundError("instance", "account has no instance").WithUserMessage("No instance found")
)

type InstanceServiceConfig struct {
	// WebhookURL is registered with the gateway for every new instance.
	WebhookURL string
	// WebhookHeaders are sent back by the gateway on every callback.
	WebhookHeaders map[string]string
}

// InstanceService reconciles each account's locally cached instance state with
// the gateway. Operations on the same account are serialized.
type InstanceService struct {
	accounts AccountStore
	gateway  evolution.Gateway
	status   StatusPublisher
	logger   *logrus.Logger
	config   InstanceServiceConfig

	locksMu sync.Mutex
	locks   map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func NewInstanceService(accounts AccountStore, gateway evolution.Gateway, status StatusPublisher, logger *logrus.Logger, config InstanceServiceConfig) *InstanceService {
	return &InstanceService{
		accounts: accounts,
		gateway:  gateway,
		status:   status,
		logger:   logger,
		config:   config,
		locks:    make(map[string]*accountLock),
	}
}

// Get returns the account with its current instance state.
func (s *InstanceService) Get(ctx context.Context, accountID string) (*models.Account, error) {
	return s.loadAccount(ctx, accountID)
}

// Create provisions a gateway instance named name for the account, registers
// the webhook and stores the pairing material.
func (s *InstanceService) Create(ctx context.Context, accountID, name string) (*models.Account, error) {
	name = strings.TrimSpace(name)
	if err := validation.ValidateInstanceName(name); err != nil {
		return nil, err
	}

	unlock := s.lock(accountID)
	defer unlock()

	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Instance.HasInstance() {
		return nil, ErrInstanceExists
	}

	owner, err := s.accounts.FindAccountByInstance(ctx, name)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find account by instance", err)
	}
	if owner != nil {
		return nil, ErrInstanceNameTaken
	}

	logger := s.logger.WithFields(logrus.Fields{
		LogFieldAccountID: privacy.MaskAccountID(accountID),
		LogFieldInstance:  name,
	})

	resp, err := s.gateway.CreateInstance(ctx, name)
	if err != nil {
		metrics.IncrementCounter("instance_operations_total", map[string]string{"operation": "create", "result": "error"}, "Instance lifecycle operations")
		logger.WithError(err).Error("Failed to create instance")
		return nil, gatewayError("create_instance", err)
	}

	if err := s.gateway.SetWebhook(ctx, name, s.config.WebhookURL, s.config.WebhookHeaders); err != nil {
		// Without a webhook nothing is ingested, but the instance still pairs.
		logger.WithError(err).Warn("Failed to set webhook for instance")
	}

	state := models.InstanceState{
		InstanceName: &name,
		Status:       models.NormalizeInstanceStatus(resp.Instance.Status),
		QRImage:      optional(resp.QRCode.Image()),
		PairingCode:  optional(resp.QRCode.Pairing()),
	}
	if state.QRImage != nil || state.Status == models.InstanceStatusNone {
		state.Status = models.InstanceStatusConnecting
	}

	if err := s.accounts.SetInstanceState(ctx, accountID, state); err != nil {
		if errors.Is(err, database.ErrInstanceNameTaken) {
			logger.Warn("Instance name claimed concurrently; gateway instance left orphaned")
			return nil, ErrInstanceNameTaken
		}
		return nil, storeError("set instance state", err)
	}

	metrics.IncrementCounter("instance_operations_total", map[string]string{"operation": "create", "result": "ok"}, "Instance lifecycle operations")
	logger.WithField(LogFieldInstanceStatus, state.Status).Info("Instance created")

	return s.reloadAndPublish(ctx, accountID)
}

// Refresh asks the gateway for the connection state and stores it. A closed
// instance gets a fresh QR code; an unreachable gateway yields UNKNOWN.
func (s *InstanceService) Refresh(ctx context.Context, accountID string) (*models.Account, error) {
	unlock := s.lock(accountID)
	defer unlock()

	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Instance.HasInstance() {
		return nil, ErrNoInstance
	}
	name := account.Instance.Name()

	logger := s.logger.WithFields(logrus.Fields{
		LogFieldAccountID: privacy.MaskAccountID(accountID),
		LogFieldInstance:  name,
	})

	status := models.InstanceStatusUnknown
	conn, err := s.gateway.ConnectionState(ctx, name)
	if err != nil {
		logger.WithError(err).Warn("Failed to get connection state, marking instance UNKNOWN")
	} else if normalized := models.NormalizeInstanceStatus(conn.State); normalized != models.InstanceStatusNone {
		status = normalized
	}
	logger = logger.WithField(LogFieldInstanceStatus, status)

	if status == models.InstanceStatusClose {
		qr, qrErr := s.gateway.FetchQR(ctx, name)
		if qrErr == nil {
			err = s.accounts.SetInstanceState(ctx, accountID, models.InstanceState{
				InstanceName: account.Instance.InstanceName,
				Status:       status,
				QRImage:      optional(qr.Image()),
				PairingCode:  optional(qr.Pairing()),
			})
			if err != nil {
				return nil, storeError("set instance state", err)
			}
			return s.finishRefresh(ctx, accountID, account.Instance.Status, status, logger)
		}
		logger.WithError(qrErr).Warn("Failed to fetch QR code for closed instance")
	}

	// OPEN clears the pairing artifacts in the store; other states keep them.
	if err := s.accounts.UpdateInstanceStatus(ctx, accountID, status); err != nil {
		return nil, storeError("update instance status", err)
	}
	return s.finishRefresh(ctx, accountID, account.Instance.Status, status, logger)
}

func (s *InstanceService) finishRefresh(ctx context.Context, accountID string, previous, current models.InstanceStatus, logger *logrus.Entry) (*models.Account, error) {
	if previous != current {
		metrics.IncrementCounter("instance_status_transitions_total", map[string]string{"to": string(current)}, "Instance status transitions")
		logger.WithField("previous_status", previous).Info("Instance status changed")
	} else {
		logger.Debug("Instance status unchanged")
	}
	return s.reloadAndPublish(ctx, accountID)
}

// Disconnect logs the instance out and deletes it on the gateway, both best
// effort, then forgets it locally.
func (s *InstanceService) Disconnect(ctx context.Context, accountID string) error {
	unlock := s.lock(accountID)
	defer unlock()

	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.Instance.HasInstance() {
		return ErrNoInstance
	}
	name := account.Instance.Name()

	logger := s.logger.WithFields(logrus.Fields{
		LogFieldAccountID: privacy.MaskAccountID(accountID),
		LogFieldInstance:  name,
	})

	if err := s.gateway.Logout(ctx, name); err != nil {
		logger.WithError(err).Warn("Failed to logout instance")
	}
	if err := s.gateway.DeleteInstance(ctx, name); err != nil {
		logger.WithError(err).Warn("Failed to delete instance")
	}

	if err := s.accounts.ClearInstanceState(ctx, accountID); err != nil {
		return storeError("clear instance state", err)
	}

	metrics.IncrementCounter("instance_operations_total", map[string]string{"operation": "disconnect", "result": "ok"}, "Instance lifecycle operations")
	logger.Info("Instance disconnected")

	if s.status != nil {
		s.status.Publish(accountID, models.InstanceState{})
	}
	return nil
}

// SendMessage sends a text through the account's instance. The message is
// stored later, when the gateway echoes it back through the webhook.
func (s *InstanceService) SendMessage(ctx context.Context, accountID string, req validation.SendMessageRequest) (*evolution.SendTextResponse, error) {
	if err := validation.ValidateSendMessage(ctx, req); err != nil {
		return nil, err
	}

	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Instance.HasInstance() {
		return nil, ErrNoInstance
	}

	resp, err := s.gateway.SendText(ctx, account.Instance.Name(), evolution.SendTextRequest{
		Number: processor.Recipient(req.Number),
		Text:   req.Text,
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			LogFieldInstance: account.Instance.Name(),
			LogFieldSender:   privacy.MaskJID(req.Number),
		}).WithError(err).Error("Failed to send message")
		return nil, gatewayError("send_text", err)
	}

	metrics.IncrementCounter("messages_sent_total", nil, "Messages sent through the gateway")
	return resp, nil
}

func (s *InstanceService) loadAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get account", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (s *InstanceService) reloadAndPublish(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if s.status != nil {
		s.status.Publish(accountID, account.Instance)
	}
	return account, nil
}

// lock serializes lifecycle operations per account.
func (s *InstanceService) lock(accountID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &accountLock{}
		s.locks[accountID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, accountID)
		}
		s.locksMu.Unlock()
	}
}

func gatewayError(operation string, err error) error {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return apperrors.NewGatewayUnavailableError(operation, err)
	}
	status := 0
	if gwErr, ok := evolution.AsGatewayError(err); ok {
		status = gwErr.StatusCode
	}
	return apperrors.NewAPIError(operation, "evolution", status, err)
}

func storeError(operation string, err error) error {
	switch {
	case errors.Is(err, database.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, database.ErrInstanceNameTaken):
		return ErrInstanceNameTaken
	default:
		return apperrors.NewDatabaseError(operation, err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
