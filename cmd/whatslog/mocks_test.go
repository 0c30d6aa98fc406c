package main

import (
	"context"
	"time"

	"whatslog/internal/constants"
	"whatslog/internal/models"
	"whatslog/internal/service"
	"whatslog/internal/validation"
	"whatslog/pkg/evolution"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Handle(ctx context.Context, raw []byte) (*service.IngestResult, error) {
	args := m.Called(ctx, raw)
	if result := args.Get(0); result != nil {
		return result.(*service.IngestResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockInstanceManager struct {
	mock.Mock
}

func (m *MockInstanceManager) Get(ctx context.Context, accountID string) (*models.Account, error) {
	args := m.Called(ctx, accountID)
	if account := args.Get(0); account != nil {
		return account.(*models.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInstanceManager) Create(ctx context.Context, accountID, name string) (*models.Account, error) {
	args := m.Called(ctx, accountID, name)
	if account := args.Get(0); account != nil {
		return account.(*models.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInstanceManager) Refresh(ctx context.Context, accountID string) (*models.Account, error) {
	args := m.Called(ctx, accountID)
	if account := args.Get(0); account != nil {
		return account.(*models.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInstanceManager) Disconnect(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func (m *MockInstanceManager) SendMessage(ctx context.Context, accountID string, req validation.SendMessageRequest) (*evolution.SendTextResponse, error) {
	args := m.Called(ctx, accountID, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*evolution.SendTextResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockMessageReader struct {
	mock.Mock
}

func (m *MockMessageReader) ListContacts(ctx context.Context, ownerID string, day time.Time) ([]models.ContactSummary, error) {
	args := m.Called(ctx, ownerID, day)
	if contacts := args.Get(0); contacts != nil {
		return contacts.([]models.ContactSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageReader) ListMessageDates(ctx context.Context, ownerID string) ([]models.DaySummary, error) {
	args := m.Called(ctx, ownerID)
	if dates := args.Get(0); dates != nil {
		return dates.([]models.DaySummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageReader) ListConversation(ctx context.Context, ownerID, senderNumber string, day time.Time, limit int) ([]*models.StoredMessage, error) {
	args := m.Called(ctx, ownerID, senderNumber, day, limit)
	if messages := args.Get(0); messages != nil {
		return messages.([]*models.StoredMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testConfig() *models.Config {
	return &models.Config{
		Webhook: models.WebhookConfig{
			PublicURL:   "https://logs.example.com",
			TokenHeader: constants.DefaultWebhookTokenHeader,
			MaxBodyKB:   constants.DefaultWebhookMaxBodyKB,
		},
		Server: models.ServerConfig{
			Port:               constants.DefaultServerPort,
			AccountHeader:      constants.DefaultAccountHeader,
			StreamPingInterval: constants.DefaultStreamPingIntervalSec,
		},
	}
}

func strPtr(s string) *string {
	return &s
}
