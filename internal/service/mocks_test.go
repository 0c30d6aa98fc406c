package service

import (
	"context"
	"sync"
	"time"

	"whatslog/internal/models"
	"whatslog/pkg/evolution"

	"github.com/stretchr/testify/mock"
)

// Mock gateway
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateInstance(ctx context.Context, name string) (*evolution.CreateInstanceResponse, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*evolution.CreateInstanceResponse), args.Error(1)
}

func (m *mockGateway) FetchQR(ctx context.Context, name string) (*evolution.QRCode, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*evolution.QRCode), args.Error(1)
}

func (m *mockGateway) ConnectionState(ctx context.Context, name string) (*evolution.ConnectionState, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*evolution.ConnectionState), args.Error(1)
}

func (m *mockGateway) SetWebhook(ctx context.Context, name, webhookURL string, headers map[string]string) error {
	args := m.Called(ctx, name, webhookURL, headers)
	return args.Error(0)
}

func (m *mockGateway) Logout(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *mockGateway) DeleteInstance(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *mockGateway) SendText(ctx context.Context, name string, req evolution.SendTextRequest) (*evolution.SendTextResponse, error) {
	args := m.Called(ctx, name, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*evolution.SendTextResponse), args.Error(1)
}

func (m *mockGateway) FetchInstances(ctx context.Context) ([]evolution.InstanceInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]evolution.InstanceInfo), args.Error(1)
}

// Mock account store
type mockAccountStore struct {
	mock.Mock
}

func (m *mockAccountStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *mockAccountStore) FindAccountByInstance(ctx context.Context, instanceName string) (*models.Account, error) {
	args := m.Called(ctx, instanceName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *mockAccountStore) ListAccountsPendingInstance(ctx context.Context) ([]*models.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Account), args.Error(1)
}

func (m *mockAccountStore) SetInstanceState(ctx context.Context, accountID string, state models.InstanceState) error {
	args := m.Called(ctx, accountID, state)
	return args.Error(0)
}

func (m *mockAccountStore) UpdateInstanceStatus(ctx context.Context, accountID string, status models.InstanceStatus) error {
	args := m.Called(ctx, accountID, status)
	return args.Error(0)
}

func (m *mockAccountStore) ClearInstanceState(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

// Mock message store
type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) MessageExists(ctx context.Context, externalID string) (bool, error) {
	args := m.Called(ctx, externalID)
	return args.Bool(0), args.Error(1)
}

func (m *mockMessageStore) InsertMessageIfAbsent(ctx context.Context, msg *models.CanonicalMessage) (*models.StoredMessage, bool, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.StoredMessage), args.Bool(1), args.Error(2)
}

func (m *mockMessageStore) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	args := m.Called(ctx, retentionDays)
	return args.Get(0).(int64), args.Error(1)
}

// Mock message publisher
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishMessageStored(ctx context.Context, msg *models.StoredMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// Mock refresher
type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Refresh(ctx context.Context, accountID string) (*models.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

// recordingSubmitter captures submissions instead of persisting them.
type recordingSubmitter struct {
	mu        sync.Mutex
	submitted []*models.CanonicalMessage
}

func (r *recordingSubmitter) Submit(ctx context.Context, msg *models.CanonicalMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, msg)
}

func (r *recordingSubmitter) messages() []*models.CanonicalMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.CanonicalMessage(nil), r.submitted...)
}

// recordingStatus captures published instance states.
type recordingStatus struct {
	mu     sync.Mutex
	states []models.InstanceState
}

func (r *recordingStatus) Publish(accountID string, state models.InstanceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingStatus) published() []models.InstanceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.InstanceState(nil), r.states...)
}

func strPtr(s string) *string {
	return &s
}

func accountWithInstance(id, name string, status models.InstanceStatus) *models.Account {
	return &models.Account{
		ID:       id,
		Username: "user-" + id,
		Instance: models.InstanceState{
			InstanceName: strPtr(name),
			Status:       status,
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}
