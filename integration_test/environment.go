package integration_test

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"whatslog/internal/database"
	"whatslog/internal/models"
	"whatslog/internal/retry"
	"whatslog/internal/service"
	"whatslog/pkg/circuitbreaker"
	"whatslog/pkg/evolution"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	testWebhookURL   = "https://logs.example.com/api/webhook"
	testWebhookToken = "integration-webhook-token-0123456789"
)

// EnvironmentOptions selects optional behavior for a TestEnvironment.
type EnvironmentOptions struct {
	// Encrypted turns on at-rest encryption of message columns.
	Encrypted bool
	// BreakerFailures > 0 puts a circuit breaker in front of the gateway.
	BreakerFailures int
}

// TestEnvironment wires the real store, services and evolution client
// against a FakeGateway.
type TestEnvironment struct {
	t         *testing.T
	db        *database.Database
	gateway   *FakeGateway
	breaker   *circuitbreaker.Breaker
	hub       *service.StatusHub
	published *recordingPublisher
	queue     *service.PersistQueue
	ingest    *service.IngestService
	instances *service.InstanceService
	logger    *logrus.Logger
}

func NewTestEnvironment(t *testing.T, opts EnvironmentOptions) *TestEnvironment {
	t.Helper()

	if opts.Encrypted {
		t.Setenv("WHATSLOG_ENABLE_ENCRYPTION", "true")
		t.Setenv("WHATSLOG_ENCRYPTION_SECRET", "integration-secret-key-with-32-bytes!")
	} else {
		t.Setenv("WHATSLOG_ENABLE_ENCRYPTION", "false")
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := database.New(context.Background(), models.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "whatslog.db"),
	})
	require.NoError(t, err)

	gateway := NewFakeGateway()

	var breaker *circuitbreaker.Breaker
	if opts.BreakerFailures > 0 {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			Name:        "evolution",
			MaxFailures: opts.BreakerFailures,
			OpenTimeout: time.Minute,
			IsFailure:   evolution.BreakerFailure,
		}, logger)
	}

	client, err := evolution.NewClient(evolution.Config{
		BaseURL: gateway.URL(),
		APIKey:  gatewayAPIKey,
		Timeout: 2 * time.Second,
		Retry:   retry.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, MaxAttempts: 2},
		Breaker: breaker,
	})
	require.NoError(t, err)

	published := &recordingPublisher{}
	queue, err := service.NewPersistQueue(db, published, logger, service.PersistQueueConfig{
		Workers:        4,
		PersistTimeout: 5 * time.Second,
		DrainTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	hub := service.NewStatusHub()
	env := &TestEnvironment{
		t:         t,
		db:        db,
		gateway:   gateway,
		breaker:   breaker,
		hub:       hub,
		published: published,
		queue:     queue,
		ingest:    service.NewIngestService(db, db, queue, logger),
		instances: service.NewInstanceService(db, client, hub, logger, service.InstanceServiceConfig{
			WebhookURL:     testWebhookURL,
			WebhookHeaders: map[string]string{"X-Webhook-Token": testWebhookToken},
		}),
		logger: logger,
	}

	t.Cleanup(func() {
		_ = queue.Close()
		gateway.Close()
		_ = db.Close()
	})
	return env
}

// CreateAccount stores a new account without an instance.
func (env *TestEnvironment) CreateAccount(username string) *models.Account {
	env.t.Helper()
	account, err := env.db.CreateAccount(context.Background(), username, "Integration "+username)
	require.NoError(env.t, err)
	return account
}

// ConnectInstance creates an instance for the account and pairs it.
func (env *TestEnvironment) ConnectInstance(accountID, name string) *models.Account {
	env.t.Helper()
	ctx := context.Background()

	_, err := env.instances.Create(ctx, accountID, name)
	require.NoError(env.t, err)

	env.gateway.SetState(name, "open")
	account, err := env.instances.Refresh(ctx, accountID)
	require.NoError(env.t, err)
	require.Equal(env.t, models.InstanceStatusOpen, account.Instance.Status)
	return account
}

// Deliver sends a raw webhook body through the ingest service.
func (env *TestEnvironment) Deliver(body []byte) *service.IngestResult {
	env.t.Helper()
	result, err := env.ingest.Handle(context.Background(), body)
	require.NoError(env.t, err)
	return result
}

// WaitForMessage blocks until the background queue has stored externalID.
func (env *TestEnvironment) WaitForMessage(externalID string) *models.StoredMessage {
	env.t.Helper()
	var stored *models.StoredMessage
	require.Eventually(env.t, func() bool {
		msg, err := env.db.GetMessageByExternalID(context.Background(), externalID)
		if err != nil || msg == nil {
			return false
		}
		stored = msg
		return true
	}, 5*time.Second, 10*time.Millisecond, "message %s was never stored", externalID)
	return stored
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*models.StoredMessage
}

func (p *recordingPublisher) PublishMessageStored(_ context.Context, msg *models.StoredMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) externalIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.messages))
	for _, msg := range p.messages {
		ids = append(ids, msg.ExternalID)
	}
	return ids
}
