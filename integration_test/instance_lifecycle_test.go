package integration_test

import (
	"context"
	"testing"
	"time"

	apperrors "whatslog/internal/errors"
	"whatslog/internal/models"
	"whatslog/internal/service"
	"whatslog/internal/validation"
	"whatslog/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceLifecycle(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	ctx := context.Background()
	account := env.CreateAccount("pharmacy")

	updates, unsubscribe := env.hub.Subscribe(account.ID)
	defer unsubscribe()

	created, err := env.instances.Create(ctx, account.ID, "  pharmacy-main ")
	require.NoError(t, err)
	assert.Equal(t, "pharmacy-main", created.Instance.Name())
	assert.Equal(t, models.InstanceStatusConnecting, created.Instance.Status)
	require.NotNil(t, created.Instance.QRImage)
	assert.Equal(t, "data:image/png;base64,QR-pharmacy-main-1", *created.Instance.QRImage)
	require.NotNil(t, created.Instance.PairingCode)
	assert.Equal(t, "WZYEH1YY", *created.Instance.PairingCode)

	url, headers := env.gateway.Webhook("pharmacy-main")
	assert.Equal(t, testWebhookURL, url)
	assert.Equal(t, map[string]string{"X-Webhook-Token": testWebhookToken}, headers)

	select {
	case state := <-updates:
		assert.Equal(t, models.InstanceStatusConnecting, state.Status)
	case <-time.After(time.Second):
		t.Fatal("no status update after create")
	}

	env.gateway.SetState("pharmacy-main", "close")
	closed, err := env.instances.Refresh(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusClose, closed.Instance.Status)
	require.NotNil(t, closed.Instance.QRImage)
	assert.Equal(t, "data:image/png;base64,QR-pharmacy-main-2", *closed.Instance.QRImage, "a closed instance gets a fresh QR code")

	env.gateway.SetState("pharmacy-main", "open")
	opened, err := env.instances.Refresh(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusOpen, opened.Instance.Status)
	assert.Nil(t, opened.Instance.QRImage)
	assert.Nil(t, opened.Instance.PairingCode)

	stored, err := env.db.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Instance.QRImage, "pairing artifacts are cleared in the store")

	resp, err := env.instances.SendMessage(ctx, account.ID, validation.SendMessageRequest{
		Number: "5511955550000@s.whatsapp.net",
		Text:   "Your order is ready",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID())
	assert.Equal(t, []sentText{{Instance: "pharmacy-main", Number: "5511955550000", Text: "Your order is ready"}}, env.gateway.Sent())

	require.NoError(t, env.instances.Disconnect(ctx, account.ID))
	assert.False(t, env.gateway.HasInstance("pharmacy-main"))

	after, err := env.instances.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, after.Instance.HasInstance())
	assert.Equal(t, models.InstanceStatusNone, after.Instance.Status)

	_, err = env.instances.Refresh(ctx, account.ID)
	assert.ErrorIs(t, err, service.ErrNoInstance)
}

func TestInstanceLifecycle_Conflicts(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	ctx := context.Background()
	owner := env.CreateAccount("owner")
	rival := env.CreateAccount("rival")

	_, err := env.instances.Create(ctx, owner.ID, "shared-name")
	require.NoError(t, err)

	_, err = env.instances.Create(ctx, owner.ID, "second-name")
	assert.ErrorIs(t, err, service.ErrInstanceExists)
	assert.Equal(t, 409, apperrors.HTTPStatusCode(err))
	assert.False(t, env.gateway.HasInstance("second-name"), "the gateway is not called for a rejected create")

	_, err = env.instances.Create(ctx, rival.ID, "shared-name")
	assert.ErrorIs(t, err, service.ErrInstanceNameTaken)

	_, err = env.instances.Create(ctx, rival.ID, "x")
	assert.Equal(t, 400, apperrors.HTTPStatusCode(err))

	_, err = env.instances.Create(ctx, "missing-account", "another-name")
	assert.ErrorIs(t, err, service.ErrAccountNotFound)
}

func TestInstanceLifecycle_SendRequiresOpenInstance(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	ctx := context.Background()
	account := env.CreateAccount("courier")

	_, err := env.instances.SendMessage(ctx, account.ID, validation.SendMessageRequest{Number: "5511944440000", Text: "hi"})
	assert.ErrorIs(t, err, service.ErrNoInstance)

	_, err = env.instances.Create(ctx, account.ID, "courier-main")
	require.NoError(t, err)

	_, err = env.instances.SendMessage(ctx, account.ID, validation.SendMessageRequest{Number: "5511944440000", Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeGatewayAPI, apperrors.GetCode(err))
	assert.Empty(t, env.gateway.Sent())
}

func TestInstanceMonitor_PromotesPairedInstance(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	account := env.CreateAccount("garage")

	_, err := env.instances.Create(context.Background(), account.ID, "garage-main")
	require.NoError(t, err)
	env.gateway.SetState("garage-main", "open")

	monitor := service.NewInstanceMonitor(env.db, env.instances, env.logger, service.InstanceMonitorConfig{
		CheckInterval:  20 * time.Millisecond,
		RefreshTimeout: time.Second,
	})
	monitor.Start(context.Background())
	defer monitor.Stop()

	assert.Eventually(t, func() bool {
		stored, err := env.db.GetAccount(context.Background(), account.ID)
		return err == nil && stored.Instance.Status == models.InstanceStatusOpen
	}, 5*time.Second, 20*time.Millisecond)

	pending, err := env.db.ListAccountsPendingInstance(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGatewayOutage_BreakerShedsLoad(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{BreakerFailures: 2})
	ctx := context.Background()
	account := env.CreateAccount("kiosk")
	env.ConnectInstance(account.ID, "kiosk-main")

	env.gateway.SetDown(true)
	before := env.gateway.Requests("/instance/connectionState/{name}")

	for i := 0; i < 5; i++ {
		refreshed, err := env.instances.Refresh(ctx, account.ID)
		require.NoError(t, err, "an unreachable gateway is reported as UNKNOWN, not as an error")
		assert.Equal(t, models.InstanceStatusUnknown, refreshed.Instance.Status)
	}

	assert.Equal(t, circuitbreaker.StateOpen, env.breaker.State())
	assert.Equal(t, 2, env.gateway.Requests("/instance/connectionState/{name}")-before,
		"calls stop reaching the gateway once the breaker opens")

	_, err := env.instances.SendMessage(ctx, account.ID, validation.SendMessageRequest{Number: "5511933330000", Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
	assert.Equal(t, apperrors.ErrCodeGatewayUnavailable, apperrors.GetCode(err))
}
