package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"whatslog/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(accounts AccountStore, refresher Refresher, interval time.Duration) *InstanceMonitor {
	return NewInstanceMonitor(accounts, refresher, newTestLogger(), InstanceMonitorConfig{
		CheckInterval:  interval,
		RefreshTimeout: time.Second,
		InitDelay:      time.Millisecond,
	})
}

func TestInstanceMonitor_RefreshesPendingInstances(t *testing.T) {
	accounts := &mockAccountStore{}
	refresher := &mockRefresher{}
	monitor := newTestMonitor(accounts, refresher, 20*time.Millisecond)

	pending := []*models.Account{
		accountWithInstance("acc-1", "shop-main", models.InstanceStatusConnecting),
		accountWithInstance("acc-2", "shop-two", models.InstanceStatusClose),
	}
	accounts.On("ListAccountsPendingInstance", mock.Anything).Return(pending, nil)

	refreshed := make(chan string, 10)
	refresher.On("Refresh", mock.Anything, mock.Anything).
		Return(accountWithInstance("acc-1", "shop-main", models.InstanceStatusOpen), nil).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			refreshed <- args.String(1)
		})

	monitor.Start(context.Background())
	defer monitor.Stop()

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case id := <-refreshed:
			seen[id] = true
		case <-timeout:
			t.Fatalf("expected both accounts to be refreshed, saw %v", seen)
		}
	}
	assert.True(t, seen["acc-1"])
	assert.True(t, seen["acc-2"])
}

func TestInstanceMonitor_ContinuesAfterRefreshError(t *testing.T) {
	accounts := &mockAccountStore{}
	refresher := &mockRefresher{}
	monitor := newTestMonitor(accounts, refresher, time.Hour)

	pending := []*models.Account{
		accountWithInstance("acc-1", "shop-main", models.InstanceStatusConnecting),
		accountWithInstance("acc-2", "shop-two", models.InstanceStatusConnecting),
	}
	accounts.On("ListAccountsPendingInstance", mock.Anything).Return(pending, nil).Once()
	refresher.On("Refresh", mock.Anything, "acc-1").Return(nil, errors.New("gateway down")).Once()
	refresher.On("Refresh", mock.Anything, "acc-2").
		Return(accountWithInstance("acc-2", "shop-two", models.InstanceStatusConnecting), nil).Once()

	monitor.checkPendingInstances(context.Background())

	refresher.AssertExpectations(t)
}

func TestInstanceMonitor_ListFailure(t *testing.T) {
	accounts := &mockAccountStore{}
	refresher := &mockRefresher{}
	monitor := newTestMonitor(accounts, refresher, time.Hour)

	accounts.On("ListAccountsPendingInstance", mock.Anything).Return(nil, errors.New("database is locked")).Once()

	monitor.checkPendingInstances(context.Background())

	refresher.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
}

func TestInstanceMonitor_Disabled(t *testing.T) {
	accounts := &mockAccountStore{}
	refresher := &mockRefresher{}
	monitor := newTestMonitor(accounts, refresher, 0)

	require.False(t, monitor.Enabled())
	monitor.Start(context.Background())
	monitor.Stop()

	time.Sleep(20 * time.Millisecond)
	accounts.AssertNotCalled(t, "ListAccountsPendingInstance", mock.Anything)
}

func TestInstanceMonitor_StopAndRestart(t *testing.T) {
	accounts := &mockAccountStore{}
	refresher := &mockRefresher{}
	monitor := newTestMonitor(accounts, refresher, time.Hour)

	accounts.On("ListAccountsPendingInstance", mock.Anything).Return([]*models.Account{}, nil)

	monitor.Start(context.Background())
	monitor.Start(context.Background())
	monitor.Stop()
	monitor.Stop()

	monitor.Start(context.Background())
	monitor.Stop()
}

func TestInstanceMonitor_StopsWithContext(t *testing.T) {
	accounts := &mockAccountStore{}
	refresher := &mockRefresher{}
	monitor := newTestMonitor(accounts, refresher, time.Hour)

	accounts.On("ListAccountsPendingInstance", mock.Anything).Return([]*models.Account{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		monitor.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Monitor did not stop within timeout")
	}
}
