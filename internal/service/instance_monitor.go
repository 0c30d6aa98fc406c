package service

import (
	"context"
	"sync"
	"time"

	"whatslog/internal/constants"
	"whatslog/internal/metrics"
	"whatslog/internal/models"
	"whatslog/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Refresher reconciles one account's instance state with the gateway.
type Refresher interface {
	Refresh(ctx context.Context, accountID string) (*models.Account, error)
}

// InstanceMonitor periodically refreshes every instance that is not yet open,
// so pairing QR codes rotate and new connections are noticed without a client
// asking for them.
type InstanceMonitor struct {
	accounts       AccountStore
	refresher      Refresher
	logger         *logrus.Logger
	checkInterval  time.Duration
	refreshTimeout time.Duration
	initDelay      time.Duration
	mu             sync.Mutex
	running        bool
	stopCh         chan struct{}
	done           chan struct{}
}

type InstanceMonitorConfig struct {
	// CheckInterval <= 0 disables the monitor.
	CheckInterval  time.Duration
	RefreshTimeout time.Duration
	InitDelay      time.Duration
}

func NewInstanceMonitor(accounts AccountStore, refresher Refresher, logger *logrus.Logger, cfg InstanceMonitorConfig) *InstanceMonitor {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = time.Duration(constants.DefaultInstanceRefreshTimeoutSec) * time.Second
	}
	if cfg.InitDelay < 0 {
		cfg.InitDelay = 0
	}

	return &InstanceMonitor{
		accounts:       accounts,
		refresher:      refresher,
		logger:         logger,
		checkInterval:  cfg.CheckInterval,
		refreshTimeout: cfg.RefreshTimeout,
		initDelay:      cfg.InitDelay,
	}
}

// Enabled reports whether Start will launch the polling loop.
func (m *InstanceMonitor) Enabled() bool {
	return m.checkInterval > 0
}

// Start begins polling in the background.
func (m *InstanceMonitor) Start(ctx context.Context) {
	if !m.Enabled() {
		m.logger.Info("Instance monitor disabled")
		return
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn("Instance monitor is already running")
		return
	}
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	go m.monitorLoop(ctx, stopCh, done)
	m.logger.WithField("interval", m.checkInterval.String()).Info("Instance monitor started")
}

// Stop halts polling and waits for an in-flight pass to finish.
func (m *InstanceMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	done := m.done
	m.running = false
	m.mu.Unlock()

	<-done
	m.logger.Info("Instance monitor stopped")
}

func (m *InstanceMonitor) monitorLoop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	initDelay := time.NewTimer(m.initDelay)
	defer initDelay.Stop()

	select {
	case <-ctx.Done():
		return
	case <-stopCh:
		return
	case <-initDelay.C:
	}

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.checkPendingInstances(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.checkPendingInstances(ctx)
		}
	}
}

func (m *InstanceMonitor) checkPendingInstances(ctx context.Context) {
	accounts, err := m.accounts.ListAccountsPendingInstance(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to list pending instances")
		return
	}

	metrics.SetGauge("instances_pending", float64(len(accounts)), nil, "Instances not yet open")

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		m.refresh(ctx, account)
	}
}

func (m *InstanceMonitor) refresh(ctx context.Context, account *models.Account) {
	refreshCtx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	updated, err := m.refresher.Refresh(refreshCtx, account.ID)
	if err != nil {
		metrics.IncrementCounter("instance_refresh_failures_total", nil, "Background instance refreshes that failed")
		m.logger.WithFields(logrus.Fields{
			LogFieldAccountID: privacy.MaskAccountID(account.ID),
			LogFieldInstance:  account.Instance.Name(),
		}).WithError(err).Warn("Failed to refresh instance")
		return
	}

	if updated.Instance.Status == models.InstanceStatusOpen && account.Instance.Status != models.InstanceStatusOpen {
		m.logger.WithFields(logrus.Fields{
			LogFieldAccountID: privacy.MaskAccountID(account.ID),
			LogFieldInstance:  updated.Instance.Name(),
		}).Info("Instance paired")
	}
}
