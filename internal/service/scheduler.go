package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"whatslog/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronParser accepts standard five-field specs, an optional seconds field and
// descriptors such as @daily or @every 1h.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs message retention on a cron schedule.
type Scheduler struct {
	store         MessageStore
	retentionDays atomic.Int64
	schedule      string
	logger        *logrus.Logger
	cron          *cron.Cron

	mu      sync.Mutex
	running bool
	baseCtx context.Context
}

func NewScheduler(store MessageStore, retentionDays int, schedule string, logger *logrus.Logger) (*Scheduler, error) {
	s := &Scheduler{
		store:    store,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(cron.WithParser(CronParser), cron.WithLocation(time.UTC)),
	}
	s.retentionDays.Store(int64(retentionDays))

	if _, err := s.cron.AddFunc(schedule, s.runJob); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start schedules cleanup runs until ctx is done or Stop is called. It does
// nothing when retention is disabled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.retentionDays.Load() <= 0 {
		s.logger.Info("Message retention disabled, keeping messages forever")
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.baseCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"retentionDays": s.retentionDays.Load(),
		"schedule":      s.schedule,
	}).Info("Starting cleanup scheduler")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop stops scheduling and waits for a running cleanup to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Cleanup scheduler stopped")
}

func (s *Scheduler) runJob() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Cleanup job panicked")
		}
	}()

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	s.RunCleanup(ctx)
}

// SetRetentionDays changes the window used by later runs. A value of zero
// or less pauses cleanup; it does not start a scheduler that was disabled
// at Start.
func (s *Scheduler) SetRetentionDays(days int) {
	s.retentionDays.Store(int64(days))
}

// RunCleanup deletes messages older than the retention window.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	days := int(s.retentionDays.Load())
	if days <= 0 {
		return
	}

	s.logger.WithField("retentionDays", days).Info("Running scheduled cleanup")

	deleted, err := s.store.CleanupOldRecords(ctx, days)
	if err != nil {
		metrics.IncrementCounter("retention_cleanup_failures_total", nil, "Failed retention runs")
		s.logger.WithError(err).Error("Failed to cleanup old records")
		return
	}

	metrics.AddToCounter("retention_messages_deleted_total", float64(deleted), nil, "Messages removed by retention")
	s.logger.WithField(LogFieldCount, deleted).Info("Successfully completed cleanup")
}
