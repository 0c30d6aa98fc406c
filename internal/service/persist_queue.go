package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatslog/internal/constants"
	"whatslog/internal/metrics"
	"whatslog/internal/models"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// PersistQueue writes canonical messages in the background so the webhook can
// acknowledge immediately. Submissions never drop: when every worker is busy
// the write happens on the caller's goroutine.
type PersistQueue struct {
	store          MessageStore
	publisher      MessagePublisher
	logger         *logrus.Logger
	pool           *ants.Pool
	persistTimeout time.Duration
	drainTimeout   time.Duration
}

type PersistQueueConfig struct {
	Workers        int
	PersistTimeout time.Duration
	DrainTimeout   time.Duration
}

func NewPersistQueue(store MessageStore, publisher MessagePublisher, logger *logrus.Logger, cfg PersistQueueConfig) (*PersistQueue, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = constants.DefaultIngestWorkers
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = time.Duration(constants.DefaultPersistTimeoutSec) * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = time.Duration(constants.DefaultIngestDrainTimeoutSec) * time.Second
	}

	q := &PersistQueue{
		store:          store,
		publisher:      publisher,
		logger:         logger,
		persistTimeout: cfg.PersistTimeout,
		drainTimeout:   cfg.DrainTimeout,
	}

	pool, err := ants.NewPool(cfg.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			metrics.IncrementCounter("webhook_persist_failures_total", map[string]string{"reason": "panic"}, "Messages that failed to persist")
			logger.WithField("panic", p).Error("Persist worker panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create persist pool: %w", err)
	}
	q.pool = pool

	return q, nil
}

// Submit schedules msg for persistence. The write outlives the request that
// carried it but keeps its context values.
func (q *PersistQueue) Submit(ctx context.Context, msg *models.CanonicalMessage) {
	detached := context.WithoutCancel(ctx)

	err := q.pool.Submit(func() {
		q.persist(detached, msg)
	})
	if err == nil {
		metrics.SetGauge("webhook_persist_workers_running", float64(q.pool.Running()), nil, "Busy persist workers")
		return
	}

	reason := "overload"
	if errors.Is(err, ants.ErrPoolClosed) {
		reason = "closed"
	}
	metrics.IncrementCounter("webhook_persist_sync_fallback_total", map[string]string{"reason": reason}, "Persist submissions run synchronously")
	q.logger.WithFields(messageFields(ctx, msg)).WithField("reason", reason).
		Warn("Persist queue unavailable, storing message synchronously")
	q.persist(detached, msg)
}

func (q *PersistQueue) persist(ctx context.Context, msg *models.CanonicalMessage) {
	ctx, cancel := context.WithTimeout(ctx, q.persistTimeout)
	defer cancel()

	start := time.Now()
	stored, inserted, err := q.store.InsertMessageIfAbsent(ctx, msg)
	metrics.RecordTimer("webhook_persist_duration", time.Since(start), nil, "Time spent persisting webhook messages")

	if err != nil {
		metrics.IncrementCounter("webhook_persist_failures_total", map[string]string{"instance": msg.InstanceName}, "Messages that failed to persist")
		q.logger.WithFields(replayFields(ctx, msg)).WithError(err).Error("Failed to persist message")
		return
	}

	if !inserted {
		metrics.IncrementCounter("webhook_duplicates_total", map[string]string{"stage": "insert"}, "Duplicate webhook deliveries")
		q.logger.WithFields(messageFields(ctx, msg)).WithField(LogFieldInserted, false).
			Debug("Skipping persist: message already stored")
		return
	}

	metrics.IncrementCounter("messages_stored_total", map[string]string{
		"type":      string(msg.Type),
		"direction": string(msg.Direction),
	}, "Messages stored")
	q.logger.WithFields(messageFields(ctx, msg)).WithField(LogFieldInserted, true).Debug("Message stored")

	if q.publisher != nil {
		if err := q.publisher.PublishMessageStored(ctx, stored); err != nil {
			metrics.IncrementCounter("message_events_failed_total", nil, "Message events that failed to publish")
			q.logger.WithFields(messageFields(ctx, msg)).WithError(err).Warn("Failed to publish message event")
		}
	}
}

// Running reports the number of busy workers.
func (q *PersistQueue) Running() int {
	return q.pool.Running()
}

// Close waits up to the drain timeout for in-flight writes.
func (q *PersistQueue) Close() error {
	if err := q.pool.ReleaseTimeout(q.drainTimeout); err != nil {
		q.logger.WithError(err).Warn("Persist queue did not drain before timeout")
		return err
	}
	return nil
}
