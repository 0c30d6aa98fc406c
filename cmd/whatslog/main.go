package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"whatslog/internal/config"
	"whatslog/internal/constants"
	"whatslog/internal/database"
	"whatslog/internal/events"
	"whatslog/internal/models"
	"whatslog/internal/retry"
	"whatslog/internal/service"
	"whatslog/internal/tracing"
	"whatslog/pkg/circuitbreaker"
	"whatslog/pkg/evolution"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("whatslog %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting whatslog")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	closeLog := configureLogger(logger, cfg, *verbose)
	defer closeLog()

	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = Version
	}
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to shutdown tracing")
		}
	}()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	gateway, err := evolution.NewClient(evolution.Config{
		BaseURL:     cfg.Evolution.APIBaseURL,
		APIKey:      cfg.Evolution.APIKey,
		Timeout:     time.Duration(cfg.Evolution.TimeoutSec) * time.Second,
		Integration: cfg.Evolution.Integration,
		Retry:       backoffConfig(cfg.Retry, cfg.Retry.MaxAttempts),
		Breaker:     gatewayBreaker(cfg.Evolution, logger),
	})
	if err != nil {
		return fmt.Errorf("failed to create evolution client: %w", err)
	}

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	queue, err := service.NewPersistQueue(db, publisher, logger, service.PersistQueueConfig{
		Workers:        cfg.Ingest.Workers,
		PersistTimeout: time.Duration(cfg.Ingest.PersistTimeoutSec) * time.Second,
		DrainTimeout:   time.Duration(cfg.Ingest.DrainTimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create persist queue: %w", err)
	}

	ingest := service.NewIngestService(db, db, queue, logger)
	hub := service.NewStatusHub()
	instances := service.NewInstanceService(db, gateway, hub, logger, service.InstanceServiceConfig{
		WebhookURL:     webhookURL(cfg),
		WebhookHeaders: webhookHeaders(cfg),
	})

	ctxWithVerbose := service.WithVerbose(ctx, *verbose)

	monitor := service.NewInstanceMonitor(db, instances, logger, service.InstanceMonitorConfig{
		CheckInterval:  time.Duration(cfg.Instances.PollIntervalSec) * time.Second,
		RefreshTimeout: time.Duration(cfg.Instances.RefreshTimeoutSec) * time.Second,
		InitDelay:      time.Duration(cfg.Instances.MonitorInitDelaySec) * time.Second,
	})
	monitor.Start(ctxWithVerbose)
	defer monitor.Stop()

	scheduler, err := service.NewScheduler(db, cfg.RetentionDays, cfg.Retention.Schedule, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	scheduler.Start(ctxWithVerbose)
	defer scheduler.Stop()

	if !*verbose {
		watcher := config.NewWatcher(*configPath, logger)
		watcher.OnChange(config.ApplyLogLevel(logger))
		watcher.OnChange(func(c *models.Config) { scheduler.SetRetentionDays(c.RetentionDays) })
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	server, err := NewServer(cfg, ServerDeps{
		Ingest:    ingest,
		Instances: instances,
		Messages:  db,
		Status:    hub,
		Health:    db,
	}, logger, *verbose)
	if err != nil {
		return err
	}

	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	// Accepted callbacks are still being written; drain them before the
	// database closes.
	if err := queue.Close(); err != nil {
		logger.WithError(err).Warn("Some queued messages may not have been stored")
	}

	logger.Info("Server shutdown completed")
	return nil
}

// configureLogger applies the log level and the optional rotating log file.
// The returned function closes the file.
func configureLogger(logger *logrus.Logger, cfg *models.Config, verbose bool) func() {
	switch {
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	case cfg.LogLevel != "":
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.LogFile == "" {
		return func() {}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    64,
		MaxBackups: 7,
		MaxAge:     7,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	return func() {
		_ = file.Close()
	}
}

func backoffConfig(cfg models.RetryConfig, attempts int) retry.BackoffConfig {
	return retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
		Jitter:       true,
	}
}

// openDatabase opens the store, retrying while the file is locked or the
// volume is not yet mounted.
func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoff := backoffConfig(cfg.Retry, constants.DefaultDatabaseRetryAttempts)
	backoff.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Failed to initialize database, retrying")
	}

	var db *database.Database
	err := retry.NewBackoff(backoff).Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(ctx, cfg.Database)
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}

type eventPublisher interface {
	service.MessagePublisher
	Close() error
}

func newPublisher(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (eventPublisher, error) {
	if !cfg.Events.Enabled() {
		logger.Info("Message events disabled")
		return events.NoopPublisher{}, nil
	}

	publisher, err := events.NewAMQPPublisher(ctx, events.PublisherConfig{
		URL:      cfg.Events.AMQPURL,
		Exchange: cfg.Events.Exchange,
		Producer: "whatslog",
		Timeout:  time.Duration(constants.DefaultPublishTimeoutSec) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to message broker: %w", err)
	}
	logger.WithField("exchange", cfg.Events.Exchange).Info("Publishing message events")
	return publisher, nil
}

// webhookURL is the callback URL registered with the gateway.
func webhookURL(cfg *models.Config) string {
	return strings.TrimRight(cfg.Webhook.PublicURL, "/") + constants.DefaultWebhookPath
}

// webhookHeaders makes the gateway present the shared token on callbacks.
func webhookHeaders(cfg *models.Config) map[string]string {
	if cfg.Webhook.Token == "" {
		return nil
	}
	return map[string]string{cfg.Webhook.TokenHeader: cfg.Webhook.Token}
}

// gatewayBreaker returns nil when the breaker is disabled.
func gatewayBreaker(cfg models.EvolutionConfig, logger *logrus.Logger) *circuitbreaker.Breaker {
	if cfg.BreakerFailures < 0 {
		return nil
	}
	return circuitbreaker.New(circuitbreaker.Config{
		Name:        "evolution",
		MaxFailures: cfg.BreakerFailures,
		OpenTimeout: time.Duration(cfg.BreakerCooldownSec) * time.Second,
		IsFailure:   evolution.BreakerFailure,
	}, logger)
}
