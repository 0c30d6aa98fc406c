package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"whatslog/internal/constants"
	"whatslog/internal/models"
	"whatslog/internal/security"
	"whatslog/internal/validation"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

var (
	ErrMissingEvolutionURL = models.ConfigError{Message: "missing Evolution API URL"}
	ErrMissingEvolutionKey = models.ConfigError{Message: "missing Evolution API key"}
	ErrMissingPublicURL    = models.ConfigError{Message: "missing webhook public URL"}
	ErrMissingDBPath       = models.ConfigError{Message: "missing database path"}
)

// EnvProduction is the WHATSLOG_ENV value that enables strict security checks.
const EnvProduction = "production"

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	// Environment wins over the file so secrets can stay out of it.
	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadDotEnv loads KEY=VALUE pairs without overriding variables already set.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func validate(c *models.Config) error {
	if c.Evolution.APIBaseURL == "" {
		return ErrMissingEvolutionURL
	}
	if c.Evolution.APIKey == "" {
		return ErrMissingEvolutionKey
	}
	if c.Webhook.PublicURL == "" {
		return ErrMissingPublicURL
	}
	if err := validation.ValidatePublicURL(c.Webhook.PublicURL); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid webhook public URL: %v", err)}
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Evolution.TimeoutSec <= 0 {
		c.Evolution.TimeoutSec = constants.DefaultGatewayTimeoutSec
	}
	if c.Evolution.Integration == "" {
		c.Evolution.Integration = constants.DefaultIntegration
	}
	if c.Evolution.BreakerFailures == 0 {
		c.Evolution.BreakerFailures = constants.DefaultBreakerFailures
	}
	if c.Evolution.BreakerCooldownSec <= 0 {
		c.Evolution.BreakerCooldownSec = constants.DefaultBreakerCooldownSec
	}
	if c.Webhook.TokenHeader == "" {
		c.Webhook.TokenHeader = constants.DefaultWebhookTokenHeader
	}
	if c.Webhook.MaxBodyKB <= 0 {
		c.Webhook.MaxBodyKB = constants.DefaultWebhookMaxBodyKB
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.AccountHeader == "" {
		c.Server.AccountHeader = constants.DefaultAccountHeader
	}
	if c.Server.StreamPingInterval <= 0 {
		c.Server.StreamPingInterval = constants.DefaultStreamPingIntervalSec
	}

	if c.Database.MaxOpenConnections <= 0 {
		c.Database.MaxOpenConnections = constants.DefaultMaxOpenConnections
	}
	if c.Database.MaxIdleConnections <= 0 {
		c.Database.MaxIdleConnections = constants.DefaultMaxIdleConnections
	}
	if c.Database.BusyTimeoutMs <= 0 {
		c.Database.BusyTimeoutMs = constants.DefaultDatabaseBusyMs
	}
	if err := validation.ValidateConnectionPool(c.Database.MaxOpenConnections, c.Database.MaxIdleConnections); err != nil {
		return models.ConfigError{Message: err.Error()}
	}

	// A negative poll interval disables the instance monitor.
	if c.Instances.PollIntervalSec == 0 {
		c.Instances.PollIntervalSec = constants.DefaultInstancePollIntervalSec
	}
	if c.Instances.RefreshTimeoutSec <= 0 {
		c.Instances.RefreshTimeoutSec = constants.DefaultInstanceRefreshTimeoutSec
	}
	if c.Instances.MonitorInitDelaySec <= 0 {
		c.Instances.MonitorInitDelaySec = constants.DefaultInstanceMonitorInitDelaySec
	}

	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = constants.DefaultIngestWorkers
	}
	if c.Ingest.PersistTimeoutSec <= 0 {
		c.Ingest.PersistTimeoutSec = constants.DefaultPersistTimeoutSec
	}
	if c.Ingest.DrainTimeoutSec <= 0 {
		c.Ingest.DrainTimeoutSec = constants.DefaultIngestDrainTimeoutSec
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = constants.DefaultEventsExchange
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = constants.DefaultRetentionSchedule
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "whatslog"
	}

	if err := validation.ValidateRetentionDays(c.RetentionDays); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	for _, timeout := range []struct {
		name  string
		value int
	}{
		{"evolution.timeout_sec", c.Evolution.TimeoutSec},
		{"instances.refresh_timeout_sec", c.Instances.RefreshTimeoutSec},
		{"ingest.persist_timeout_sec", c.Ingest.PersistTimeoutSec},
	} {
		if err := validation.ValidateTimeout(timeout.value, timeout.name); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) error {
	if url := os.Getenv("EVOLUTION_API_URL"); url != "" {
		c.Evolution.APIBaseURL = url
	}

	// SECURITY: API keys and webhook tokens should be set via environment variables
	if key := os.Getenv("EVOLUTION_API_KEY"); key != "" {
		c.Evolution.APIKey = key
	}
	if token := os.Getenv("WHATSLOG_WEBHOOK_TOKEN"); token != "" {
		c.Webhook.Token = token
	}

	if url := os.Getenv("WHATSLOG_PUBLIC_URL"); url != "" {
		c.Webhook.PublicURL = strings.TrimRight(url, "/")
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("WHATSLOG_AMQP_URL"); url != "" {
		c.Events.AMQPURL = url
	}
	if level := os.Getenv("WHATSLOG_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := cast.ToIntE(port)
		if err != nil || p <= 0 || p > 65535 {
			return models.ConfigError{Message: fmt.Sprintf("invalid PORT value %q", port)}
		}
		c.Server.Port = p
	}
	return nil
}

// IsProduction reports whether WHATSLOG_ENV selects production mode.
func IsProduction() bool {
	return os.Getenv("WHATSLOG_ENV") == EnvProduction
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if IsProduction() {
		// In production, the webhook token is mandatory
		if c.Webhook.Token == "" {
			return models.ConfigError{Message: "webhook token is required in production (set WHATSLOG_WEBHOOK_TOKEN environment variable)"}
		}

		if len(c.Webhook.Token) < constants.MinWebhookTokenLength {
			return models.ConfigError{Message: fmt.Sprintf("webhook token must be at least %d characters long", constants.MinWebhookTokenLength)}
		}

		if strings.HasPrefix(c.Webhook.PublicURL, "http://") {
			return models.ConfigError{Message: "webhook public URL must use https in production"}
		}

		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Webhook.Token == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook token not set. Set WHATSLOG_WEBHOOK_TOKEN environment variable for security.\n")
	}

	return nil
}
