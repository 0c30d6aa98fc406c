package constants

// Default server and storage configuration values
const (
	DefaultServerPort         = 8080
	DefaultRetentionDays      = 0
	DefaultRetentionSchedule  = "@daily"
	DefaultRetryBackoffMs     = 1000
	DefaultMaxBackoffMs       = 60000
	DefaultMaxAttempts        = 5
	DefaultWebhookTokenHeader = "X-Webhook-Token"
	DefaultAccountHeader      = "X-Account-ID"
	DefaultEventsExchange     = "whatslog.events"
	DefaultWebhookPath        = "/api/webhook"
	DefaultIntegration        = "WHATSAPP-BAILEYS"
	DefaultDatabaseBusyMs     = 5000
	DefaultMaxOpenConnections = 10
	DefaultMaxIdleConnections = 5
)

// Default timeout values
const (
	DefaultGatewayTimeoutSec           = 30
	DefaultDatabaseRetryAttempts       = 3
	DefaultGracefulShutdownSec         = 30
	DefaultInstancePollIntervalSec     = 5
	DefaultInstanceRefreshTimeoutSec   = 15
	DefaultInstanceMonitorInitDelaySec = 2
	DefaultServerReadTimeoutSec        = 15
	DefaultServerWriteTimeoutSec       = 15
	DefaultServerIdleTimeoutSec        = 60
	DefaultStreamPingIntervalSec       = 30
	DefaultPersistTimeoutSec           = 10
	DefaultIngestDrainTimeoutSec       = 10
	DefaultPublishTimeoutSec           = 5
	DefaultBreakerCooldownSec          = 30
)

// Ingestion limits
const (
	DefaultIngestWorkers       = 8
	DefaultWebhookMaxBodyKB    = 1024
	MaxMessagesPerQuery        = 500
	SecondsTimestampUpperBound = 10_000_000_000
	ServerErrorChannelSize     = 1
	StatusSubscriberBufferSize = 8
	DefaultBreakerFailures     = 5
)

// Validation limits
const (
	MinInstanceNameLength = 3
	MaxInstanceNameLength = 64
	MaxMessageTextLength  = 4096
	MinWebhookTokenLength = 32
	MaxExternalIDLength   = 256
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)

// Field encryption defaults
const (
	EncryptionSalt         = "whatslog-salt-v1"
	EncryptionLookupSalt   = "whatslog-lookup-salt-v1"
	MinEncryptionSaltLen   = 16
	MinEncryptionSecretLen = 32
)

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)
