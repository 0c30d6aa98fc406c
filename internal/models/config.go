package models

// Config holds the application configuration
type Config struct {
	Evolution     EvolutionConfig `json:"evolution"`
	Webhook       WebhookConfig   `json:"webhook"`
	Server        ServerConfig    `json:"server"`
	Database      DatabaseConfig  `json:"database"`
	Instances     InstanceConfig  `json:"instances"`
	Ingest        IngestConfig    `json:"ingest"`
	Events        EventsConfig    `json:"events"`
	Retention     RetentionConfig `json:"retention"`
	Retry         RetryConfig     `json:"retry"`
	Tracing       TracingConfig   `json:"tracing"`
	LogLevel      string          `json:"log_level"`
	LogFile       string          `json:"log_file,omitempty"`
	RetentionDays int             `json:"retentionDays"`
}

// EvolutionConfig holds the gateway connection settings
type EvolutionConfig struct {
	APIBaseURL string `json:"api_base_url"`
	APIKey     string `json:"api_key"`
	TimeoutSec int    `json:"timeout_sec"`
	// Integration is sent on instance creation.
	Integration string `json:"integration,omitempty"`
	// BreakerFailures consecutive gateway failures open the circuit breaker.
	// A negative value disables it.
	BreakerFailures    int `json:"breaker_failures"`
	BreakerCooldownSec int `json:"breaker_cooldown_sec"`
}

// WebhookConfig controls how the gateway reaches us and how callbacks are authenticated
type WebhookConfig struct {
	// PublicURL is the externally reachable base URL registered with the gateway.
	PublicURL string `json:"public_url"`
	// Token is the shared secret the gateway must present in TokenHeader.
	Token       string `json:"token"`
	TokenHeader string `json:"token_header,omitempty"`
	MaxBodyKB   int    `json:"max_body_kb,omitempty"`
}

type ServerConfig struct {
	Port               int      `json:"port"`
	ReadTimeoutSec     int      `json:"read_timeout_sec,omitempty"`
	WriteTimeoutSec    int      `json:"write_timeout_sec,omitempty"`
	IdleTimeoutSec     int      `json:"idle_timeout_sec,omitempty"`
	AccountHeader      string   `json:"account_header,omitempty"`
	TrustedProxies     []string `json:"trusted_proxies,omitempty"`
	StreamPingInterval int      `json:"stream_ping_interval_sec,omitempty"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path               string `json:"path"`
	MaxOpenConnections int    `json:"max_open_connections,omitempty"`
	MaxIdleConnections int    `json:"max_idle_connections,omitempty"`
	BusyTimeoutMs      int    `json:"busy_timeout_ms,omitempty"`
}

// InstanceConfig controls background reconciliation of pending instances
type InstanceConfig struct {
	PollIntervalSec     int `json:"poll_interval_sec"`
	RefreshTimeoutSec   int `json:"refresh_timeout_sec,omitempty"`
	MonitorInitDelaySec int `json:"monitor_init_delay_sec,omitempty"`
}

// IngestConfig sizes the background persistence pool
type IngestConfig struct {
	Workers           int `json:"workers"`
	PersistTimeoutSec int `json:"persist_timeout_sec,omitempty"`
	DrainTimeoutSec   int `json:"drain_timeout_sec,omitempty"`
}

// EventsConfig enables publishing stored messages to RabbitMQ
type EventsConfig struct {
	AMQPURL  string `json:"amqp_url,omitempty"`
	Exchange string `json:"exchange,omitempty"`
}

func (e EventsConfig) Enabled() bool {
	return e.AMQPURL != ""
}

type RetentionConfig struct {
	Schedule string `json:"schedule,omitempty"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name,omitempty"`
	ServiceVersion string  `json:"service_version,omitempty"`
	Environment    string  `json:"environment,omitempty"`
	OTLPEndpoint   string  `json:"otlp_endpoint,omitempty"`
	SampleRate     float64 `json:"sample_rate,omitempty"`
	UseStdout      bool    `json:"use_stdout,omitempty"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
