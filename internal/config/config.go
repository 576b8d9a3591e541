// Package config holds application configuration.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Mailer   MailerConfig   `koanf:"mailer"`
}

// ServerConfig configures the ops HTTP server and the metrics server.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gte=1"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"gt=0"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// MailerConfig configures scheduling and dispatch.
type MailerConfig struct {
	// Timezone is the IANA zone used for "now". Empty means UTC.
	Timezone string       `koanf:"timezone" validate:"omitempty,timezone"`
	Worker   WorkerConfig `koanf:"worker"`
	Retry    RetryConfig  `koanf:"retry"`
	Quota    QuotaConfig  `koanf:"quota"`
	Email    EmailConfig  `koanf:"email"`
}

// WorkerConfig configures the queue processor loop.
type WorkerConfig struct {
	Enabled             bool          `koanf:"enabled"`
	BatchSize           int           `koanf:"batch_size" validate:"gte=1,lte=1000"`
	PollInterval        time.Duration `koanf:"poll_interval" validate:"gt=0"`
	Concurrency         int           `koanf:"concurrency" validate:"gte=1,lte=100"`
	MaintenanceInterval time.Duration `koanf:"maintenance_interval" validate:"gte=0"`
	StuckTimeout        time.Duration `koanf:"stuck_timeout" validate:"gt=0"`
	SentRetention       time.Duration `koanf:"sent_retention" validate:"gt=0"`

	// ReminderSweepInterval is how often serve plans reminders for upcoming events. Zero disables it.
	ReminderSweepInterval time.Duration `koanf:"reminder_sweep_interval" validate:"gte=0"`
	ReminderHorizon       time.Duration `koanf:"reminder_horizon" validate:"gt=0"`
}

// RetryConfig configures per-item retries.
type RetryConfig struct {
	MaxRetries        int           `koanf:"max_retries" validate:"gte=1"`
	InitialBackoff    time.Duration `koanf:"initial_backoff" validate:"gt=0"`
	MaxBackoff        time.Duration `koanf:"max_backoff" validate:"gtefield=InitialBackoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier" validate:"gte=1"`
}

// QuotaConfig configures send budgets. Zero disables a limit.
type QuotaConfig struct {
	DailyLimit  int `koanf:"daily_limit" validate:"gte=0"`
	HourlyLimit int `koanf:"hourly_limit" validate:"gte=0"`
}

// EmailConfig configures the SMTP transport.
type EmailConfig struct {
	Enabled      bool          `koanf:"enabled"`
	SMTPHost     string        `koanf:"smtp_host" validate:"required_if=Enabled true"`
	SMTPPort     int           `koanf:"smtp_port" validate:"gte=0,lte=65535"`
	SMTPUser     string        `koanf:"smtp_user"`
	SMTPPassword string        `koanf:"smtp_password"`
	FromAddress  string        `koanf:"from_address" validate:"required_if=Enabled true"`
	RateLimit    float64       `koanf:"rate_limit" validate:"gte=0"`
	DialTimeout  time.Duration `koanf:"dial_timeout" validate:"gte=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectAttempts: 5,
			ConnectTimeout:  60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Mailer: MailerConfig{
			Worker: WorkerConfig{
				Enabled:               true,
				BatchSize:             100,
				PollInterval:          5 * time.Second,
				Concurrency:           5,
				MaintenanceInterval:   10 * time.Minute,
				StuckTimeout:          15 * time.Minute,
				SentRetention:         30 * 24 * time.Hour,
				ReminderSweepInterval: time.Minute,
				ReminderHorizon:       48 * time.Hour,
			},
			Retry: RetryConfig{
				MaxRetries:        3,
				InitialBackoff:    time.Minute,
				MaxBackoff:        time.Hour,
				BackoffMultiplier: 2.0,
			},
			Quota: QuotaConfig{
				DailyLimit:  1000,
				HourlyLimit: 100,
			},
			Email: EmailConfig{
				SMTPPort:    587,
				RateLimit:   10,
				DialTimeout: 10 * time.Second,
			},
		},
	}
}
