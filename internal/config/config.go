package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mailer drivers.
const (
	MailerDriverLog  = "log"
	MailerDriverSMTP = "smtp"
	MailerDriverHTTP = "http"
)

// Config aggregates runtime configuration for the engine.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Sweep      SweepConfig
	Dispatcher DispatcherConfig
	Mailer     MailerConfig
}

// AppConfig controls process level behavior.
type AppConfig struct {
	Name    string
	Env     string
	Version string
	OpsHost string
	OpsPort string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// SweepConfig drives the threshold watcher.
type SweepConfig struct {
	Schedule        string
	BatchSize       int
	LeaseKey        string
	LeaseTTLSeconds int
}

// DispatcherConfig drives the outbox dispatcher.
type DispatcherConfig struct {
	Workers         int
	BatchSize       int
	IdleIntervalMs  int
	BatchTimeoutSec int
	MaxAttempts     int
	BackoffBaseSec  int
	BackoffMaxSec   int
}

// MailerConfig selects and configures the outbound mail driver.
type MailerConfig struct {
	Driver        string
	From          string
	TimeoutSec    int
	RatePerSecond float64
	Burst         int

	HTTPURL   string
	HTTPToken string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPTLS      bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rate, err := strconv.ParseFloat(getEnv("MAILER_RATE_PER_SECOND", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAILER_RATE_PER_SECOND: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "sla-engine"),
			Env:     getEnv("APP_ENV", "development"),
			Version: getEnv("APP_VERSION", "dev"),
			OpsHost: getEnv("OPS_HOST", "0.0.0.0"),
			OpsPort: getEnv("OPS_PORT", "9090"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Sweep: SweepConfig{
			Schedule:        getEnv("SWEEP_SCHEDULE", "@every 1m"),
			BatchSize:       getEnvAsInt("SWEEP_BATCH_SIZE", 200),
			LeaseKey:        getEnv("SWEEP_LEASE_KEY", "sla-engine:sweep"),
			LeaseTTLSeconds: getEnvAsInt("SWEEP_LEASE_TTL_SECONDS", 300),
		},
		Dispatcher: DispatcherConfig{
			Workers:         getEnvAsInt("DISPATCH_WORKERS", 1),
			BatchSize:       getEnvAsInt("DISPATCH_BATCH_SIZE", 50),
			IdleIntervalMs:  getEnvAsInt("DISPATCH_IDLE_INTERVAL_MS", 1000),
			BatchTimeoutSec: getEnvAsInt("DISPATCH_BATCH_TIMEOUT_SECONDS", 120),
			MaxAttempts:     getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 10),
			BackoffBaseSec:  getEnvAsInt("DISPATCH_BACKOFF_BASE_SECONDS", 30),
			BackoffMaxSec:   getEnvAsInt("DISPATCH_BACKOFF_MAX_SECONDS", 3600),
		},
		Mailer: MailerConfig{
			Driver:        strings.ToLower(getEnv("MAILER_DRIVER", MailerDriverLog)),
			From:          getEnv("MAILER_FROM", "noreply@example.com"),
			TimeoutSec:    getEnvAsInt("MAILER_TIMEOUT_SECONDS", 10),
			RatePerSecond: rate,
			Burst:         getEnvAsInt("MAILER_BURST", 5),
			HTTPURL:       os.Getenv("MAILER_HTTP_URL"),
			HTTPToken:     os.Getenv("MAILER_HTTP_TOKEN"),
			SMTPHost:      os.Getenv("SMTP_HOST"),
			SMTPPort:      getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername:  os.Getenv("SMTP_USERNAME"),
			SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
			SMTPTLS:       getEnvAsBool("SMTP_TLS", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Sweep.BatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive, got %d", c.Sweep.BatchSize)
	}
	if c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", c.Dispatcher.Workers)
	}
	if c.Dispatcher.BatchSize <= 0 {
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be positive, got %d", c.Dispatcher.BatchSize)
	}
	if c.Dispatcher.MaxAttempts <= 0 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be positive, got %d", c.Dispatcher.MaxAttempts)
	}
	if c.Dispatcher.BackoffMaxSec < c.Dispatcher.BackoffBaseSec {
		return fmt.Errorf("DISPATCH_BACKOFF_MAX_SECONDS (%d) below base (%d)", c.Dispatcher.BackoffMaxSec, c.Dispatcher.BackoffBaseSec)
	}

	switch c.Mailer.Driver {
	case MailerDriverLog:
	case MailerDriverSMTP:
		if c.Mailer.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST required for smtp mailer")
		}
	case MailerDriverHTTP:
		if c.Mailer.HTTPURL == "" {
			return fmt.Errorf("MAILER_HTTP_URL required for http mailer")
		}
	default:
		return fmt.Errorf("unknown MAILER_DRIVER %q", c.Mailer.Driver)
	}
	return nil
}

// OpsAddr returns the ops HTTP bind address.
func (a AppConfig) OpsAddr() string {
	return fmt.Sprintf("%s:%s", a.OpsHost, a.OpsPort)
}

// IdleInterval is how long an idle dispatcher waits before polling again.
func (d DispatcherConfig) IdleInterval() time.Duration {
	return time.Duration(d.IdleIntervalMs) * time.Millisecond
}

// BatchTimeout bounds one claimed batch.
func (d DispatcherConfig) BatchTimeout() time.Duration {
	return time.Duration(d.BatchTimeoutSec) * time.Second
}

// BackoffBase is the first retry delay after a failed delivery.
func (d DispatcherConfig) BackoffBase() time.Duration {
	return time.Duration(d.BackoffBaseSec) * time.Second
}

// BackoffMax caps the retry delay.
func (d DispatcherConfig) BackoffMax() time.Duration {
	return time.Duration(d.BackoffMaxSec) * time.Second
}

// LeaseTTL bounds how long one sweep may hold the lease.
func (s SweepConfig) LeaseTTL() time.Duration {
	return time.Duration(s.LeaseTTLSeconds) * time.Second
}

// Timeout is the per-call mailer deadline.
func (m MailerConfig) Timeout() time.Duration {
	if m.TimeoutSec <= 0 {
		return 0
	}
	return time.Duration(m.TimeoutSec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
