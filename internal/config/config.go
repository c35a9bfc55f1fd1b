package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Config holds the settings shared by every run mode.
type Config struct {
	DatabaseDriver     string `env:"DATABASE_DRIVER,default=sqlite"`
	DatabaseDSN        string `env:"DATABASE_DSN,default=dispatch.db"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
	OpsPort            int    `env:"OPS_PORT,default=0"`
	RedisURL           string `env:"REDIS_URL"`
	AMQPURL            string `env:"AMQP_URL"`
	RunLockTTLSec      int    `env:"RUN_LOCK_TTL_SEC,default=900"`
	ShutdownTimeoutSec int    `env:"SHUTDOWN_TIMEOUT_SEC,default=10"`
}

// GatewayConfig holds the settings needed to send messages. It is only
// loaded in send mode so the summary report works without credentials.
type GatewayConfig struct {
	BaseURL          string `env:"GATEWAY_BASE_URL,required=true"`
	Username         string `env:"GATEWAY_USERNAME,required=true"`
	Password         string `env:"GATEWAY_PASSWORD,required=true"`
	AccountID        string `env:"GATEWAY_ACCOUNT_ID,required=true"`
	ToNumber         string `env:"GATEWAY_TO_NUMBER,required=true"`
	TimeoutSec       int    `env:"GATEWAY_TIMEOUT_SEC,default=30"`
	ImageURL         string `env:"IMAGE_URL,default=https://picsum.photos/400"`
	MediaCaption     string `env:"MEDIA_CAPTION"`
	PacingIntervalMs int    `env:"PACING_INTERVAL_MS,default=7500"`
	MessagesFile     string `env:"MESSAGES_FILE"`
}

// Error reports a missing or malformed configuration input.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return "config error"
	}
	return "config error: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to load config: %w", err)}
	}

	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	switch cfg.DatabaseDriver {
	case "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		return nil, &Error{Err: fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)}
	}
	if cfg.OpsPort < 0 {
		return nil, &Error{Err: fmt.Errorf("OPS_PORT must be >= 0 (got %d)", cfg.OpsPort)}
	}
	return &cfg, nil
}

func LoadGateway() (*GatewayConfig, error) {
	var cfg GatewayConfig
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to load gateway config: %w", err)}
	}

	// go-env accepts an explicitly empty value for required keys.
	required := []struct {
		key   string
		value string
	}{
		{key: "GATEWAY_BASE_URL", value: cfg.BaseURL},
		{key: "GATEWAY_USERNAME", value: cfg.Username},
		{key: "GATEWAY_PASSWORD", value: cfg.Password},
		{key: "GATEWAY_ACCOUNT_ID", value: cfg.AccountID},
		{key: "GATEWAY_TO_NUMBER", value: cfg.ToNumber},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, &Error{Err: fmt.Errorf("%s is required", r.key)}
		}
	}
	if cfg.PacingIntervalMs < 0 {
		return nil, &Error{Err: fmt.Errorf("PACING_INTERVAL_MS must be >= 0 (got %d)", cfg.PacingIntervalMs)}
	}

	return &cfg, nil
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

func (c *Config) RunLockTTL() time.Duration {
	return time.Duration(c.RunLockTTLSec) * time.Second
}

func (c *GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c *GatewayConfig) PacingInterval() time.Duration {
	return time.Duration(c.PacingIntervalMs) * time.Millisecond
}
