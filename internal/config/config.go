// Package config loads the workflow service configuration from the
// environment and the readiness policy from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/training_workflow/pkg/logger"
)

// Config is the complete process configuration.
type Config struct {
	Server     ServerConfig     `envPrefix:"SERVER_"`
	Database   DatabaseConfig   `envPrefix:"DATABASE_"`
	Logging    LoggingConfig    `envPrefix:"LOG_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
	Auth       AuthConfig       `envPrefix:"AUTH_"`
	RateLimit  RateLimitConfig  `envPrefix:"RATE_LIMIT_"`
	Monitor    MonitorConfig    `envPrefix:"MONITOR_"`
	Automation AutomationConfig `envPrefix:"AUTOMATION_"`
	Content    ContentConfig    `envPrefix:"CONTENT_"`
	Readiness  ReadinessConfig  `envPrefix:"READINESS_"`
}

type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:","`
	AuditLogPath    string        `env:"AUDIT_LOG_PATH"`
	AuditSize       int           `env:"AUDIT_SIZE" envDefault:"200"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the store. An empty DSN means the in-memory store.
type DatabaseConfig struct {
	Driver          string        `env:"DRIVER" envDefault:"postgres"`
	DSN             string        `env:"DSN"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	MigrateOnStart  bool          `env:"MIGRATE_ON_START" envDefault:"true"`
}

type LoggingConfig struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	Format     string `env:"FORMAT" envDefault:"text"`
	Output     string `env:"OUTPUT" envDefault:"stdout"`
	FilePrefix string `env:"FILE_PREFIX" envDefault:"workflow"`
}

// Logger converts the section into logger settings.
func (l LoggingConfig) Logger() logger.LoggingConfig {
	return logger.LoggingConfig{Level: l.Level, Format: l.Format, Output: l.Output, FilePrefix: l.FilePrefix}
}

// RedisConfig enables the readiness verdict cache when Addr is set.
type RedisConfig struct {
	Addr       string        `env:"ADDR"`
	Password   string        `env:"PASSWORD"`
	DB         int           `env:"DB" envDefault:"0"`
	VerdictTTL time.Duration `env:"VERDICT_TTL" envDefault:"1m"`
}

// AuthConfig enables bearer token authentication when JWTSecret is set.
// Without a secret the actor is taken from the X-Actor-ID header.
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"ISSUER"`
}

type RateLimitConfig struct {
	RPS   float64 `env:"RPS" envDefault:"20"`
	Burst int     `env:"BURST" envDefault:"40"`
}

type MonitorConfig struct {
	Window        int     `env:"WINDOW" envDefault:"50"`
	DegradedRate  float64 `env:"DEGRADED_RATE" envDefault:"0.2"`
	UnhealthyRate float64 `env:"UNHEALTHY_RATE" envDefault:"0.5"`
}

type AutomationConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Schedule string `env:"SCHEDULE" envDefault:"@every 5m"`
}

// ContentConfig enables the chat content generator when APIKey is set.
type ContentConfig struct {
	APIKey  string `env:"API_KEY"`
	BaseURL string `env:"BASE_URL"`
	Model   string `env:"MODEL" envDefault:"gpt-4o-mini"`
}

type ReadinessConfig struct {
	PolicyPath string `env:"POLICY_PATH"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv fills unset variables from ENV_FILE, or ./.env when ENV_FILE
// is empty. A missing file is not an error; variables already set win.
func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Monitor.Window <= 0 {
		errs = append(errs, fmt.Errorf("monitor window must be positive, got %d", c.Monitor.Window))
	}
	if c.Monitor.DegradedRate <= 0 || c.Monitor.DegradedRate >= 1 {
		errs = append(errs, fmt.Errorf("monitor degraded rate must be in (0,1), got %v", c.Monitor.DegradedRate))
	}
	if c.Monitor.UnhealthyRate < c.Monitor.DegradedRate || c.Monitor.UnhealthyRate >= 1 {
		errs = append(errs, fmt.Errorf("monitor unhealthy rate %v must be in [degraded rate, 1)", c.Monitor.UnhealthyRate))
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate limit rps and burst must be positive"))
	}
	if c.Redis.Addr != "" && c.Redis.VerdictTTL <= 0 {
		errs = append(errs, errors.New("redis verdict ttl must be positive"))
	}
	if c.Automation.Enabled && c.Automation.Schedule == "" {
		errs = append(errs, errors.New("automation schedule is required when automation is enabled"))
	}
	return errors.Join(errs...)
}
