package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                       string   `mapstructure:"PORT"`
	Env                        string   `mapstructure:"ENV"`
	DatabaseURL                string   `mapstructure:"DATABASE_URL"`
	DBMaxConns                 int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                 int32    `mapstructure:"DB_MIN_CONNS"`
	HealthCheckIntervalSeconds int      `mapstructure:"HEALTH_CHECK_INTERVAL_SECONDS"`
	QueueIdleDelayMs           int      `mapstructure:"QUEUE_IDLE_DELAY_MS"`
	MaxQueueSize               int      `mapstructure:"MAX_QUEUE_SIZE"`
	RetentionDays              int      `mapstructure:"RETENTION_DAYS"`
	KeepFailedExecutions       bool     `mapstructure:"KEEP_FAILED_EXECUTIONS"`
	RateLimitRPS               float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst             int      `mapstructure:"RATE_LIMIT_BURST"`
	CORSOrigins                []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8090")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("HEALTH_CHECK_INTERVAL_SECONDS", 60)
	v.SetDefault("QUEUE_IDLE_DELAY_MS", 100)
	v.SetDefault("MAX_QUEUE_SIZE", 1000)
	v.SetDefault("RETENTION_DAYS", 30)
	v.SetDefault("KEEP_FAILED_EXECUTIONS", true)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("HEALTH_CHECK_INTERVAL_SECONDS")
	v.BindEnv("QUEUE_IDLE_DELAY_MS")
	v.BindEnv("MAX_QUEUE_SIZE")
	v.BindEnv("RETENTION_DAYS")
	v.BindEnv("KEEP_FAILED_EXECUTIONS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Durable returns true when a Postgres-backed store is configured.
// Without DATABASE_URL the orchestrator keeps workflows and executions
// in memory.
func (c *Config) Durable() bool {
	return c.DatabaseURL != ""
}

// Validate checks that the configuration is safe to run with.
func (c *Config) Validate() error {
	if c.HealthCheckIntervalSeconds <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL_SECONDS must be positive, got %d", c.HealthCheckIntervalSeconds)
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("MAX_QUEUE_SIZE must be positive, got %d", c.MaxQueueSize)
	}
	if c.QueueIdleDelayMs < 0 {
		return fmt.Errorf("QUEUE_IDLE_DELAY_MS must not be negative, got %d", c.QueueIdleDelayMs)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("RETENTION_DAYS must not be negative, got %d", c.RetentionDays)
	}
	if c.Durable() && c.DBMaxConns < c.DBMinConns {
		return fmt.Errorf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.DBMaxConns, c.DBMinConns)
	}
	return nil
}
