// Package config loads runtime configuration for every service in the
// platform. Grounded on the teacher's pkg/config/config.go (viper-based,
// config-file-with-env-override), adapted to bind the exact environment
// variable names the platform's external interface contract names rather
// than the teacher's FF_-prefixed nested-dot convention.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds every setting a service process needs. Individual binaries
// (cmd/evaluation-service, cmd/control-plane) read only the sections they
// need.
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	NATS       NATSConfig
	Server     ServerConfig
	Auth       AuthConfig
	Logging    LoggingConfig
}

type DatabaseConfig struct {
	Host        string
	Port        int
	Name        string
	User        string
	Password    string
	SSLMode     string
	MaxConns    int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	User     string
	Password string
}

type NATSConfig struct {
	URL string
}

type ServerConfig struct {
	ControlPlanePort    int
	EvaluationPort      int
	MetricsPort         int
	CORSEnabled         bool
	RequestLogging      bool
	Environment         string
}

type AuthConfig struct {
	APIKey string
}

type LoggingConfig struct {
	Level string
}

// Load reads configuration from environment variables, matching the names
// listed in the platform's external interface contract exactly, with a
// config.yaml file (searched in ., ./config, /etc/feature-flags) as a
// lower-priority source — grounded on the teacher's file-search order.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/feature-flags")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	bindEnv(v)

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASS"),
			SSLMode:  v.GetString("DB_SSL"),
			MaxConns: v.GetInt("DB_MAX_CONNECTIONS"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Prefix:   v.GetString("REDIS_PREFIX"),
		},
		Server: ServerConfig{
			ControlPlanePort: v.GetInt("CONTROL_PLANE_PORT"),
			EvaluationPort:   v.GetInt("EVALUATION_SERVICE_PORT"),
			MetricsPort:      v.GetInt("METRICS_PORT"),
			CORSEnabled:      v.GetBool("CORS_ENABLED"),
			RequestLogging:   v.GetBool("REQUEST_LOGGING"),
			Environment:      resolveEnvironment(v),
		},
		ClickHouse: ClickHouseConfig{
			Addr:     v.GetString("CLICKHOUSE_ADDR"),
			Database: v.GetString("CLICKHOUSE_DATABASE"),
			User:     v.GetString("CLICKHOUSE_USER"),
			Password: v.GetString("CLICKHOUSE_PASSWORD"),
		},
		NATS: NATSConfig{
			URL: v.GetString("NATS_URL"),
		},
		Auth: AuthConfig{
			APIKey: v.GetString("API_KEY"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolveEnvironment implements the NODE_ENV -> ENVIRONMENT legacy alias
// spec.md §6 names.
func resolveEnvironment(v *viper.Viper) string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	if legacy := os.Getenv("NODE_ENV"); legacy != "" {
		return legacy
	}
	// Config file value, or the "development" default.
	return v.GetString("ENVIRONMENT")
}

func bindEnv(v *viper.Viper) {
	names := []string{
		"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASS", "DB_SSL", "DB_MAX_CONNECTIONS",
		"REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB", "REDIS_PREFIX",
		"CONTROL_PLANE_PORT", "EVALUATION_SERVICE_PORT", "METRICS_PORT", "CORS_ENABLED", "REQUEST_LOGGING",
		"API_KEY", "LOG_LEVEL", "ENVIRONMENT",
		"CLICKHOUSE_ADDR", "CLICKHOUSE_DATABASE", "CLICKHOUSE_USER", "CLICKHOUSE_PASSWORD", "NATS_URL",
	}
	for _, n := range names {
		_ = v.BindEnv(n)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "feature_flags")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_SSL", "disable")
	v.SetDefault("DB_MAX_CONNECTIONS", 20)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "ff")

	v.SetDefault("CONTROL_PLANE_PORT", 8080)
	v.SetDefault("EVALUATION_SERVICE_PORT", 8081)
	v.SetDefault("METRICS_PORT", 9090)
	v.SetDefault("CORS_ENABLED", true)
	v.SetDefault("REQUEST_LOGGING", true)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ENVIRONMENT", "development")

	v.SetDefault("CLICKHOUSE_DATABASE", "default")
	v.SetDefault("CLICKHOUSE_USER", "default")
	v.SetDefault("NATS_URL", "nats://127.0.0.1:4222")
}

// Validate checks the minimal set of settings every service needs to boot.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	return nil
}

// DatabaseDSN returns the pgx connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Name, c.Database.SSLMode)
}

// RedisAddr returns the host:port Redis address.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
