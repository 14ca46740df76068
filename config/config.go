package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"chronicle/core"
	"github.com/spf13/viper"
)

// StartupMode defines how Chronicle handles initialization failures
type StartupMode string

const (
	// StartupModeStrict fails fast on any initialization error (default)
	StartupModeStrict StartupMode = "strict"
	// StartupModeGraceful starts with degraded functionality, logging warnings
	StartupModeGraceful StartupMode = "graceful"
)

// DataPaths holds all data directory and file path configuration
type DataPaths struct {
	// DataDir is the base data directory (CHRONICLE_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the rule store database (CHRONICLE_SQLITE_PATH, default: ${DataDir}/chronicle.db)
	SQLitePath string `mapstructure:"sqlite_path"`
	// RulesFile is an optional JSON or YAML seed imported at startup (CHRONICLE_RULES_FILE)
	RulesFile string `mapstructure:"rules_file"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// RateLimitConfig is a token bucket setting
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// APIConfig configures the management and ingest HTTP server
type APIConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	TLS             bool            `mapstructure:"tls"`
	CertFile        string          `mapstructure:"cert_file"`
	KeyFile         string          `mapstructure:"key_file"`
	AllowedOrigins  []string        `mapstructure:"allowed_origins"`
	TrustProxy      bool            `mapstructure:"trust_proxy"`
	MaxBodyBytes    int64           `mapstructure:"max_body_bytes"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// AuthConfig configures bearer token authentication for /api/v1
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// EngineConfig configures rule evaluation and the event worker pool
type EngineConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	ExcludedLoggers []string      `mapstructure:"excluded_loggers"`
	MaxDepth        int           `mapstructure:"max_depth"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
}

// RedisConfig configures the optional shared user role cache
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// UserCacheConfig configures the in-process user role cache
type UserCacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// NotificationsConfig configures destination delivery
type NotificationsConfig struct {
	Enabled        bool                      `mapstructure:"enabled"`
	Timeout        time.Duration             `mapstructure:"timeout"`
	RateLimit      RateLimitConfig           `mapstructure:"rate_limit"`
	CircuitBreaker core.CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// Config holds all configuration for the Chronicle service
type Config struct {
	// StartupMode controls how initialization failures are handled
	// "strict" (default): Fail fast on any error
	// "graceful": Start without the shared cache or seed rules if they fail
	StartupMode StartupMode `mapstructure:"startup_mode"`

	DataPaths     DataPaths           `mapstructure:"data_paths"`
	Log           LogConfig           `mapstructure:"log"`
	API           APIConfig           `mapstructure:"api"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Redis         RedisConfig         `mapstructure:"redis"`
	UserCache     UserCacheConfig     `mapstructure:"user_cache"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// MinJWTSecretLength is the shortest accepted HMAC signing secret
const MinJWTSecretLength = 32

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("startup_mode", string(StartupModeStrict))

	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir
	viper.SetDefault("data_paths.rules_file", "")

	viper.SetDefault("log.level", "info")

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("api.trust_proxy", false)
	viper.SetDefault("api.max_body_bytes", 1<<20)
	viper.SetDefault("api.read_timeout", 15*time.Second)
	viper.SetDefault("api.write_timeout", 30*time.Second)
	viper.SetDefault("api.shutdown_timeout", 10*time.Second)
	viper.SetDefault("api.rate_limit.requests_per_second", 50)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.issuer", "chronicle")
	viper.SetDefault("auth.token_ttl", 24*time.Hour)

	viper.SetDefault("engine.workers", 4)
	viper.SetDefault("engine.queue_size", 1000)
	viper.SetDefault("engine.excluded_loggers", []string{core.NotificationLogger})
	viper.SetDefault("engine.max_depth", 32)
	viper.SetDefault("engine.drain_timeout", 10*time.Second)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("user_cache.size", 1024)
	viper.SetDefault("user_cache.ttl", time.Minute)

	viper.SetDefault("notifications.enabled", true)
	viper.SetDefault("notifications.timeout", 10*time.Second)
	viper.SetDefault("notifications.rate_limit.requests_per_second", 1)
	viper.SetDefault("notifications.rate_limit.burst", 5)
	viper.SetDefault("notifications.circuit_breaker.max_failures", 3)
	viper.SetDefault("notifications.circuit_breaker.timeout", 60*time.Second)
	viper.SetDefault("notifications.circuit_breaker.max_half_open_requests", 1)
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("CHRONICLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Shorter names for the path settings
	_ = viper.BindEnv("startup_mode", "CHRONICLE_STARTUP_MODE")
	_ = viper.BindEnv("data_paths.data_dir", "CHRONICLE_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "CHRONICLE_SQLITE_PATH")
	_ = viper.BindEnv("data_paths.rules_file", "CHRONICLE_RULES_FILE")
	_ = viper.BindEnv("redis.password", "CHRONICLE_REDIS_PASSWORD")
	_ = viper.BindEnv("auth.jwt_secret", "CHRONICLE_JWT_SECRET")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.ResolveDataPaths()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ResolveDataPaths derives unset paths from DataDir
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "chronicle.db")
	} else if c.DataPaths.SQLitePath != ":memory:" && !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	if c.DataPaths.RulesFile != "" && !filepath.IsAbs(c.DataPaths.RulesFile) {
		c.DataPaths.RulesFile = filepath.Clean(c.DataPaths.RulesFile)
	}

	c.DataPaths.DataDir = dataDir
}

// GetDataDir returns the resolved base data directory
func (c *Config) GetDataDir() string {
	if c.DataPaths.DataDir == "" {
		return "./data"
	}
	return c.DataPaths.DataDir
}

// GetSQLitePath returns the resolved SQLite database path
func (c *Config) GetSQLitePath() string {
	if c.DataPaths.SQLitePath == "" {
		return filepath.Join(c.GetDataDir(), "chronicle.db")
	}
	return c.DataPaths.SQLitePath
}

// IsGracefulMode returns true if the startup mode is graceful
func (c *Config) IsGracefulMode() bool {
	return c.StartupMode == StartupModeGraceful
}

// Addr returns the API listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.API.Host, fmt.Sprintf("%d", c.API.Port))
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// validateConfig validates the configuration for security and correctness
func validateConfig(config *Config) error {
	switch config.StartupMode {
	case "", StartupModeStrict, StartupModeGraceful:
	default:
		return fmt.Errorf("startup_mode must be %q or %q, got %q", StartupModeStrict, StartupModeGraceful, config.StartupMode)
	}

	if !validLogLevels[strings.ToLower(config.Log.Level)] {
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", config.Log.Level)
	}

	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535 (got %d)", config.API.Port)
	}
	if config.API.TLS && (config.API.CertFile == "" || config.API.KeyFile == "") {
		return fmt.Errorf("api.cert_file and api.key_file are required when api.tls is enabled")
	}
	if config.API.MaxBodyBytes <= 0 {
		return fmt.Errorf("api.max_body_bytes must be positive")
	}
	if config.API.RateLimit.RequestsPerSecond <= 0 || config.API.RateLimit.Burst <= 0 {
		return fmt.Errorf("api.rate_limit requires positive requests_per_second and burst")
	}
	for _, origin := range config.API.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("api.allowed_origins must list explicit origins, wildcard is not allowed")
		}
	}

	if config.Auth.Enabled {
		if len(config.Auth.JWTSecret) < MinJWTSecretLength {
			return fmt.Errorf("auth.jwt_secret must be at least %d characters when auth is enabled", MinJWTSecretLength)
		}
		if config.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl must be positive")
		}
	}

	if config.Engine.Workers < 1 || config.Engine.Workers > 256 {
		return fmt.Errorf("engine.workers must be between 1 and 256 (got %d)", config.Engine.Workers)
	}
	if config.Engine.QueueSize < 1 {
		return fmt.Errorf("engine.queue_size must be positive (got %d)", config.Engine.QueueSize)
	}
	if config.Engine.MaxDepth < 1 {
		return fmt.Errorf("engine.max_depth must be positive (got %d)", config.Engine.MaxDepth)
	}

	if config.Redis.Enabled {
		if _, _, err := net.SplitHostPort(config.Redis.Addr); err != nil {
			return fmt.Errorf("redis.addr must be host:port: %w", err)
		}
		if config.Redis.DB < 0 {
			return fmt.Errorf("redis.db must not be negative")
		}
	}

	if config.UserCache.Size < 1 {
		return fmt.Errorf("user_cache.size must be positive (got %d)", config.UserCache.Size)
	}
	if config.UserCache.TTL <= 0 {
		return fmt.Errorf("user_cache.ttl must be positive")
	}

	if config.Notifications.Enabled {
		if config.Notifications.Timeout <= 0 {
			return fmt.Errorf("notifications.timeout must be positive")
		}
		if config.Notifications.RateLimit.Burst < 0 {
			return fmt.Errorf("notifications.rate_limit.burst must not be negative")
		}
		if err := config.Notifications.CircuitBreaker.Validate(); err != nil {
			return fmt.Errorf("notifications.circuit_breaker: %w", err)
		}
	}

	return nil
}
