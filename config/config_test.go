package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chronicle/core"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConfig returns a valid Config for testing
func newTestConfig() Config {
	return Config{
		StartupMode: StartupModeStrict,
		DataPaths:   DataPaths{DataDir: "./data"},
		Log:         LogConfig{Level: "info"},
		API: APIConfig{
			Host:         "127.0.0.1",
			Port:         8081,
			MaxBodyBytes: 1 << 20,
			RateLimit:    RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
		},
		Engine: EngineConfig{
			Workers:         2,
			QueueSize:       100,
			ExcludedLoggers: []string{core.NotificationLogger},
			MaxDepth:        32,
		},
		UserCache: UserCacheConfig{Size: 16, TTL: time.Minute},
		Notifications: NotificationsConfig{
			Enabled:        true,
			Timeout:        5 * time.Second,
			RateLimit:      RateLimitConfig{RequestsPerSecond: 1, Burst: 5},
			CircuitBreaker: core.DefaultCircuitBreakerConfig(),
		},
	}
}

// loadInDir runs LoadConfig from an empty working directory with a clean viper
func loadInDir(t *testing.T, configYAML string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	if configYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0600))
	}
	t.Chdir(dir)
	return LoadConfig()
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadInDir(t, "")
	require.NoError(t, err)

	assert.Equal(t, StartupModeStrict, cfg.StartupMode)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 8081, cfg.API.Port)
	assert.Equal(t, filepath.Join("data", "chronicle.db"), filepath.Clean(cfg.GetSQLitePath()))
	assert.Equal(t, []string{core.NotificationLogger}, cfg.Engine.ExcludedLoggers)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Minute, cfg.UserCache.TTL)
	assert.Equal(t, uint32(3), cfg.Notifications.CircuitBreaker.MaxFailures)
	assert.Equal(t, 60*time.Second, cfg.Notifications.CircuitBreaker.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Notifications.Timeout)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "chronicle", cfg.Auth.Issuer)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := loadInDir(t, `
log:
  level: debug
api:
  port: 9000
engine:
  workers: 8
  excluded_loggers: [AlertNotificationLogger, NoisyLogger]
notifications:
  timeout: 3s
  circuit_breaker:
    max_failures: 5
`)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, []string{"AlertNotificationLogger", "NoisyLogger"}, cfg.Engine.ExcludedLoggers)
	assert.Equal(t, 3*time.Second, cfg.Notifications.Timeout)
	assert.Equal(t, uint32(5), cfg.Notifications.CircuitBreaker.MaxFailures)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CHRONICLE_SQLITE_PATH", "/tmp/rules.db")
	t.Setenv("CHRONICLE_API_PORT", "9100")
	t.Setenv("CHRONICLE_LOG_LEVEL", "warn")

	cfg, err := loadInDir(t, "")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/rules.db", cfg.GetSQLitePath())
	assert.Equal(t, 9100, cfg.API.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	_, err := loadInDir(t, "api: [unclosed")
	require.Error(t, err)
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	_, err := loadInDir(t, "engine:\n  workers: 0\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.workers")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad startup mode", func(c *Config) { c.StartupMode = "lazy" }, "startup_mode"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"port zero", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"port too high", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"tls without cert", func(c *Config) { c.API.TLS = true }, "cert_file"},
		{"wildcard origin", func(c *Config) { c.API.AllowedOrigins = []string{"*"} }, "wildcard"},
		{"no body limit", func(c *Config) { c.API.MaxBodyBytes = 0 }, "max_body_bytes"},
		{"no api rate", func(c *Config) { c.API.RateLimit.Burst = 0 }, "api.rate_limit"},
		{"queue size", func(c *Config) { c.Engine.QueueSize = 0 }, "engine.queue_size"},
		{"depth", func(c *Config) { c.Engine.MaxDepth = 0 }, "engine.max_depth"},
		{"redis addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "localhost" }, "redis.addr"},
		{"redis disabled ignores addr", func(c *Config) { c.Redis.Addr = "localhost" }, ""},
		{"cache size", func(c *Config) { c.UserCache.Size = 0 }, "user_cache.size"},
		{"cache ttl", func(c *Config) { c.UserCache.TTL = 0 }, "user_cache.ttl"},
		{"notify timeout", func(c *Config) { c.Notifications.Timeout = 0 }, "notifications.timeout"},
		{"breaker", func(c *Config) { c.Notifications.CircuitBreaker.MaxFailures = 0 }, "circuit_breaker"},
		{"auth short secret", func(c *Config) { c.Auth = AuthConfig{Enabled: true, JWTSecret: "short", TokenTTL: time.Hour} }, "auth.jwt_secret"},
		{"auth no ttl", func(c *Config) {
			c.Auth = AuthConfig{Enabled: true, JWTSecret: strings.Repeat("s", MinJWTSecretLength)}
		}, "auth.token_ttl"},
		{"auth ok", func(c *Config) {
			c.Auth = AuthConfig{Enabled: true, JWTSecret: strings.Repeat("s", MinJWTSecretLength), TokenTTL: time.Hour}
		}, ""},
		{"notifications disabled", func(c *Config) {
			c.Notifications.Enabled = false
			c.Notifications.Timeout = 0
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig()
			tt.mutate(&cfg)
			err := validateConfig(&cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveDataPaths(t *testing.T) {
	cfg := Config{DataPaths: DataPaths{DataDir: "/var/lib/chronicle", RulesFile: "./rules/../rules.yaml"}}
	cfg.ResolveDataPaths()

	assert.Equal(t, "/var/lib/chronicle/chronicle.db", cfg.GetSQLitePath())
	assert.Equal(t, "rules.yaml", cfg.DataPaths.RulesFile)

	mem := Config{DataPaths: DataPaths{SQLitePath: ":memory:"}}
	mem.ResolveDataPaths()
	assert.Equal(t, ":memory:", mem.GetSQLitePath())
	assert.Equal(t, "./data", mem.GetDataDir())
}

func TestAddrAndMode(t *testing.T) {
	cfg := newTestConfig()
	assert.Equal(t, "127.0.0.1:8081", cfg.Addr())
	assert.False(t, cfg.IsGracefulMode())
	cfg.StartupMode = StartupModeGraceful
	assert.True(t, cfg.IsGracefulMode())
}
