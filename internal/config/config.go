// Package config loads the nested configuration keys (server.*, auth.*,
// features.*) from a YAML file with environment-variable overrides,
// grounded on the viper usage pattern shared by every service in the
// ShopMindAI example (`cfg, err := config.Load()` in each
// cmd/server/main.go).
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config mirrors every recognized configuration option.
type Config struct {
	Server struct {
		Port             int           `mapstructure:"port"`
		DBURL            string        `mapstructure:"db_url"`
		BaseDir          string        `mapstructure:"base_dir"`
		MaxUploadSize    int64         `mapstructure:"max_upload_size"`
		RequestTimeoutMs time.Duration `mapstructure:"request_timeout_ms"`
		ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
	} `mapstructure:"server"`

	Auth struct {
		PublicKeyPath          string        `mapstructure:"pk"`
		PrivateKeyPath         string        `mapstructure:"sk"`
		TokenExpiration        time.Duration `mapstructure:"token_expiration"`
		RefreshTokenExpiration time.Duration `mapstructure:"refresh_token_expiration"`
		RefreshAbsoluteExpiry  time.Duration `mapstructure:"refresh_absolute_expiration"`
	} `mapstructure:"auth"`

	Features struct {
		Cache struct {
			Enabled bool          `mapstructure:"enabled"`
			URL     string        `mapstructure:"url"`
			TTL     time.Duration `mapstructure:"ttl"`
		} `mapstructure:"cache"`

		Search struct {
			Enabled        bool          `mapstructure:"enabled"`
			URL            string        `mapstructure:"url"`
			APIKey         string        `mapstructure:"api_key"`
			BatchSize      int           `mapstructure:"batch_size"`
			BatchTimeoutMs time.Duration `mapstructure:"batch_timeout_ms"`
		} `mapstructure:"search"`

		Messaging struct {
			Enabled     bool   `mapstructure:"enabled"`
			URL         string `mapstructure:"url"`
			Stream      string `mapstructure:"stream"`
			EditWindow  time.Duration `mapstructure:"edit_window_ms"`
			OutboxLimit int           `mapstructure:"outbox_high_water"`
		} `mapstructure:"messaging"`

		Notifications struct {
			SSEMaxConnections   int           `mapstructure:"sse_max_connections"`
			HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval_ms"`
			ConnectionTimeout   time.Duration `mapstructure:"connection_timeout_ms"`
			BufferHighWater     int           `mapstructure:"buffer_high_water"`
		} `mapstructure:"notifications"`

		RateLimiting struct {
			Enabled           bool `mapstructure:"enabled"`
			RequestsPerMinute int  `mapstructure:"requests_per_minute"`
		} `mapstructure:"rate_limiting"`

		Observability struct {
			LogLevel   string `mapstructure:"log_level"`
			MetricsPort int   `mapstructure:"metrics_port"`
		} `mapstructure:"observability"`
	} `mapstructure:"features"`
}

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv resolves ${NAME} placeholders against the process environment;
// environment variables override file values where placeholder syntax
// ${NAME} appears.
func expandEnv(raw []byte) []byte {
	return placeholderRe.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := placeholderRe.FindSubmatch(m)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return m
	})
}

// Load reads a YAML config file at path (if non-empty and present),
// expands ${NAME} placeholders, layers environment variable overrides on
// top (FECHATTER_SERVER_PORT etc, viper's AutomaticEnv with a "_" key
// replacer), and fills in sane defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			if err := v.ReadConfig(bytes.NewReader(expandEnv(raw))); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix("FECHATTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_size", 20<<20)
	v.SetDefault("server.request_timeout_ms", 30*time.Second)
	v.SetDefault("server.shutdown_grace", 15*time.Second)

	v.SetDefault("auth.token_expiration", 15*time.Minute)
	v.SetDefault("auth.refresh_token_expiration", 30*24*time.Hour)
	v.SetDefault("auth.refresh_absolute_expiration", 90*24*time.Hour)

	v.SetDefault("features.cache.enabled", true)
	v.SetDefault("features.cache.ttl", 5*time.Minute)

	v.SetDefault("features.search.enabled", true)
	v.SetDefault("features.search.batch_size", 10)
	v.SetDefault("features.search.batch_timeout_ms", 1000*time.Millisecond)

	v.SetDefault("features.messaging.enabled", true)
	v.SetDefault("features.messaging.edit_window_ms", 15*time.Minute)
	v.SetDefault("features.messaging.outbox_high_water", 10000)

	v.SetDefault("features.notifications.sse_max_connections", 10000)
	v.SetDefault("features.notifications.heartbeat_interval_ms", 30*time.Second)
	v.SetDefault("features.notifications.connection_timeout_ms", 300*time.Second)
	v.SetDefault("features.notifications.buffer_high_water", 1000)

	v.SetDefault("features.rate_limiting.enabled", true)
	v.SetDefault("features.rate_limiting.requests_per_minute", 600)

	v.SetDefault("features.observability.log_level", "info")
	v.SetDefault("features.observability.metrics_port", 9090)
}
