// Package config defines the TOML-backed configuration for tickpilot and
// its validation rules.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration object. It is populated from a TOML file
// and then optionally overridden by TICKPILOT_* environment variables.
type Config struct {
	Deriv     DerivConfig     `toml:"deriv"`
	Session   SessionConfig   `toml:"session"`
	Engine    EngineConfig    `toml:"engine"`
	CopyTrade CopyTradeConfig `toml:"copytrade"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Vault     VaultConfig     `toml:"vault"`

	// Mode selects which subsystems run: "engine", "server", or "full".
	Mode string `toml:"mode"`

	// LogLevel sets the slog level: debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// DerivConfig holds venue connection parameters.
type DerivConfig struct {
	// Endpoint is the venue websocket URL without the app_id query
	// parameter, e.g. "wss://ws.derivws.com/websockets/v3".
	Endpoint string `toml:"endpoint"`
	// AppID is the registered application identifier appended to the
	// websocket URL.
	AppID int `toml:"app_id"`
}

// WSURL returns the full websocket endpoint including the app_id parameter.
func (c DerivConfig) WSURL() string {
	sep := "?"
	if strings.Contains(c.Endpoint, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sapp_id=%d", c.Endpoint, sep, c.AppID)
}

// SessionConfig holds per-user session timing and retry parameters.
type SessionConfig struct {
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReconnectBase        duration `toml:"reconnect_base"`
	LivenessPeriod       duration `toml:"liveness_period"`
	SilenceTimeout       duration `toml:"silence_timeout"`
}

// EngineConfig holds execution-engine parameters.
type EngineConfig struct {
	// TickWindow is the capacity of the shared per-symbol tick window.
	TickWindow int `toml:"tick_window"`
	// BotBuffer is the capacity of each bot's private tick buffer.
	BotBuffer int `toml:"bot_buffer"`
	// OrderRateLimit caps orders per bot within OrderRateWindow.
	OrderRateLimit  int      `toml:"order_rate_limit"`
	OrderRateWindow duration `toml:"order_rate_window"`
	// DailyResetHour is the UTC hour at which daily loss accumulators
	// are cleared.
	DailyResetHour int `toml:"daily_reset_hour"`
	// RestoreRunning re-activates bots that were running at shutdown.
	RestoreRunning bool `toml:"restore_running"`
}

// CopyTradeConfig holds replication parameters.
type CopyTradeConfig struct {
	Enabled bool `toml:"enabled"`
	// Currency is used for follower proposal requests.
	Currency string `toml:"currency"`
}

// PostgresConfig holds connection parameters for the primary store.
type PostgresConfig struct {
	// DSN, when set, takes precedence over the discrete fields below.
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds connection parameters for the cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds parameters for the S3-compatible archive store.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds the settled-trade archival schedule.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
	// Hour is the UTC hour at which the previous day is archived.
	Hour int `toml:"hour"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required as a Bearer token or X-API-Key header.
	APIKey string `toml:"api_key"`
	// RateLimit caps requests per client IP within RateWindow. Zero
	// disables API rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// VaultConfig holds the token-vault passphrase.
type VaultConfig struct {
	Passphrase string `toml:"passphrase"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Deriv: DerivConfig{
			Endpoint: "wss://ws.derivws.com/websockets/v3",
			AppID:    1089,
		},
		Session: SessionConfig{
			MaxReconnectAttempts: 5,
			ReconnectBase:        duration{2 * time.Second},
			LivenessPeriod:       duration{20 * time.Second},
			SilenceTimeout:       duration{60 * time.Second},
		},
		Engine: EngineConfig{
			TickWindow:      1000,
			BotBuffer:       100,
			OrderRateLimit:  10,
			OrderRateWindow: duration{time.Minute},
			DailyResetHour:  0,
			RestoreRunning:  true,
		},
		CopyTrade: CopyTradeConfig{
			Enabled:  true,
			Currency: "USD",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tickpilot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tickpilot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Hour:    3,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"risk_halt", "session_give_up", "daily_loss_reset"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Deriv is required whenever the engine runs.
	runsEngine := c.Mode == "engine" || c.Mode == "full"
	if runsEngine {
		if c.Deriv.Endpoint == "" {
			errs = append(errs, "deriv: endpoint must not be empty")
		}
		if c.Deriv.AppID <= 0 {
			errs = append(errs, "deriv: app_id must be positive")
		}
	}

	// Session
	if c.Session.MaxReconnectAttempts < 1 {
		errs = append(errs, "session: max_reconnect_attempts must be >= 1")
	}
	if c.Session.ReconnectBase.Duration <= 0 {
		errs = append(errs, "session: reconnect_base must be > 0")
	}
	if c.Session.LivenessPeriod.Duration <= 0 {
		errs = append(errs, "session: liveness_period must be > 0")
	}
	if c.Session.SilenceTimeout.Duration <= c.Session.LivenessPeriod.Duration {
		errs = append(errs, "session: silence_timeout must exceed liveness_period")
	}

	// Engine
	if c.Engine.TickWindow < 1 {
		errs = append(errs, "engine: tick_window must be >= 1")
	}
	if c.Engine.BotBuffer < 1 {
		errs = append(errs, "engine: bot_buffer must be >= 1")
	}
	if c.Engine.OrderRateLimit < 0 {
		errs = append(errs, "engine: order_rate_limit must be >= 0")
	}
	if c.Engine.OrderRateLimit > 0 && c.Engine.OrderRateWindow.Duration <= 0 {
		errs = append(errs, "engine: order_rate_window must be > 0 when order_rate_limit is set")
	}
	if c.Engine.DailyResetHour < 0 || c.Engine.DailyResetHour > 23 {
		errs = append(errs, fmt.Sprintf("engine: daily_reset_hour must be 0-23, got %d", c.Engine.DailyResetHour))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 settings only matter when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Hour < 0 || c.Archive.Hour > 23 {
			errs = append(errs, fmt.Sprintf("archive: hour must be 0-23, got %d", c.Archive.Hour))
		}
	}

	// Token encryption is mandatory whenever sessions are managed.
	if runsEngine && c.Vault.Passphrase == "" {
		errs = append(errs, "vault: passphrase must not be empty for mode "+c.Mode)
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
