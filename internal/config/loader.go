package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TICKPILOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TICKPILOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Deriv ──
	setStr(&cfg.Deriv.Endpoint, "TICKPILOT_DERIV_ENDPOINT")
	setInt(&cfg.Deriv.AppID, "TICKPILOT_DERIV_APP_ID")

	// ── Session ──
	setInt(&cfg.Session.MaxReconnectAttempts, "TICKPILOT_SESSION_MAX_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Session.ReconnectBase, "TICKPILOT_SESSION_RECONNECT_BASE")
	setDuration(&cfg.Session.LivenessPeriod, "TICKPILOT_SESSION_LIVENESS_PERIOD")
	setDuration(&cfg.Session.SilenceTimeout, "TICKPILOT_SESSION_SILENCE_TIMEOUT")

	// ── Engine ──
	setInt(&cfg.Engine.TickWindow, "TICKPILOT_ENGINE_TICK_WINDOW")
	setInt(&cfg.Engine.BotBuffer, "TICKPILOT_ENGINE_BOT_BUFFER")
	setInt(&cfg.Engine.OrderRateLimit, "TICKPILOT_ENGINE_ORDER_RATE_LIMIT")
	setDuration(&cfg.Engine.OrderRateWindow, "TICKPILOT_ENGINE_ORDER_RATE_WINDOW")
	setInt(&cfg.Engine.DailyResetHour, "TICKPILOT_ENGINE_DAILY_RESET_HOUR")
	setBool(&cfg.Engine.RestoreRunning, "TICKPILOT_ENGINE_RESTORE_RUNNING")

	// ── CopyTrade ──
	setBool(&cfg.CopyTrade.Enabled, "TICKPILOT_COPYTRADE_ENABLED")
	setStr(&cfg.CopyTrade.Currency, "TICKPILOT_COPYTRADE_CURRENCY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TICKPILOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TICKPILOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TICKPILOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TICKPILOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TICKPILOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TICKPILOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TICKPILOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TICKPILOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TICKPILOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TICKPILOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TICKPILOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TICKPILOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TICKPILOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TICKPILOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TICKPILOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TICKPILOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TICKPILOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TICKPILOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TICKPILOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TICKPILOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TICKPILOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TICKPILOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TICKPILOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TICKPILOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.Hour, "TICKPILOT_ARCHIVE_HOUR")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TICKPILOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TICKPILOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TICKPILOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TICKPILOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TICKPILOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TICKPILOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TICKPILOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TICKPILOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TICKPILOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TICKPILOT_NOTIFY_EVENTS")

	// ── Vault ──
	setStr(&cfg.Vault.Passphrase, "TICKPILOT_VAULT_PASSPHRASE")

	// ── Top-level ──
	setStr(&cfg.Mode, "TICKPILOT_MODE")
	setStr(&cfg.LogLevel, "TICKPILOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
