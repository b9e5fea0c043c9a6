package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "engine"

[deriv]
app_id = 4242

[session]
silence_timeout = "90s"

[vault]
passphrase = "hunter2"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "engine" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Deriv.AppID != 4242 {
		t.Errorf("app_id = %d", cfg.Deriv.AppID)
	}
	if cfg.Session.SilenceTimeout.Duration != 90*time.Second {
		t.Errorf("silence_timeout = %v", cfg.Session.SilenceTimeout.Duration)
	}
	// Untouched fields keep their defaults.
	if cfg.Session.MaxReconnectAttempts != 5 {
		t.Errorf("max_reconnect_attempts = %d, want default 5", cfg.Session.MaxReconnectAttempts)
	}
	if cfg.Engine.TickWindow != 1000 {
		t.Errorf("tick_window = %d, want default 1000", cfg.Engine.TickWindow)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("TICKPILOT_REDIS_ADDR", "cache.internal:6380")
	t.Setenv("TICKPILOT_ENGINE_ORDER_RATE_WINDOW", "30s")
	t.Setenv("TICKPILOT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TICKPILOT_POSTGRES_RUN_MIGRATIONS", "false")

	path := writeConfig(t, `
[redis]
addr = "file-wins-not:6379"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Redis.Addr != "cache.internal:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Engine.OrderRateWindow.Duration != 30*time.Second {
		t.Errorf("order_rate_window = %v", cfg.Engine.OrderRateWindow.Duration)
	}
	if got := cfg.Server.CORSOrigins; len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("cors_origins = %v", got)
	}
	if cfg.Postgres.RunMigrations {
		t.Error("run_migrations not overridden to false")
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sideways"
	cfg.Redis.Addr = ""
	cfg.Engine.TickWindow = 0
	cfg.Vault.Passphrase = "" // required for full mode

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"unknown mode", "redis: addr", "tick_window", "vault: passphrase"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateServerModeSkipsEngineRequirements(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Deriv.AppID = 0
	cfg.Vault.Passphrase = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("server mode should not require venue or vault settings: %v", err)
	}
}

func TestWSURLAppendsAppID(t *testing.T) {
	d := DerivConfig{Endpoint: "wss://ws.derivws.com/websockets/v3", AppID: 1089}
	if got := d.WSURL(); got != "wss://ws.derivws.com/websockets/v3?app_id=1089" {
		t.Errorf("WSURL = %q", got)
	}
	d.Endpoint = "wss://host/v3?lang=en"
	if got := d.WSURL(); got != "wss://host/v3?lang=en&app_id=1089" {
		t.Errorf("WSURL with existing query = %q", got)
	}
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.Vault.Passphrase = "vault-secret"

	red := RedactedConfig(&cfg)
	for name, got := range map[string]string{
		"postgres password": red.Postgres.Password,
		"redis password":    red.Redis.Password,
		"s3 secret key":     red.S3.SecretKey,
		"server api key":    red.Server.APIKey,
		"vault passphrase":  red.Vault.Passphrase,
	} {
		if got != "***" {
			t.Errorf("%s not redacted: %q", name, got)
		}
	}
	// The original is untouched.
	if cfg.Vault.Passphrase != "vault-secret" {
		t.Error("RedactedConfig mutated the original")
	}
}
