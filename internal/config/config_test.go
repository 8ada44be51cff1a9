package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadUsesDefaultsAndYAMLOverrides(t *testing.T) {
	clearConfigEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	yaml := `
payments:
  exchange_rate: 12
  token_past_window: 30m
limits:
  gateway_create:
    limit: 7
    window: 2m
yookassa:
  return_url: https://t.me/tgshop_bot
jobs:
  reconcile_interval: 90s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Payments.ExchangeRate != 12 {
		t.Fatalf("unexpected exchange rate: %d", cfg.Payments.ExchangeRate)
	}
	if cfg.Payments.TokenPastWindow != 30*time.Minute {
		t.Fatalf("unexpected token past window: %s", cfg.Payments.TokenPastWindow)
	}
	if cfg.Limits.GatewayCreate.Limit != 7 || cfg.Limits.GatewayCreate.Window != 2*time.Minute {
		t.Fatalf("unexpected gateway create limit: %+v", cfg.Limits.GatewayCreate)
	}
	if cfg.YooKassa.ReturnURL != "https://t.me/tgshop_bot" {
		t.Fatalf("unexpected return url: %s", cfg.YooKassa.ReturnURL)
	}
	if cfg.Jobs.ReconcileInterval != 90*time.Second {
		t.Fatalf("unexpected reconcile interval: %s", cfg.Jobs.ReconcileInterval)
	}

	// untouched defaults survive a partial yaml
	if cfg.Payments.TokenFutureSkew != 5*time.Minute {
		t.Fatalf("unexpected token future skew default: %s", cfg.Payments.TokenFutureSkew)
	}
	if cfg.Limits.GatewayCheck.Limit != 10 {
		t.Fatalf("unexpected gateway check default: %d", cfg.Limits.GatewayCheck.Limit)
	}
}

func TestLoadEnvOverridesWinOverYAML(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_IDS", "42, 77")
	t.Setenv("STARS_PAYLOAD_SECRET", "env-secret")
	t.Setenv("STARS_EXCHANGE_RATE", "20")
	t.Setenv("YOOKASSA_SHOP_ID", "shop-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Bot.Token != "123:abc" {
		t.Fatalf("unexpected bot token: %s", cfg.Bot.Token)
	}
	if len(cfg.Bot.AdminIDs) != 2 || cfg.Bot.AdminIDs[0] != 42 || cfg.Bot.AdminIDs[1] != 77 {
		t.Fatalf("unexpected admin ids: %v", cfg.Bot.AdminIDs)
	}
	if cfg.Payments.TokenSecret != "env-secret" {
		t.Fatalf("unexpected token secret: %s", cfg.Payments.TokenSecret)
	}
	if cfg.Payments.ExchangeRate != 20 {
		t.Fatalf("unexpected exchange rate: %d", cfg.Payments.ExchangeRate)
	}
	if cfg.YooKassa.ShopID != "shop-1" {
		t.Fatalf("unexpected yookassa shop id: %s", cfg.YooKassa.ShopID)
	}
}

func TestLoadRejectsMalformedAdminIDs(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ADMIN_IDS", "42,abc")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for malformed ADMIN_IDS")
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()

	keys := []string{
		"APP_ENV", "HTTP_ADDR", "HTTP_READ_TIMEOUT", "HTTP_WRITE_TIMEOUT", "HTTP_IDLE_TIMEOUT",
		"LOG_LEVEL", "POSTGRES_DSN", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"BOT_TOKEN", "ADMIN_IDS", "SUPPORT_CONTACT",
		"YOOKASSA_SHOP_ID", "YOOKASSA_SECRET_KEY", "YOOKASSA_WEBHOOK_SECRET",
		"YOOKASSA_API_BASE_URL", "YOOKASSA_RETURN_URL", "YOOKASSA_TIMEOUT",
		"STARS_PAYLOAD_SECRET", "TOKEN_PAST_WINDOW", "TOKEN_FUTURE_SKEW",
		"STARS_EXCHANGE_RATE", "BACKUP_DIR",
	}
	for _, key := range keys {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}
