package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
system:
  log_level: INFO
trading:
  symbol: SOL
  order_notional_usd: 20
  profit_rate_bps: 15
  order_refresh_interval_secs: 30
pacifica:
  maker_fee_bps: 1.5
  reconnect_attempts: 5
hyperliquid:
  taker_fee_bps: 4.0
  slippage: 0.005
  reconnect_attempts: 5
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfigWithDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Trading.Symbol != "SOL" {
		t.Errorf("symbol = %s, want SOL", cfg.Trading.Symbol)
	}
	if cfg.Trading.ProfitCancelThresholdBps != 3.0 {
		t.Errorf("profit cancel threshold default = %v, want 3", cfg.Trading.ProfitCancelThresholdBps)
	}
	if cfg.Trading.HedgeSettleWaitS != 20 {
		t.Errorf("hedge settle wait default = %d, want 20", cfg.Trading.HedgeSettleWaitS)
	}
	if cfg.Pacifica.PingIntervalS != 15 {
		t.Errorf("ping interval default = %d, want 15", cfg.Pacifica.PingIntervalS)
	}
	if cfg.Pacifica.RestPollIntervalS != 4 {
		t.Errorf("rest poll interval default = %d, want 4", cfg.Pacifica.RestPollIntervalS)
	}
	if cfg.Hyperliquid.BookRequestMs != 100 {
		t.Errorf("book request interval default = %d, want 100", cfg.Hyperliquid.BookRequestMs)
	}
}

func TestLoad_InvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"missing symbol",
			strings.Replace(validYAML, "symbol: SOL", "symbol: \"\"", 1),
		},
		{
			"zero profit rate",
			strings.Replace(validYAML, "profit_rate_bps: 15", "profit_rate_bps: 0", 1),
		},
		{
			"negative notional",
			strings.Replace(validYAML, "order_notional_usd: 20", "order_notional_usd: -5", 1),
		},
		{
			"ping interval above bound",
			strings.Replace(validYAML,
				"  reconnect_attempts: 5\nhyperliquid:",
				"  reconnect_attempts: 5\n  ping_interval_secs: 31\nhyperliquid:", 1),
		},
		{
			"zero reconnect attempts",
			strings.Replace(validYAML,
				"  taker_fee_bps: 4.0\n  slippage: 0.005\n  reconnect_attempts: 5",
				"  taker_fee_bps: 4.0\n  slippage: 0.005\n  reconnect_attempts: 0", 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadCredentials_Missing(t *testing.T) {
	for _, key := range []string{
		"PACIFICA_ACCOUNT_ADDRESS", "PACIFICA_API_PUBLIC", "PACIFICA_API_PRIVATE",
		"HYPERLIQUID_WALLET_ADDRESS", "HYPERLIQUID_PRIVATE_KEY",
	} {
		t.Setenv(key, "")
	}

	if _, err := LoadCredentials(); err == nil {
		t.Error("expected error with empty environment")
	}
}

func TestLoadCredentials_Complete(t *testing.T) {
	t.Setenv("PACIFICA_ACCOUNT_ADDRESS", "acct")
	t.Setenv("PACIFICA_API_PUBLIC", "pub")
	t.Setenv("PACIFICA_API_PRIVATE", "priv")
	t.Setenv("HYPERLIQUID_WALLET_ADDRESS", "0xwallet")
	t.Setenv("HYPERLIQUID_PRIVATE_KEY", "key")

	creds, err := LoadCredentials()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.PacificaAccount != "acct" || creds.HyperliquidWallet != "0xwallet" {
		t.Errorf("credentials not populated: %+v", creds)
	}
}
