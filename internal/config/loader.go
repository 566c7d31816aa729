package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads and validates the configuration file. The returned Config is
// immutable for the lifetime of the process.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("system.log_level", "INFO")
	v.SetDefault("system.metrics_addr", ":9090")
	v.SetDefault("trading.profit_cancel_threshold_bps", 3.0)
	v.SetDefault("trading.hedge_settle_wait_secs", 20)
	v.SetDefault("trading.cancel_grace_period_secs", 1)
	v.SetDefault("pacifica.ws_url", "wss://ws.pacifica.fi/ws")
	v.SetDefault("pacifica.rest_url", "https://api.pacifica.fi/api/v1")
	v.SetDefault("pacifica.ping_interval_secs", 15)
	v.SetDefault("pacifica.rest_poll_interval_secs", 4)
	v.SetDefault("pacifica.fill_backup_poll_ms", 500)
	v.SetDefault("pacifica.agg_level", 1)
	v.SetDefault("hyperliquid.ws_url", "wss://api.hyperliquid.xyz/ws")
	v.SetDefault("hyperliquid.rest_url", "https://api.hyperliquid.xyz")
	v.SetDefault("hyperliquid.ping_interval_secs", 15)
	v.SetDefault("hyperliquid.book_request_interval_ms", 100)
	v.SetDefault("persistence.trade_log_csv", "data/trade_history.csv")
	v.SetDefault("persistence.archive_db", "data/cycles.db")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadCredentials pulls venue credentials from the environment. A .env file
// next to the binary is honored when present.
func LoadCredentials() (*Credentials, error) {
	_ = godotenv.Load()

	creds := &Credentials{
		PacificaAccount:    os.Getenv("PACIFICA_ACCOUNT_ADDRESS"),
		PacificaAPIPublic:  os.Getenv("PACIFICA_API_PUBLIC"),
		PacificaAPIPrivate: os.Getenv("PACIFICA_API_PRIVATE"),
		HyperliquidWallet:  os.Getenv("HYPERLIQUID_WALLET_ADDRESS"),
		HyperliquidKey:     os.Getenv("HYPERLIQUID_PRIVATE_KEY"),
	}

	var missing []string
	if creds.PacificaAccount == "" {
		missing = append(missing, "PACIFICA_ACCOUNT_ADDRESS")
	}
	if creds.PacificaAPIPublic == "" {
		missing = append(missing, "PACIFICA_API_PUBLIC")
	}
	if creds.PacificaAPIPrivate == "" {
		missing = append(missing, "PACIFICA_API_PRIVATE")
	}
	if creds.HyperliquidWallet == "" {
		missing = append(missing, "HYPERLIQUID_WALLET_ADDRESS")
	}
	if creds.HyperliquidKey == "" {
		missing = append(missing, "HYPERLIQUID_PRIVATE_KEY")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing credentials in environment: %v", missing)
	}

	return creds, nil
}
