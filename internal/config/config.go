package config

import "time"

type Config struct {
	System      SystemConfig      `mapstructure:"system" validate:"required"`
	Trading     TradingConfig     `mapstructure:"trading" validate:"required"`
	Pacifica    PacificaConfig    `mapstructure:"pacifica" validate:"required"`
	Hyperliquid HyperliquidConfig `mapstructure:"hyperliquid" validate:"required"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

type SystemConfig struct {
	LogLevel    string `mapstructure:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type TradingConfig struct {
	Symbol                   string  `mapstructure:"symbol" validate:"required"`
	OrderNotionalUSD         float64 `mapstructure:"order_notional_usd" validate:"required,gt=0"`
	ProfitRateBps            float64 `mapstructure:"profit_rate_bps" validate:"required,gt=0"`
	ProfitCancelThresholdBps float64 `mapstructure:"profit_cancel_threshold_bps" validate:"required,gt=0"`
	OrderRefreshIntervalS    int     `mapstructure:"order_refresh_interval_secs" validate:"required,gt=0"`
	HedgeSettleWaitS         int     `mapstructure:"hedge_settle_wait_secs" validate:"gte=0"`
	CancelGracePeriodS       int     `mapstructure:"cancel_grace_period_secs" validate:"gte=0"`
}

func (c TradingConfig) OrderRefreshInterval() time.Duration {
	return time.Duration(c.OrderRefreshIntervalS) * time.Second
}

func (c TradingConfig) HedgeSettleWait() time.Duration {
	return time.Duration(c.HedgeSettleWaitS) * time.Second
}

func (c TradingConfig) CancelGracePeriod() time.Duration {
	return time.Duration(c.CancelGracePeriodS) * time.Second
}

type PacificaConfig struct {
	WsURL              string  `mapstructure:"ws_url" validate:"required,url"`
	RestURL            string  `mapstructure:"rest_url" validate:"required,url"`
	MakerFeeBps        float64 `mapstructure:"maker_fee_bps" validate:"gte=0"`
	AggLevel           int     `mapstructure:"agg_level" validate:"gte=0"`
	ReconnectAttempts  int     `mapstructure:"reconnect_attempts" validate:"required,gte=1"`
	PingIntervalS      int     `mapstructure:"ping_interval_secs" validate:"required,gte=1,lte=30"`
	RestPollIntervalS  int     `mapstructure:"rest_poll_interval_secs" validate:"required,gt=0"`
	FillBackupPollMs   int     `mapstructure:"fill_backup_poll_ms" validate:"gt=0"`
}

func (c PacificaConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalS) * time.Second
}

func (c PacificaConfig) RestPollInterval() time.Duration {
	return time.Duration(c.RestPollIntervalS) * time.Second
}

func (c PacificaConfig) FillBackupPoll() time.Duration {
	return time.Duration(c.FillBackupPollMs) * time.Millisecond
}

type HyperliquidConfig struct {
	WsURL             string  `mapstructure:"ws_url" validate:"required,url"`
	RestURL           string  `mapstructure:"rest_url" validate:"required,url"`
	TakerFeeBps       float64 `mapstructure:"taker_fee_bps" validate:"gte=0"`
	Slippage          float64 `mapstructure:"slippage" validate:"gte=0,lt=1"`
	ReconnectAttempts int     `mapstructure:"reconnect_attempts" validate:"required,gte=1"`
	PingIntervalS     int     `mapstructure:"ping_interval_secs" validate:"required,gte=1,lte=30"`
	BookRequestMs     int     `mapstructure:"book_request_interval_ms" validate:"gt=0"`
}

func (c HyperliquidConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalS) * time.Second
}

func (c HyperliquidConfig) BookRequestInterval() time.Duration {
	return time.Duration(c.BookRequestMs) * time.Millisecond
}

type PersistenceConfig struct {
	TradeLogCSV  string `mapstructure:"trade_log_csv"`
	ArchiveDB    string `mapstructure:"archive_db"`
	ColdStoreDSN string `mapstructure:"cold_store_dsn"`
}

type MonitoringConfig struct {
	AlertChannels []string `mapstructure:"alert_channels"`
}

// Credentials are loaded from the environment, never from the config file,
// and must never be logged or persisted.
type Credentials struct {
	PacificaAccount    string
	PacificaAPIPublic  string
	PacificaAPIPrivate string // 64-byte Ed25519 seed, base58 or hex
	HyperliquidWallet  string
	HyperliquidKey     string // secp256k1 private key, hex
}
