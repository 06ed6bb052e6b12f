// Package config defines the perpbot configuration and its validation.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by PERPBOT_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Venue    VenueConfig    `toml:"venue"`
	Trade    TradeConfig    `toml:"trade"`
	Oracle   OracleConfig   `toml:"oracle"`
	Retry    RetryConfig    `toml:"retry"`
	Risk     RiskConfig     `toml:"risk"`
	Redis    RedisConfig    `toml:"redis"`
	Supabase SupabaseConfig `toml:"supabase"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the venue API signing key. Either PrivateKey or an
// encrypted key file must be set for trading.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int    `toml:"chain_id"`
}

// VenueConfig holds the exchange endpoint and account coordinates.
type VenueConfig struct {
	BaseURL        string   `toml:"base_url"`
	AccountIndex   int64    `toml:"account_index"`
	APIKeyIndex    int      `toml:"api_key_index"`
	Timeout        duration `toml:"timeout"`
	TxTTL          duration `toml:"tx_ttl"`
	OrderTTL       duration `toml:"order_ttl"`
	MarketsTimeout duration `toml:"markets_timeout"`
}

// TradeConfig is the intent executed by trade mode. MarginMode accepts a
// bool, an integer or a string such as "cross" or "isolated".
type TradeConfig struct {
	Symbol        string   `toml:"symbol"`
	USDMargin     float64  `toml:"usd_margin"`
	Leverage      int      `toml:"leverage"`
	Side          string   `toml:"side"`
	TakeProfitPct float64  `toml:"take_profit_pct"`
	StopLossPct   float64  `toml:"stop_loss_pct"`
	MarginMode    any      `toml:"margin_mode"`
	LockTTL       duration `toml:"lock_ttl"`
}

// OracleConfig configures the reference price providers, asked in
// Providers order.
type OracleConfig struct {
	Providers    []string          `toml:"providers"`
	CoinGeckoURL string            `toml:"coingecko_url"`
	BinanceURL   string            `toml:"binance_url"`
	OKXURL       string            `toml:"okx_url"`
	Timeout      duration          `toml:"timeout"`
	CoinGeckoIDs map[string]string `toml:"coingecko_ids"`
	CacheMaxAge  duration          `toml:"cache_max_age"`
}

// RetryConfig bounds order submission retries.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   duration `toml:"base_delay"`
}

// RiskConfig holds pre-trade limits. Zero disables a limit.
type RiskConfig struct {
	MaxNotionalUSD      float64  `toml:"max_notional_usd"`
	MaxLeverage         int      `toml:"max_leverage"`
	MaxDailyNotionalUSD float64  `toml:"max_daily_notional_usd"`
	AllowedSymbols      []string `toml:"allowed_symbols"`
}

// RedisConfig holds Redis connection parameters. Redis backs the trade
// lock, the API rate limiter, the trade bus and the metadata cache.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	Namespace   string   `toml:"namespace"`
	MetadataTTL duration `toml:"metadata_ttl"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters for the
// trade and audit stores.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds object storage parameters for trade receipts.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PartSize       int64  `toml:"part_size"`
}

// ServerConfig holds HTTP trigger parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	IdempotencyTTL  duration `toml:"idempotency_ttl"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes TOML strings such as "750ms" or "10m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration. It targets the venue
// testnet with the reference BTC trade.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{ChainID: 300},
		Venue: VenueConfig{
			BaseURL:        "https://testnet.zklighter.elliot.ai",
			Timeout:        duration{15 * time.Second},
			TxTTL:          duration{10 * time.Minute},
			OrderTTL:       duration{28 * 24 * time.Hour},
			MarketsTimeout: duration{10 * time.Second},
		},
		Trade: TradeConfig{
			Symbol:        "BTC",
			USDMargin:     100,
			Leverage:      5,
			Side:          "long",
			TakeProfitPct: 0.01,
			StopLossPct:   0.01,
			MarginMode:    "cross",
			LockTTL:       duration{2 * time.Minute},
		},
		Oracle: OracleConfig{
			Providers:    []string{"coingecko", "binance", "okx"},
			CoinGeckoURL: "https://api.coingecko.com/api/v3",
			BinanceURL:   "https://api.binance.com",
			OKXURL:       "https://www.okx.com",
			Timeout:      duration{10 * time.Second},
			CoinGeckoIDs: map[string]string{},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   duration{750 * time.Millisecond},
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    10,
			MaxRetries:  3,
			Namespace:   "perpbot",
			MetadataTTL: duration{5 * time.Minute},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perpbot-receipts",
			Prefix:         "receipts",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       30,
			RateWindow:      duration{time.Minute},
			IdempotencyTTL:  duration{2 * time.Minute},
			ShutdownTimeout: duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_done", "trade_partial", "trade_failed"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"trade":   true,
	"server":  true,
	"markets": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validProviders = map[string]bool{
	"coingecko": true,
	"binance":   true,
	"okx":       true,
}

// NeedsSigner reports whether the mode submits transactions.
func (c *Config) NeedsSigner() bool {
	m := strings.ToLower(c.Mode)
	return m == "trade" || m == "server"
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: trade, server, markets)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.NeedsSigner() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode %s", c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Wallet.ChainID <= 0 {
			add("wallet: chain_id must be positive")
		}
	}

	if c.Venue.BaseURL == "" {
		add("venue: base_url must not be empty")
	}
	if c.Venue.AccountIndex < 0 {
		add("venue: account_index must be >= 0")
	}
	if c.Venue.APIKeyIndex < 0 || c.Venue.APIKeyIndex > 255 {
		add("venue: api_key_index must be 0-255, got %d", c.Venue.APIKeyIndex)
	}

	for _, f := range []struct {
		name string
		v    float64
	}{
		{"trade: usd_margin", c.Trade.USDMargin},
		{"trade: take_profit_pct", c.Trade.TakeProfitPct},
		{"trade: stop_loss_pct", c.Trade.StopLossPct},
		{"risk: max_notional_usd", c.Risk.MaxNotionalUSD},
		{"risk: max_daily_notional_usd", c.Risk.MaxDailyNotionalUSD},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			add("%s must be a finite number, got %v", f.name, f.v)
		}
	}

	if strings.ToLower(c.Mode) == "trade" {
		if strings.TrimSpace(c.Trade.Symbol) == "" {
			add("trade: symbol must not be empty")
		}
		if c.Trade.USDMargin <= 0 {
			add("trade: usd_margin must be > 0")
		}
		if c.Trade.Leverage < 1 {
			add("trade: leverage must be >= 1")
		}
		if c.Trade.TakeProfitPct < 0 || c.Trade.StopLossPct < 0 {
			add("trade: take_profit_pct and stop_loss_pct must be >= 0")
		}
		if c.Trade.StopLossPct >= 1 {
			add("trade: stop_loss_pct must be < 1")
		}
	}
	if _, err := ParseSide(c.Trade.Side); err != nil {
		add("trade: %v", err)
	}

	if len(c.Oracle.Providers) == 0 {
		add("oracle: providers must not be empty")
	}
	for _, p := range c.Oracle.Providers {
		if !validProviders[strings.ToLower(p)] {
			add("oracle: unknown provider %q (valid: coingecko, binance, okx)", p)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		add("retry: max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay.Duration < 0 {
		add("retry: base_delay must not be negative")
	}

	if c.Risk.MaxNotionalUSD < 0 || c.Risk.MaxDailyNotionalUSD < 0 || c.Risk.MaxLeverage < 0 {
		add("risk: limits must not be negative")
	}
	if c.Risk.MaxDailyNotionalUSD > 0 && !c.Supabase.Enabled {
		add("risk: max_daily_notional_usd requires supabase.enabled")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				add("supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				add("supabase: port must be 1-65535, got %d", c.Supabase.Port)
			}
			if c.Supabase.Database == "" {
				add("supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			add("supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			add("supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}

	if strings.ToLower(c.Mode) == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
