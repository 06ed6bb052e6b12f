package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, loads .env if present
// and applies PERPBOT_* overrides. A missing file is not an error when path
// is empty. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose PERPBOT_* variable is set and
// non-empty, so secrets can be injected at deploy time. Legacy names are
// applied first so the PERPBOT_* form wins.
func applyEnvOverrides(cfg *Config) {
	// wallet
	setStr(&cfg.Wallet.PrivateKey, "LIGHTER_API_PRIVATE_KEY") // legacy name
	setStr(&cfg.Wallet.PrivateKey, "PERPBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "PERPBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PERPBOT_WALLET_KEY_PASSWORD")
	setInt(&cfg.Wallet.ChainID, "PERPBOT_WALLET_CHAIN_ID")

	// venue
	setStr(&cfg.Venue.BaseURL, "PERPBOT_VENUE_BASE_URL")
	setInt64(&cfg.Venue.AccountIndex, "PERPBOT_VENUE_ACCOUNT_INDEX")
	setInt(&cfg.Venue.APIKeyIndex, "PERPBOT_VENUE_API_KEY_INDEX")
	setDuration(&cfg.Venue.Timeout, "PERPBOT_VENUE_TIMEOUT")

	// trade
	setStr(&cfg.Trade.Symbol, "PERPBOT_TRADE_SYMBOL")
	setFloat64(&cfg.Trade.USDMargin, "PERPBOT_TRADE_USD_MARGIN")
	setInt(&cfg.Trade.Leverage, "PERPBOT_TRADE_LEVERAGE")
	setStr(&cfg.Trade.Side, "PERPBOT_TRADE_SIDE")
	setFloat64(&cfg.Trade.TakeProfitPct, "PERPBOT_TRADE_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Trade.StopLossPct, "PERPBOT_TRADE_STOP_LOSS_PCT")
	if v := os.Getenv("PERPBOT_TRADE_MARGIN_MODE"); v != "" {
		cfg.Trade.MarginMode = v
	}

	// oracle
	setStringSlice(&cfg.Oracle.Providers, "PERPBOT_ORACLE_PROVIDERS")
	setStr(&cfg.Oracle.CoinGeckoURL, "PERPBOT_ORACLE_COINGECKO_URL")
	setStr(&cfg.Oracle.BinanceURL, "PERPBOT_ORACLE_BINANCE_URL")
	setStr(&cfg.Oracle.OKXURL, "PERPBOT_ORACLE_OKX_URL")
	setDuration(&cfg.Oracle.Timeout, "PERPBOT_ORACLE_TIMEOUT")

	// retry
	setInt(&cfg.Retry.MaxAttempts, "PERPBOT_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "PERPBOT_RETRY_BASE_DELAY")

	// risk
	setFloat64(&cfg.Risk.MaxNotionalUSD, "PERPBOT_RISK_MAX_NOTIONAL_USD")
	setInt(&cfg.Risk.MaxLeverage, "PERPBOT_RISK_MAX_LEVERAGE")
	setFloat64(&cfg.Risk.MaxDailyNotionalUSD, "PERPBOT_RISK_MAX_DAILY_NOTIONAL_USD")
	setStringSlice(&cfg.Risk.AllowedSymbols, "PERPBOT_RISK_ALLOWED_SYMBOLS")

	// redis
	setBool(&cfg.Redis.Enabled, "PERPBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PERPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PERPBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "PERPBOT_REDIS_NAMESPACE")

	// supabase
	setBool(&cfg.Supabase.Enabled, "PERPBOT_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "PERPBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "PERPBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "PERPBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "PERPBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "PERPBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "PERPBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "PERPBOT_SUPABASE_SSL_MODE")
	setBool(&cfg.Supabase.RunMigrations, "PERPBOT_SUPABASE_RUN_MIGRATIONS")

	// s3
	setBool(&cfg.S3.Enabled, "PERPBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PERPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "PERPBOT_S3_FORCE_PATH_STYLE")

	// server
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "PERPBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PERPBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PERPBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "PERPBOT_SERVER_RATE_LIMIT")

	// notify
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramToken, "PERPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramChatID, "PERPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPBOT_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "PERPBOT_MODE")
	setStr(&cfg.LogLevel, "PERPBOT_LOG_LEVEL")
}

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
