package config

import "maps"

const redacted = "***"

// RedactedConfig returns a copy of cfg with secrets masked, for logging.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Detach reference fields so edits to the copy never reach cfg.
	out.Oracle.Providers = append([]string(nil), cfg.Oracle.Providers...)
	out.Oracle.CoinGeckoIDs = maps.Clone(cfg.Oracle.CoinGeckoIDs)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
