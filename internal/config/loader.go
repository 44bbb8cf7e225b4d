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
// built-in defaults, applies ESCROWD_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ESCROWD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setInt64(&cfg.Engine.ChainID, "ESCROWD_ENGINE_CHAIN_ID")
	setStr(&cfg.Engine.Address, "ESCROWD_ENGINE_ADDRESS")
	setStr(&cfg.Engine.Admin, "ESCROWD_ENGINE_ADMIN")
	setUint32(&cfg.Engine.PlatformFeeBps, "ESCROWD_ENGINE_PLATFORM_FEE_BPS")
	setUint32(&cfg.Engine.OfferFeeBps, "ESCROWD_ENGINE_OFFER_FEE_BPS")
	setInt(&cfg.Engine.MaxCallDepth, "ESCROWD_ENGINE_MAX_CALL_DEPTH")
	setInt(&cfg.Engine.QueueSize, "ESCROWD_ENGINE_QUEUE_SIZE")

	// ── Signer ──
	setStr(&cfg.Signer.TrustedSigner, "ESCROWD_SIGNER_TRUSTED_SIGNER")
	setStr(&cfg.Signer.PrivateKey, "ESCROWD_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "ESCROWD_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "ESCROWD_SIGNER_KEY_PASSWORD")

	// ── Genesis ──
	setStr(&cfg.Genesis.Path, "ESCROWD_GENESIS_PATH")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ESCROWD_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ESCROWD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ESCROWD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ESCROWD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ESCROWD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ESCROWD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ESCROWD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ESCROWD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ESCROWD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ESCROWD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.PreferIPv4, "ESCROWD_POSTGRES_PREFER_IPV4")
	setBool(&cfg.Postgres.RunMigrations, "ESCROWD_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.ResetOnStart, "ESCROWD_POSTGRES_RESET_ON_START")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ESCROWD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ESCROWD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROWD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROWD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ESCROWD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ESCROWD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ESCROWD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ESCROWD_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LeaseTTL, "ESCROWD_REDIS_LEASE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ESCROWD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ESCROWD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ESCROWD_S3_REGION")
	setStr(&cfg.S3.Bucket, "ESCROWD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ESCROWD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ESCROWD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ESCROWD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ESCROWD_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "ESCROWD_S3_PREFIX")

	// ── Archive ──
	setDuration(&cfg.Archive.Interval, "ESCROWD_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.SegmentSize, "ESCROWD_ARCHIVE_SEGMENT_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ESCROWD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ESCROWD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ESCROWD_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.MaxSkew, "ESCROWD_SERVER_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "ESCROWD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "ESCROWD_SERVER_RATE_LIMIT_WINDOW")
	setAPIKey(&cfg.Server.APIKeys, "ESCROWD_SERVER_API_KEY", "ESCROWD_SERVER_API_SECRET")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPIBase, "ESCROWD_NOTIFY_TELEGRAM_API_BASE")
	setStr(&cfg.Notify.TelegramToken, "ESCROWD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ESCROWD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ESCROWD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "ESCROWD_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "ESCROWD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "ESCROWD_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
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

// setAPIKey adds or replaces the gateway client named by the key variable
// when both it and the secret variable are set.
func setAPIKey(dst *[]APIKeyConfig, keyVar, secretVar string) {
	key, secret := os.Getenv(keyVar), os.Getenv(secretVar)
	if key == "" || secret == "" {
		return
	}
	for i := range *dst {
		if (*dst)[i].Key == key {
			(*dst)[i].Secret = secret
			return
		}
	}
	*dst = append(*dst, APIKeyConfig{Key: key, Secret: secret})
}
