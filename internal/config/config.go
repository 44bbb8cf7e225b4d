// Package config defines the top-level configuration for escrowd and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ESCROWD_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Signer   SignerConfig   `toml:"signer"`
	Genesis  GenesisConfig  `toml:"genesis"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the escrow engine's identity, fees and limits.
type EngineConfig struct {
	ChainID        int64        `toml:"chain_id"`
	Address        string       `toml:"address"`
	Admin          string       `toml:"admin"`
	PlatformFeeBps uint32       `toml:"platform_fee_bps"`
	OfferFeeBps    uint32       `toml:"offer_fee_bps"`
	MaxCallDepth   int          `toml:"max_call_depth"`
	QueueSize      int          `toml:"queue_size"`
	Limits         LimitsConfig `toml:"limits"`
}

// LimitsConfig mirrors domain.Limits with TOML-friendly durations.
type LimitsConfig struct {
	MinListingDuration duration `toml:"min_listing_duration"`
	MaxListingDuration duration `toml:"max_listing_duration"`
	MinAuctionDuration duration `toml:"min_auction_duration"`
	MaxAuctionDuration duration `toml:"max_auction_duration"`
	MaxOfferDuration   duration `toml:"max_offer_duration"`
	MaxBulkEntries     int      `toml:"max_bulk_entries"`
}

// Domain converts the limits to the engine's representation.
func (l LimitsConfig) Domain() domain.Limits {
	return domain.Limits{
		MinListingDuration: l.MinListingDuration.Duration,
		MaxListingDuration: l.MaxListingDuration.Duration,
		MinAuctionDuration: l.MinAuctionDuration.Duration,
		MaxAuctionDuration: l.MaxAuctionDuration.Duration,
		MaxOfferDuration:   l.MaxOfferDuration.Duration,
		MaxBulkEntries:     l.MaxBulkEntries,
	}
}

// SignerConfig names the trusted settlement signer and, optionally, the
// issuer key this process signs authorizations with. When TrustedSigner is
// empty and an issuer key is configured, the issuer's address is trusted.
type SignerConfig struct {
	TrustedSigner    string `toml:"trusted_signer"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HasIssuerKey reports whether an issuer key source is configured.
func (s SignerConfig) HasIssuerKey() bool {
	return s.PrivateKey != "" || s.EncryptedKeyPath != ""
}

// GenesisConfig points at an optional seed file loaded at start-up.
type GenesisConfig struct {
	Path string `toml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters for the event and
// snapshot stores.
type PostgresConfig struct {
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
	PreferIPv4    bool   `toml:"prefer_ipv4"`
	RunMigrations bool   `toml:"run_migrations"`
	// ResetOnStart truncates event and snapshot history left by a previous
	// run. Without it, start-up refuses to run against a non-empty store.
	ResetOnStart bool `toml:"reset_on_start"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	LeaseTTL   duration `toml:"lease_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig controls how often committed events are written to S3.
type ArchiveConfig struct {
	Interval    duration `toml:"interval"`
	SegmentSize int      `toml:"segment_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// APIKeyConfig is one gateway client's HMAC credentials.
type APIKeyConfig struct {
	Key    string `toml:"key"`
	Secret string `toml:"secret"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool           `toml:"enabled"`
	Port            int            `toml:"port"`
	CORSOrigins     []string       `toml:"cors_origins"`
	APIKeys         []APIKeyConfig `toml:"api_keys"`
	MaxSkew         duration       `toml:"max_skew"`
	RateLimit       int            `toml:"rate_limit"` // enforced only with redis enabled
	RateLimitWindow duration       `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIBase   string   `toml:"telegram_api_base"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	l := domain.DefaultLimits()
	return Config{
		Engine: EngineConfig{
			ChainID:        31337,
			PlatformFeeBps: 250,
			OfferFeeBps:    250,
			MaxCallDepth:   4,
			QueueSize:      1024,
			Limits: LimitsConfig{
				MinListingDuration: duration{l.MinListingDuration},
				MaxListingDuration: duration{l.MaxListingDuration},
				MinAuctionDuration: duration{l.MinAuctionDuration},
				MaxAuctionDuration: duration{l.MaxAuctionDuration},
				MaxOfferDuration:   duration{l.MaxOfferDuration},
				MaxBulkEntries:     l.MaxBulkEntries,
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "escrowd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "escrowd",
			LeaseTTL:   duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "escrowd-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:    duration{time.Minute},
			SegmentSize: 1000,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			MaxSkew:         duration{30 * time.Second},
			RateLimit:       600,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			TelegramAPIBase: "https://api.telegram.org",
			DiscordUsername: "escrowd",
			Events: []string{
				string(domain.EventItemSold),
				string(domain.EventAuctionEnded),
				string(domain.EventOfferAccepted),
				string(domain.EventSignatureSale),
				string(domain.EventFeesWithdrawn),
			},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validEventKinds enumerates the accepted values for notify.events.
var validEventKinds = map[string]bool{}

func init() {
	for _, k := range []domain.EventKind{
		domain.EventListingCreated, domain.EventListingUpdated, domain.EventListingCancelled,
		domain.EventItemSold, domain.EventAuctionCreated, domain.EventBidRefunded,
		domain.EventBidPlaced, domain.EventAuctionEnded, domain.EventOfferMade,
		domain.EventOfferAccepted, domain.EventOfferCancelled, domain.EventSignatureSale,
		domain.EventFeeUpdated, domain.EventLimitsUpdated, domain.EventSignerUpdated,
		domain.EventFeesWithdrawn,
	} {
		validEventKinds[string(k)] = true
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.ChainID <= 0 {
		errs = append(errs, "engine: chain_id must be positive")
	}
	errs = checkAddress(errs, "engine: address", c.Engine.Address, true)
	errs = checkAddress(errs, "engine: admin", c.Engine.Admin, true)
	if c.Engine.Address != "" && strings.EqualFold(c.Engine.Address, c.Engine.Admin) {
		errs = append(errs, "engine: admin must differ from the engine address")
	}
	if c.Engine.PlatformFeeBps > domain.MaxFeeBps {
		errs = append(errs, fmt.Sprintf("engine: platform_fee_bps must be <= %d", domain.MaxFeeBps))
	}
	if c.Engine.OfferFeeBps > domain.MaxFeeBps {
		errs = append(errs, fmt.Sprintf("engine: offer_fee_bps must be <= %d", domain.MaxFeeBps))
	}
	if c.Engine.MaxCallDepth < 1 {
		errs = append(errs, "engine: max_call_depth must be >= 1")
	}
	if err := c.Engine.Limits.Domain().Validate(); err != nil {
		errs = append(errs, "engine: limits: "+err.Error())
	}

	// Signer
	errs = checkAddress(errs, "signer: trusted_signer", c.Signer.TrustedSigner, false)
	if c.Signer.PrivateKey != "" && c.Signer.EncryptedKeyPath != "" {
		errs = append(errs, "signer: set only one of private_key and encrypted_key_path")
	}
	if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
		errs = append(errs, "signer: key_password is required when encrypted_key_path is set")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LeaseTTL.Duration < time.Second {
			errs = append(errs, "redis: lease_ttl must be at least 1s")
		}
	}

	// S3 and archive
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.SegmentSize < 1 {
			errs = append(errs, "archive: segment_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		for i, k := range c.Server.APIKeys {
			if k.Key == "" || k.Secret == "" {
				errs = append(errs, fmt.Sprintf("server: api_keys[%d] needs both key and secret", i))
			}
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if !validEventKinds[e] {
			errs = append(errs, fmt.Sprintf("notify: unknown event kind %q", e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkAddress(errs []string, field, value string, required bool) []string {
	switch {
	case value == "" && required:
		return append(errs, field+" must be set")
	case value != "" && !common.IsHexAddress(value):
		return append(errs, fmt.Sprintf("%s %q is not a hex address", field, value))
	case value != "" && common.HexToAddress(value) == domain.ZeroAddress:
		return append(errs, field+" must not be the zero address")
	}
	return errs
}
