// Package config defines the top-level configuration for the opinions market
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/opinionsmarket/internal/crypto"
	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OPINIONS_* environment variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Wallet   WalletConfig   `toml:"wallet"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Batcher  BatcherConfig  `toml:"batcher"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig seeds the market singleton on first start. Once the market is
// initialized the stored config wins and changes go through the admin API.
type MarketConfig struct {
	Admin                    string   `toml:"admin"`
	BaseCurrency             string   `toml:"base_currency"`
	BaseDecimals             uint8    `toml:"base_decimals"`
	ProtocolFeeBps           uint64   `toml:"protocol_fee_bps"`
	CreatorFeeBps            uint64   `toml:"creator_fee_bps"`
	ProtocolSettlementFeeBps uint64   `toml:"protocol_settlement_fee_bps"`
	CreatorWinFeeBps         uint64   `toml:"creator_win_fee_bps"`
	MotherFeeBps             uint64   `toml:"mother_fee_bps"`
	BaseDuration             duration `toml:"base_duration"`
	MaxDuration              duration `toml:"max_duration"`
	ExtensionPerUnit         duration `toml:"extension_per_unit"`
	CostPerUnit              uint64   `toml:"cost_per_unit"`
	TieBreak                 string   `toml:"tie_break"`
	InitialSocialScore       int64    `toml:"initial_social_score"`
	MaxSessionLifetime       duration `toml:"max_session_lifetime"`
	// ChainID is bound into the session-grant signature domain.
	ChainID int64 `toml:"chain_id"`
}

// Domain converts the seed section into the engine's config type. A hex
// admin address is checksummed to match the identities the API resolves.
func (m MarketConfig) Domain() domain.MarketConfig {
	admin := m.Admin
	if addr, err := crypto.NormalizeAddress(admin); err == nil {
		admin = addr
	}
	return domain.MarketConfig{
		Admin:                    admin,
		BaseCurrency:             m.BaseCurrency,
		ProtocolFeeBps:           m.ProtocolFeeBps,
		CreatorFeeBps:            m.CreatorFeeBps,
		ProtocolSettlementFeeBps: m.ProtocolSettlementFeeBps,
		CreatorWinFeeBps:         m.CreatorWinFeeBps,
		MotherFeeBps:             m.MotherFeeBps,
		BaseDuration:             m.BaseDuration.Duration,
		MaxDuration:              m.MaxDuration.Duration,
		ExtensionPerUnit:         m.ExtensionPerUnit.Duration,
		CostPerUnit:              m.CostPerUnit,
		TieBreak:                 domain.TieBreak(m.TieBreak),
		InitialSocialScore:       m.InitialSocialScore,
		MaxSessionLifetime:       m.MaxSessionLifetime.Duration,
	}
}

// WalletConfig holds the operator key used by the CLI signing helpers.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	PostCacheTTL duration `toml:"post_cache_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
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
}

// BatcherConfig controls vote coalescing on the API path.
type BatcherConfig struct {
	Enabled       bool     `toml:"enabled"`
	FlushInterval duration `toml:"flush_interval"`
	MaxPending    int      `toml:"max_pending"`
	DedupTTL      duration `toml:"dedup_ttl"`
}

// KeeperConfig controls the settlement keeper.
type KeeperConfig struct {
	Enabled   bool     `toml:"enabled"`
	Schedule  string   `toml:"schedule"`
	BatchSize int      `toml:"batch_size"`
	LockTTL   duration `toml:"lock_ttl"`
}

// ArchiveConfig controls the S3 export job.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Schedule      string `toml:"schedule"`
	RetentionDays int    `toml:"retention_days"`
}

// duration wraps time.Duration for TOML decoding.
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is the number of requests a client may make per RateWindow.
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	JWTSecret    string   `toml:"jwt_secret"`
	TokenTTL     duration `toml:"token_ttl"`
	ChallengeTTL duration `toml:"challenge_ttl"`
	AdminAPIKey  string   `toml:"admin_api_key"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			BaseCurrency:             "OPN",
			BaseDecimals:             6,
			ProtocolFeeBps:           500,
			CreatorFeeBps:            300,
			ProtocolSettlementFeeBps: 100,
			CreatorWinFeeBps:         4_000,
			MotherFeeBps:             1_000,
			BaseDuration:             duration{24 * time.Hour},
			MaxDuration:              duration{7 * 24 * time.Hour},
			ExtensionPerUnit:         duration{time.Minute},
			CostPerUnit:              1_000_000,
			TieBreak:                 string(domain.TieBreakTreasury),
			MaxSessionLifetime:       duration{30 * 24 * time.Hour},
			ChainID:                  1,
		},
		Store: StoreConfig{Driver: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "opinions",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			PostCacheTTL: duration{30 * time.Second},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "opinions-archive",
			ForcePathStyle: true,
		},
		Batcher: BatcherConfig{
			FlushInterval: duration{250 * time.Millisecond},
			MaxPending:    1_000,
			DedupTTL:      duration{10 * time.Minute},
		},
		Keeper: KeeperConfig{
			Enabled:   true,
			Schedule:  "@every 1m",
			BatchSize: 100,
			LockTTL:   duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			Schedule:      "0 3 * * *",
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:         8080,
			CORSOrigins:  []string{"*"},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
			TokenTTL:     duration{24 * time.Hour},
			ChallengeTTL: duration{5 * time.Minute},
			ReadTimeout:  duration{15 * time.Second},
			WriteTimeout: duration{15 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"api":    true,
	"keeper": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ServesAPI reports whether the mode runs the HTTP server.
func (c *Config) ServesAPI() bool { return c.Mode == "api" || c.Mode == "full" }

// RunsKeeper reports whether the mode runs the background jobs.
func (c *Config) RunsKeeper() bool { return c.Mode == "keeper" || c.Mode == "full" }

// Validate checks the configuration for logical errors and returns a combined
// error describing every problem found, or nil if the config is valid.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, keeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if err := c.Market.Domain().Validate(); err != nil {
		errs = append(errs, "market: "+err.Error())
	}
	if c.Market.BaseDecimals > 50 {
		errs = append(errs, "market: base_decimals must be <= 50")
	}
	if c.Market.ChainID <= 0 {
		errs = append(errs, "market: chain_id must be positive")
	}

	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: memory, postgres)", c.Store.Driver))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Batcher.Enabled && c.Batcher.FlushInterval.Duration <= 0 {
		errs = append(errs, "batcher: flush_interval must be positive")
	}

	if c.Keeper.Enabled {
		if _, err := cron.ParseStandard(c.Keeper.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("keeper: invalid schedule %q: %v", c.Keeper.Schedule, err))
		}
		if c.Keeper.BatchSize < 1 {
			errs = append(errs, "keeper: batch_size must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if _, err := cron.ParseStandard(c.Archive.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid schedule %q: %v", c.Archive.Schedule, err))
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.ServesAPI() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if len(c.Server.JWTSecret) < 16 {
			errs = append(errs, "server: jwt_secret must be at least 16 characters")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
