package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OPINIONS_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPINIONS_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// market
	setStr(&cfg.Market.Admin, "OPINIONS_MARKET_ADMIN")
	setStr(&cfg.Market.BaseCurrency, "OPINIONS_MARKET_BASE_CURRENCY")
	setUint8(&cfg.Market.BaseDecimals, "OPINIONS_MARKET_BASE_DECIMALS")
	setUint64(&cfg.Market.ProtocolFeeBps, "OPINIONS_MARKET_PROTOCOL_FEE_BPS")
	setUint64(&cfg.Market.CreatorFeeBps, "OPINIONS_MARKET_CREATOR_FEE_BPS")
	setUint64(&cfg.Market.ProtocolSettlementFeeBps, "OPINIONS_MARKET_PROTOCOL_SETTLEMENT_FEE_BPS")
	setUint64(&cfg.Market.CreatorWinFeeBps, "OPINIONS_MARKET_CREATOR_WIN_FEE_BPS")
	setUint64(&cfg.Market.MotherFeeBps, "OPINIONS_MARKET_MOTHER_FEE_BPS")
	setDuration(&cfg.Market.BaseDuration, "OPINIONS_MARKET_BASE_DURATION")
	setDuration(&cfg.Market.MaxDuration, "OPINIONS_MARKET_MAX_DURATION")
	setDuration(&cfg.Market.ExtensionPerUnit, "OPINIONS_MARKET_EXTENSION_PER_UNIT")
	setUint64(&cfg.Market.CostPerUnit, "OPINIONS_MARKET_COST_PER_UNIT")
	setStr(&cfg.Market.TieBreak, "OPINIONS_MARKET_TIE_BREAK")
	setInt64(&cfg.Market.InitialSocialScore, "OPINIONS_MARKET_INITIAL_SOCIAL_SCORE")
	setDuration(&cfg.Market.MaxSessionLifetime, "OPINIONS_MARKET_MAX_SESSION_LIFETIME")
	setInt64(&cfg.Market.ChainID, "OPINIONS_MARKET_CHAIN_ID")

	// wallet
	setStr(&cfg.Wallet.PrivateKey, "OPINIONS_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "OPINIONS_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "OPINIONS_WALLET_KEY_PASSWORD")

	// store
	setStr(&cfg.Store.Driver, "OPINIONS_STORE_DRIVER")
	setStr(&cfg.Postgres.DSN, "OPINIONS_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "OPINIONS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OPINIONS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OPINIONS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OPINIONS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OPINIONS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OPINIONS_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OPINIONS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OPINIONS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OPINIONS_POSTGRES_RUN_MIGRATIONS")

	// redis
	setBool(&cfg.Redis.Enabled, "OPINIONS_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "OPINIONS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPINIONS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPINIONS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPINIONS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPINIONS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPINIONS_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PostCacheTTL, "OPINIONS_REDIS_POST_CACHE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "OPINIONS_REDIS_STREAM_MAX_LEN")

	// s3
	setBool(&cfg.S3.Enabled, "OPINIONS_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "OPINIONS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPINIONS_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPINIONS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OPINIONS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPINIONS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OPINIONS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OPINIONS_S3_FORCE_PATH_STYLE")

	// jobs
	setBool(&cfg.Batcher.Enabled, "OPINIONS_BATCHER_ENABLED")
	setDuration(&cfg.Batcher.FlushInterval, "OPINIONS_BATCHER_FLUSH_INTERVAL")
	setInt(&cfg.Batcher.MaxPending, "OPINIONS_BATCHER_MAX_PENDING")
	setDuration(&cfg.Batcher.DedupTTL, "OPINIONS_BATCHER_DEDUP_TTL")
	setBool(&cfg.Keeper.Enabled, "OPINIONS_KEEPER_ENABLED")
	setStr(&cfg.Keeper.Schedule, "OPINIONS_KEEPER_SCHEDULE")
	setInt(&cfg.Keeper.BatchSize, "OPINIONS_KEEPER_BATCH_SIZE")
	setDuration(&cfg.Keeper.LockTTL, "OPINIONS_KEEPER_LOCK_TTL")
	setBool(&cfg.Archive.Enabled, "OPINIONS_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Schedule, "OPINIONS_ARCHIVE_SCHEDULE")
	setInt(&cfg.Archive.RetentionDays, "OPINIONS_ARCHIVE_RETENTION_DAYS")

	// server
	setInt(&cfg.Server.Port, "OPINIONS_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OPINIONS_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "OPINIONS_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "OPINIONS_SERVER_RATE_WINDOW")
	setStr(&cfg.Server.JWTSecret, "OPINIONS_SERVER_JWT_SECRET")
	setDuration(&cfg.Server.TokenTTL, "OPINIONS_SERVER_TOKEN_TTL")
	setDuration(&cfg.Server.ChallengeTTL, "OPINIONS_SERVER_CHALLENGE_TTL")
	setStr(&cfg.Server.AdminAPIKey, "OPINIONS_SERVER_ADMIN_API_KEY")

	// notify
	setStr(&cfg.Notify.TelegramToken, "OPINIONS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OPINIONS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OPINIONS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OPINIONS_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "OPINIONS_MODE")
	setStr(&cfg.LogLevel, "OPINIONS_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint8(dst *uint8, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			*dst = uint8(n)
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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
