package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CTFIDX_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CTFIDX_* environment variable overrides, and
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

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CTFIDX_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "CTFIDX_CHAIN_RPC_URL")
	setStr(&cfg.Chain.RPCURL, "CTFIDX_RPC_URL") // short alias
	setInt64(&cfg.Chain.ChainID, "CTFIDX_CHAIN_ID")
	setFloat64(&cfg.Chain.RequestsPerSecond, "CTFIDX_CHAIN_REQUESTS_PER_SECOND")
	setInt(&cfg.Chain.Burst, "CTFIDX_CHAIN_BURST")

	// ── Indexer ──
	setStr(&cfg.Indexer.StreamKey, "CTFIDX_INDEXER_STREAM_KEY")
	setStringSlice(&cfg.Indexer.Exchanges, "CTFIDX_INDEXER_EXCHANGES")
	setUint64(&cfg.Indexer.StartBlock, "CTFIDX_INDEXER_START_BLOCK")
	setUint64(&cfg.Indexer.BatchSize, "CTFIDX_INDEXER_BATCH_SIZE")
	setUint64(&cfg.Indexer.MaxBlockSpan, "CTFIDX_INDEXER_MAX_BLOCK_SPAN")
	setInt(&cfg.Indexer.FetchConcurrency, "CTFIDX_INDEXER_FETCH_CONCURRENCY")
	setUint64(&cfg.Indexer.Confirmations, "CTFIDX_INDEXER_CONFIRMATIONS")
	setDuration(&cfg.Indexer.PollInterval, "CTFIDX_INDEXER_POLL_INTERVAL")
	setDuration(&cfg.Indexer.RunTimeout, "CTFIDX_INDEXER_RUN_TIMEOUT")
	setDuration(&cfg.Indexer.LockTTL, "CTFIDX_INDEXER_LOCK_TTL")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "CTFIDX_POLYMARKET_GAMMA_HOST")
	setStringSlice(&cfg.Polymarket.EventSlugs, "CTFIDX_POLYMARKET_EVENT_SLUGS")
	setStr(&cfg.Polymarket.CollateralToken, "CTFIDX_POLYMARKET_COLLATERAL_TOKEN")
	setDuration(&cfg.Polymarket.DiscoveryInterval, "CTFIDX_POLYMARKET_DISCOVERY_INTERVAL")
	setBool(&cfg.Polymarket.VerifyTokenIDs, "CTFIDX_POLYMARKET_VERIFY_TOKEN_IDS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CTFIDX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CTFIDX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CTFIDX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CTFIDX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CTFIDX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CTFIDX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CTFIDX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CTFIDX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CTFIDX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CTFIDX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CTFIDX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CTFIDX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CTFIDX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CTFIDX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CTFIDX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CTFIDX_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "CTFIDX_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.MarketTTL, "CTFIDX_REDIS_MARKET_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CTFIDX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CTFIDX_S3_REGION")
	setStr(&cfg.S3.Bucket, "CTFIDX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CTFIDX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CTFIDX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CTFIDX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CTFIDX_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CTFIDX_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "CTFIDX_ARCHIVE_CRON")
	setStr(&cfg.Archive.Prefix, "CTFIDX_ARCHIVE_PREFIX")
	setStr(&cfg.Archive.Format, "CTFIDX_ARCHIVE_FORMAT")
	setInt(&cfg.Archive.BatchSize, "CTFIDX_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setStr(&cfg.Server.Host, "CTFIDX_SERVER_HOST")
	setInt(&cfg.Server.Port, "CTFIDX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CTFIDX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CTFIDX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CTFIDX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CTFIDX_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.ShutdownWindow, "CTFIDX_SERVER_SHUTDOWN_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CTFIDX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CTFIDX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CTFIDX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CTFIDX_NOTIFY_EVENTS")

	// ── General ──
	setStr(&cfg.Mode, "CTFIDX_MODE")
	setStr(&cfg.LogLevel, "CTFIDX_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
