// Package config defines the top-level configuration for the indexer and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/ctfindexer/internal/ctf"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CTFIDX_* environment variables.
type Config struct {
	Chain      ChainConfig      `toml:"chain"`
	Indexer    IndexerConfig    `toml:"indexer"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ChainConfig holds the Polygon JSON-RPC endpoint and request pacing.
type ChainConfig struct {
	RPCURL            string  `toml:"rpc_url"`
	ChainID           int64   `toml:"chain_id"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// IndexerConfig controls the trade indexing stream.
type IndexerConfig struct {
	StreamKey        string   `toml:"stream_key"`
	Exchanges        []string `toml:"exchanges"`
	StartBlock       uint64   `toml:"start_block"`
	BatchSize        uint64   `toml:"batch_size"`
	MaxBlockSpan     uint64   `toml:"max_block_span"`
	FetchConcurrency int      `toml:"fetch_concurrency"`
	Confirmations    uint64   `toml:"confirmations"`
	PollInterval     duration `toml:"poll_interval"`
	RunTimeout       duration `toml:"run_timeout"`
	LockTTL          duration `toml:"lock_ttl"`
}

// PolymarketConfig holds Gamma API settings and the events to discover.
type PolymarketConfig struct {
	GammaHost         string   `toml:"gamma_host"`
	EventSlugs        []string `toml:"event_slugs"`
	CollateralToken   string   `toml:"collateral_token"`
	DiscoveryInterval duration `toml:"discovery_interval"`
	VerifyTokenIDs    bool     `toml:"verify_token_ids"`
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

// RedisConfig holds Redis connection parameters. An empty Addr runs without
// Redis: no distributed lock, cache, signal bus or rate limiter.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	MarketTTL  duration `toml:"market_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold-storage trade archive.
type ArchiveConfig struct {
	Enabled   bool   `toml:"enabled"`
	Cron      string `toml:"cron"`
	Prefix    string `toml:"prefix"`
	Format    string `toml:"format"` // "jsonl" or "jsonl.gz"
	BatchSize int    `toml:"batch_size"`
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	ShutdownWindow duration `toml:"shutdown_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "1h30m").
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

// Defaults returns a Config populated with sensible default values for
// Polygon mainnet.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:            "https://polygon-rpc.com",
			ChainID:           137,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Indexer: IndexerConfig{
			StreamKey:        "ctf_exchange",
			Exchanges:        []string{ctf.CTFExchange.Hex(), ctf.NegRiskCTFExchange.Hex()},
			BatchSize:        5000,
			MaxBlockSpan:     2000,
			FetchConcurrency: 4,
			Confirmations:    32,
			PollInterval:     duration{15 * time.Second},
			RunTimeout:       duration{5 * time.Minute},
			LockTTL:          duration{2 * time.Minute},
		},
		Polymarket: PolymarketConfig{
			GammaHost:         "https://gamma-api.polymarket.com",
			CollateralToken:   ctf.USDCe.Hex(),
			DiscoveryInterval: duration{10 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ctfindexer",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "ctfidx:",
			MarketTTL:  duration{time.Hour},
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Archive: ArchiveConfig{
			Cron:      "0 3 * * *",
			Prefix:    "archive/trades",
			Format:    "jsonl.gz",
			BatchSize: 10000,
		},
		Server: ServerConfig{
			Port:           8000,
			RateWindow:     duration{time.Second},
			ShutdownWindow: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"run_failed", "derivation_mismatch"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Modes the binary can run in.
const (
	ModeIndex        = "index"
	ModeDiscover     = "discover"
	ModeServer       = "server"
	ModeFull         = "full"
	ModeTx           = "tx"
	ModeDecodeMarket = "decode-market"
)

var validModes = map[string]bool{
	ModeIndex:        true,
	ModeDiscover:     true,
	ModeServer:       true,
	ModeFull:         true,
	ModeTx:           true,
	ModeDecodeMarket: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validArchiveFormats = map[string]bool{
	"jsonl":    true,
	"jsonl.gz": true,
}

// NeedsChain reports whether the mode reads from the Polygon RPC.
func (c *Config) NeedsChain() bool {
	switch c.Mode {
	case ModeIndex, ModeFull, ModeTx, ModeDecodeMarket:
		return true
	}
	return false
}

// Validate checks every section and returns all problems joined together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: index, discover, server, full, tx, decode-market)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.NeedsChain() {
		if c.Chain.RPCURL == "" {
			add("chain: rpc_url must not be empty for mode %s", c.Mode)
		}
		if c.Chain.RequestsPerSecond < 0 {
			add("chain: requests_per_second must be >= 0")
		}
	}

	if c.Indexer.StreamKey == "" {
		add("indexer: stream_key must not be empty")
	}
	if len(c.Indexer.Exchanges) == 0 {
		add("indexer: at least one exchange address is required")
	}
	for _, a := range c.Indexer.Exchanges {
		if _, err := ctf.ParseAddress(a); err != nil {
			add("indexer: exchanges: %w", err)
		}
	}
	if c.Indexer.BatchSize == 0 {
		add("indexer: batch_size must be > 0")
	}
	if c.Indexer.MaxBlockSpan == 0 {
		add("indexer: max_block_span must be > 0")
	}
	if c.Indexer.FetchConcurrency < 1 {
		add("indexer: fetch_concurrency must be >= 1")
	}
	if c.Indexer.PollInterval.Duration <= 0 {
		add("indexer: poll_interval must be > 0")
	}
	if c.Indexer.RunTimeout.Duration <= 0 {
		add("indexer: run_timeout must be > 0")
	}
	if c.Indexer.LockTTL.Duration < c.Indexer.PollInterval.Duration && c.Redis.Addr != "" {
		add("indexer: lock_ttl must be at least poll_interval")
	}

	if c.Polymarket.GammaHost == "" {
		add("polymarket: gamma_host must not be empty")
	}
	if _, err := ctf.ParseAddress(c.Polymarket.CollateralToken); err != nil {
		add("polymarket: collateral_token: %w", err)
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			add("postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
		}
		if c.Postgres.Database == "" {
			add("postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		add("postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		add("postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archive is enabled")
		}
		if !validArchiveFormats[c.Archive.Format] {
			add("archive: unknown format %q (valid: jsonl, jsonl.gz)", c.Archive.Format)
		}
		if c.Archive.Cron == "" {
			add("archive: cron must not be empty when enabled")
		}
	}

	if c.Mode == ModeServer || c.Mode == ModeFull {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
