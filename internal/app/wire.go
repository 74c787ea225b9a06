package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/ctfindexer/internal/blob/s3"
	"github.com/alanyoungcy/ctfindexer/internal/cache/redis"
	"github.com/alanyoungcy/ctfindexer/internal/config"
	"github.com/alanyoungcy/ctfindexer/internal/ctf"
	"github.com/alanyoungcy/ctfindexer/internal/decoder"
	"github.com/alanyoungcy/ctfindexer/internal/domain"
	"github.com/alanyoungcy/ctfindexer/internal/notify"
	"github.com/alanyoungcy/ctfindexer/internal/pipeline"
	"github.com/alanyoungcy/ctfindexer/internal/platform/polygon"
	"github.com/alanyoungcy/ctfindexer/internal/platform/polymarket"
	"github.com/alanyoungcy/ctfindexer/internal/server/handler"
	"github.com/alanyoungcy/ctfindexer/internal/service"
	"github.com/alanyoungcy/ctfindexer/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional pieces are nil
// when the backing service is not configured or not needed by the mode.
type Dependencies struct {
	// Clients
	Postgres *postgres.Client
	Redis    *redis.Client
	Blob     *s3blob.Client
	Chain    *polygon.Client

	// Stores
	Events  domain.EventStore
	Markets domain.MarketStore
	Trades  *postgres.TradeStore
	Sync    domain.SyncStore
	Runs    domain.RunStore

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.TradeArchiver

	// Notifications
	Notifier *notify.Notifier

	// Services
	Registry  *service.MarketRegistry
	Discovery *service.DiscoveryService
	Query     *service.QueryService
	Indexer   *pipeline.TradeIndexer
	Loop      *pipeline.IndexerLoop
}

// needsPostgres returns true for modes that read or write stored rows.
func needsPostgres(mode string) bool {
	return mode != config.ModeDecodeMarket
}

// needsS3 returns true for modes that run the trade archive.
func needsS3(cfg *config.Config) bool {
	if !cfg.Archive.Enabled {
		return false
	}
	return cfg.Mode == config.ModeIndex || cfg.Mode == config.ModeFull
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		deps.Postgres = pgClient

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Events = postgres.NewEventStore(pool)
		deps.Markets = postgres.NewMarketStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Sync = postgres.NewSyncStore(pool)
		deps.Runs = postgres.NewRunStore(pool)
	}

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" && cfg.Mode != config.ModeDecodeMarket {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Redis = redisClient

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else if cfg.Redis.Addr == "" {
		logger.Info("wire: redis.addr not set, running without lock, cache and live feed")
	}

	// --- Polygon RPC ---
	if cfg.NeedsChain() {
		chain, err := polygon.Dial(ctx, polygon.Config{
			RPCURL:            cfg.Chain.RPCURL,
			ChainID:           cfg.Chain.ChainID,
			RequestsPerSecond: cfg.Chain.RequestsPerSecond,
			Burst:             cfg.Chain.Burst,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: chain: %w", err))
		}
		closers = append(closers, chain.Close)
		deps.Chain = chain
	}

	// --- S3 trade archive ---
	if needsS3(cfg) && deps.Trades != nil {
		blob, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Blob = blob
		deps.Archiver = s3blob.NewTradeArchiver(s3blob.ArchiveConfig{
			Dir:       cfg.Archive.Prefix,
			BatchSize: cfg.Archive.BatchSize,
			Gzip:      cfg.Archive.Format == "jsonl.gz",
		}, deps.Trades, deps.Sync, s3blob.NewWriter(blob), s3blob.NewReader(blob), logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Services ---
	var alerts service.MismatchAlerter
	if deps.Notifier.Enabled() {
		alerts = deps.Notifier
	}
	deps.Registry = service.NewMarketRegistry(deps.Markets, deps.MarketCache, alerts, cfg.Polymarket.CollateralToken, logger)

	var receipts service.ReceiptSource
	if deps.Chain != nil {
		receipts = deps.Chain
	}
	deps.Discovery = service.NewDiscoveryService(service.DiscoveryConfig{
		Collateral:   cfg.Polymarket.CollateralToken,
		VerifyTokens: cfg.Polymarket.VerifyTokenIDs,
	}, polymarket.NewGammaClient(cfg.Polymarket.GammaHost), deps.Events, deps.Registry, receipts, logger)

	if deps.Postgres != nil {
		deps.Query = service.NewQueryService(deps.Events, deps.Markets, deps.Trades, deps.Sync, deps.Runs)
	}

	if deps.Chain != nil && deps.Trades != nil {
		filter, err := tradeFilter(cfg.Indexer.Exchanges)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		indexerDeps := pipeline.IndexerDeps{
			Source:    deps.Chain,
			Filter:    filter,
			Resolver:  deps.Registry,
			Committer: deps.Trades,
			Sync:      deps.Sync,
			Runs:      deps.Runs,
			Locks:     deps.LockManager,
			Bus:       deps.SignalBus,
		}
		if deps.Notifier.Enabled() {
			indexerDeps.Alerts = deps.Notifier
		}
		deps.Indexer = pipeline.NewTradeIndexer(pipeline.IndexerConfig{
			StreamKey:        cfg.Indexer.StreamKey,
			MaxBlockSpan:     cfg.Indexer.MaxBlockSpan,
			FetchConcurrency: cfg.Indexer.FetchConcurrency,
			LockTTL:          cfg.Indexer.LockTTL.Duration,
		}, indexerDeps, logger)
		deps.Loop = pipeline.NewIndexerLoop(pipeline.LoopConfig{
			StartBlock:    cfg.Indexer.StartBlock,
			BatchSize:     cfg.Indexer.BatchSize,
			Confirmations: cfg.Indexer.Confirmations,
			PollInterval:  cfg.Indexer.PollInterval.Duration,
			RunTimeout:    cfg.Indexer.RunTimeout.Duration,
		}, deps.Indexer, logger)
	}

	return deps, cleanup, nil
}

func tradeFilter(exchanges []string) (*decoder.TradeFilter, error) {
	addrs := make([]common.Address, 0, len(exchanges))
	for _, e := range exchanges {
		a, err := ctf.ParseAddress(e)
		if err != nil {
			return nil, fmt.Errorf("exchange: %w", err)
		}
		addrs = append(addrs, a)
	}
	if len(addrs) == 0 {
		addrs = ctf.DefaultExchanges()
	}
	return decoder.NewTradeFilter(addrs), nil
}

// pingFunc adapts a health probe to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// healthChecks names the dependencies probed by GET /health.
func (d *Dependencies) healthChecks() map[string]handler.Pinger {
	checks := map[string]handler.Pinger{}
	if d.Postgres != nil {
		checks["postgres"] = d.Postgres
	}
	if d.Redis != nil {
		checks["redis"] = d.Redis
	}
	if d.Blob != nil {
		checks["s3"] = pingFunc(d.Blob.Health)
	}
	if d.Chain != nil {
		checks["chain"] = pingFunc(func(ctx context.Context) error {
			_, err := d.Chain.Head(ctx)
			return err
		})
	}
	return checks
}
