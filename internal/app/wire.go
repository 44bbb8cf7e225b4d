package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	s3blob "github.com/alanyoungcy/escrowd/internal/blob/s3"
	"github.com/alanyoungcy/escrowd/internal/cache/redis"
	"github.com/alanyoungcy/escrowd/internal/config"
	"github.com/alanyoungcy/escrowd/internal/crypto"
	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
	"github.com/alanyoungcy/escrowd/internal/metrics"
	"github.com/alanyoungcy/escrowd/internal/notify"
	"github.com/alanyoungcy/escrowd/internal/server"
	"github.com/alanyoungcy/escrowd/internal/server/handler"
	"github.com/alanyoungcy/escrowd/internal/server/middleware"
	"github.com/alanyoungcy/escrowd/internal/server/ws"
	"github.com/alanyoungcy/escrowd/internal/service"
	"github.com/alanyoungcy/escrowd/internal/store/postgres"
)

// writerLeaseKey names the redis lock held by the single writing instance.
const writerLeaseKey = "engine-writer"

// ErrHistoryPresent is returned when the event store already holds events
// from an earlier run and reset_on_start is off. The in-memory engine cannot
// continue that history.
var ErrHistoryPresent = errors.New("app: event store holds history from a previous run")

// Dependencies bundles everything Run starts. It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	RunID   string
	Ledger  *ledger.Ledger
	Market  *service.MarketService
	Metrics *metrics.Metrics

	Dispatcher *service.Dispatcher
	Hub        *ws.Hub
	Server     *server.Server          // nil when the HTTP server is disabled
	Archive    *service.ArchiveService // nil without S3
	Lease      *service.WriterLease    // nil without redis
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

	runID, err := uuid.NewV7()
	if err != nil {
		return fail(fmt.Errorf("wire: run id: %w", err))
	}
	deps := &Dependencies{RunID: runID.String(), Metrics: metrics.New()}
	logger = logger.With(slog.String("run_id", deps.RunID))

	var sinks service.Sinks
	sinks.Metrics = deps.Metrics
	var checks []handler.DependencyCheck

	// --- PostgreSQL ---
	var audit *postgres.AuditStore
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:        cfg.Postgres.DSN,
			Host:       cfg.Postgres.Host,
			Port:       cfg.Postgres.Port,
			Database:   cfg.Postgres.Database,
			User:       cfg.Postgres.User,
			Password:   cfg.Postgres.Password,
			SSLMode:    cfg.Postgres.SSLMode,
			MaxConns:   cfg.Postgres.PoolMaxConns,
			MinConns:   cfg.Postgres.PoolMinConns,
			PreferIPv4: cfg.Postgres.PreferIPv4,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		events := postgres.NewEventStore(pool)
		if err := guardHistory(ctx, pgClient, events, cfg.Postgres.ResetOnStart, logger); err != nil {
			return fail(err)
		}
		audit = postgres.NewAuditStore(pool)
		sinks.Events = events
		sinks.Snapshots = postgres.NewSnapshotStore(pool)
		sinks.Audit = audit
		checks = append(checks, handler.DependencyCheck{Name: "postgres", Ping: pgClient.Ping})
		logger.InfoContext(ctx, "postgres connected")
	}

	// --- Redis ---
	var limiter domain.RateLimiter
	if cfg.Redis.Enabled {
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

		sinks.Bus = redis.NewSignalBus(redisClient)
		limiter = redis.NewRateLimiter(redisClient)
		deps.Lease = service.NewWriterLease(redis.NewLockManager(redisClient), writerLeaseKey, cfg.Redis.LeaseTTL.Duration, logger)
		checks = append(checks, handler.DependencyCheck{Name: "redis", Ping: redisClient.Ping})
		logger.InfoContext(ctx, "redis connected")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramAPIBase, cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	if len(senders) > 0 {
		sinks.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// --- Signer ---
	dom := crypto.Domain{
		ChainID: big.NewInt(cfg.Engine.ChainID),
		Engine:  common.HexToAddress(cfg.Engine.Address),
	}
	var issuer service.Issuer
	trusted := common.HexToAddress(cfg.Signer.TrustedSigner)
	if cfg.Signer.HasIssuerKey() {
		pk, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Signer.PrivateKey,
			EncryptedKeyPath: cfg.Signer.EncryptedKeyPath,
			KeyPassword:      cfg.Signer.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: issuer key: %w", err))
		}
		signer := crypto.NewSignerFromKey(pk, dom)
		issuer = signer
		if cfg.Signer.TrustedSigner == "" {
			trusted = signer.Address()
		}
		logger.InfoContext(ctx, "issuer key loaded", slog.String("issuer", signer.Address().Hex()))
	}
	if trusted == domain.ZeroAddress {
		logger.WarnContext(ctx, "no trusted signer configured; signature sales are rejected until one is set")
	}

	// --- Websocket hub ---
	// The hub replays from the market service, which does not exist until the
	// ledger does; the ledger in turn needs the dispatcher that feeds the hub.
	replay := &replaySource{}
	deps.Hub = ws.NewHub(sinks.Bus, replay, logger, ws.Config{
		RunID:          deps.RunID,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: cfg.Server.CORSOrigins,
	})
	if sinks.Bus == nil {
		sinks.Feed = deps.Hub
	}

	// --- Engine ---
	deps.Dispatcher = service.NewDispatcher(sinks, cfg.Engine.QueueSize, logger)
	deps.Ledger, err = ledger.New(ledger.Config{
		Engine:         dom.Engine,
		Admin:          common.HexToAddress(cfg.Engine.Admin),
		TrustedSigner:  trusted,
		PlatformFeeBps: cfg.Engine.PlatformFeeBps,
		OfferFeeBps:    cfg.Engine.OfferFeeBps,
		Limits:         cfg.Engine.Limits.Domain(),
		MaxCallDepth:   cfg.Engine.MaxCallDepth,
	}, crypto.NewVerifier(dom),
		ledger.WithLogger(logger),
		ledger.WithCommitHook(deps.Dispatcher.Hook()),
	)
	if err != nil {
		return fail(fmt.Errorf("wire: ledger: %w", err))
	}
	deps.Market = service.NewMarketService(deps.Ledger, sinks.Snapshots, sinks.Events, issuer, deps.Metrics, logger)
	replay.market = deps.Market

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		checks = append(checks, handler.DependencyCheck{Name: "s3", Ping: s3Client.Health})
		var auditSink domain.AuditStore
		if audit != nil {
			auditSink = audit
		}
		archiver := s3blob.NewArchiver(
			service.LedgerEvents{L: deps.Ledger},
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			auditSink,
			s3blob.RunPrefix(deps.RunID),
			cfg.Archive.SegmentSize,
		)
		deps.Archive = service.NewArchiveService(archiver, cfg.Archive.Interval.Duration, deps.Metrics, logger)
		logger.InfoContext(ctx, "s3 archive enabled", slog.String("bucket", cfg.S3.Bucket))
	}

	// --- HTTP server ---
	if cfg.Server.Enabled {
		var auditList handler.AuditLister
		if audit != nil {
			auditList = audit
		}
		clients := make([]crypto.HMACAuth, 0, len(cfg.Server.APIKeys))
		for _, k := range cfg.Server.APIKeys {
			clients = append(clients, crypto.HMACAuth{Key: k.Key, Secret: k.Secret})
		}
		if len(clients) == 0 {
			logger.WarnContext(ctx, "no api keys configured; the caller header is trusted as sent")
		}
		srvCfg := server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			Auth:        middleware.AuthConfig{Clients: clients, MaxSkew: cfg.Server.MaxSkew.Duration},
		}
		if limiter != nil && cfg.Server.RateLimit > 0 {
			srvCfg.RateLimiter = limiter
			srvCfg.RateLimit = cfg.Server.RateLimit
			srvCfg.RateLimitWindow = cfg.Server.RateLimitWindow.Duration
		}
		deps.Server = server.NewServer(srvCfg, server.Handlers{
			Health:      handler.NewHealthHandler(deps.Ledger, deps.RunID, logger, checks...),
			Listings:    handler.NewListingHandler(deps.Market, logger),
			Auctions:    handler.NewAuctionHandler(deps.Market, logger),
			Offers:      handler.NewOfferHandler(deps.Market, logger),
			Settlements: handler.NewSettlementHandler(deps.Market, logger),
			Admin:       handler.NewAdminHandler(deps.Market, auditList, logger),
			Market:      handler.NewMarketHandler(deps.Market, deps.Ledger.Engine(), logger),
		}, deps.Hub, deps.Metrics, logger)
	}

	return deps, cleanup, nil
}

// guardHistory refuses to start over events persisted by an earlier run,
// unless reset is set, in which case that history is cleared.
func guardHistory(ctx context.Context, c *postgres.Client, events domain.EventStore, reset bool, logger *slog.Logger) error {
	last, err := events.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("wire: postgres history: %w", err)
	}
	if last == 0 {
		return nil
	}
	if !reset {
		return fmt.Errorf("%w (last seq %d); set postgres.reset_on_start to clear it", ErrHistoryPresent, last)
	}
	if err := c.ResetHistory(ctx); err != nil {
		return fmt.Errorf("wire: postgres reset: %w", err)
	}
	logger.WarnContext(ctx, "previous run history cleared", slog.Uint64("last_seq", last))
	return nil
}

// seedGenesis loads the configured genesis file into the engine.
func seedGenesis(ctx context.Context, path string, l *ledger.Ledger) (service.Genesis, error) {
	seed, err := config.LoadGenesis(path)
	if err != nil {
		return service.Genesis{}, err
	}
	g := genesisFromSeed(seed)
	if err := service.SeedGenesis(ctx, l, g); err != nil {
		return service.Genesis{}, err
	}
	return g, nil
}

func genesisFromSeed(seed config.Seed) service.Genesis {
	g := service.Genesis{Approvals: seed.Approvals}
	for _, b := range seed.Balances {
		g.Balances = append(g.Balances, service.GenesisBalance{Account: b.Account, Payment: b.Payment, Amount: b.Amount})
	}
	for _, a := range seed.Assets {
		g.Assets = append(g.Assets, service.GenesisAsset{Asset: a.Asset, Owner: a.Owner})
	}
	return g
}

// replaySource serves websocket replays from the market service once it is
// wired.
type replaySource struct {
	market *service.MarketService
}

func (r *replaySource) Events(ctx context.Context, from uint64, limit int) ([]domain.Event, error) {
	if r.market == nil {
		return nil, service.ErrUnavailable
	}
	return r.market.Events(ctx, from, limit)
}
