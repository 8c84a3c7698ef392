package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/impactwatch/impactwatch/common/audit"
	"github.com/impactwatch/impactwatch/common/config"
	"github.com/impactwatch/impactwatch/common/database"
	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/common/messaging"
	natsclient "github.com/impactwatch/impactwatch/common/messaging/nats"
	"github.com/impactwatch/impactwatch/pipeline/internal/assembler"
	"github.com/impactwatch/impactwatch/pipeline/internal/dedup"
	"github.com/impactwatch/impactwatch/pipeline/internal/dlq"
	"github.com/impactwatch/impactwatch/pipeline/internal/extraction"
	"github.com/impactwatch/impactwatch/pipeline/internal/gateway"
	"github.com/impactwatch/impactwatch/pipeline/internal/handlers"
	"github.com/impactwatch/impactwatch/pipeline/internal/jobs"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/normalizer"
	"github.com/impactwatch/impactwatch/pipeline/internal/providers"
	"github.com/impactwatch/impactwatch/pipeline/internal/refdata"
	"github.com/impactwatch/impactwatch/pipeline/internal/repository"
	"github.com/impactwatch/impactwatch/pipeline/internal/risk"
	"github.com/impactwatch/impactwatch/pipeline/internal/rules"
	"github.com/impactwatch/impactwatch/pipeline/internal/scoring"
	"github.com/impactwatch/impactwatch/pipeline/internal/search"
	"github.com/impactwatch/impactwatch/pipeline/internal/service"
)

// app owns every long-lived resource so shutdown can release them in order.
type app struct {
	svc   *service.Service
	store repository.Store
	rdb   *redis.Client
	js    *natsclient.JetStreamClient
	index search.Indexer
	queue *dlq.Queue

	pool      *jobs.LocalPool
	jetstream *jobs.JetStreamDispatcher
}

func build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{index: search.Nop{}}
	ok := false
	defer func() {
		if !ok {
			a.close(logger)
		}
	}()

	var err error

	if a.store, err = openStore(ctx, cfg.Database, logger); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		if a.rdb, err = openRedis(ctx, cfg.Redis); err != nil {
			return nil, err
		}
		logger.Info("connected to redis")
	}

	if cfg.NATS.Enabled {
		a.js, err = natsclient.NewJetStreamClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          "impactwatch-pipeline",
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       5 * time.Second,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		if _, err = a.js.CreateOrUpdateStream(ctx, natsclient.DeepDiveStream); err != nil {
			return nil, err
		}
		logger.Info("connected to NATS", slog.String("url", cfg.NATS.URL))
	}

	if cfg.OpenSearch.Enabled {
		idx, err := search.NewOpenSearchIndexer(ctx, cfg.OpenSearch, logger)
		if err != nil {
			return nil, err
		}
		a.index = idx
	}

	if cfg.DLQ.Enabled {
		if a.queue, err = dlq.NewQueue(cfg.DLQ.BasePath, logger); err != nil {
			return nil, err
		}
	}

	gw, err := buildGateway(ctx, cfg, a.rdb, logger)
	if err != nil {
		return nil, err
	}

	loader := refdata.NewLoader(cfg.Pipeline.PublisherTable, cfg.Pipeline.RuleTable, logger)
	if err = loader.Load(); err != nil {
		return nil, err
	}
	if cfg.Pipeline.WatchReferenceData {
		go func() {
			if err := loader.Watch(ctx); err != nil {
				logger.Warn("reference data watcher stopped", logging.Error(err))
			}
		}()
	}

	params := scoring.ParamsFromConfig(cfg.Scoring)
	engine := dedup.NewEngine(dedup.Options{
		Window:              cfg.Pipeline.DedupWindow,
		SimilarityThreshold: cfg.Pipeline.SimilarityThreshold,
		Credibility: func(domain string) float64 {
			return params.BaseCredibility(loader.Publishers(), domain)
		},
	}, logger)

	var seen dedup.SeenFilter
	if cfg.Pipeline.SeenFilter == "redis" {
		if a.rdb == nil {
			return nil, fmt.Errorf("pipeline.seen_filter=redis requires redis.enabled")
		}
		seen = dedup.NewRedisSeenFilter(a.rdb, cfg.Redis.KeyPrefix+"seen:", cfg.Pipeline.DedupWindow)
	}

	jobStore, err := buildJobStore(cfg, a.rdb)
	if err != nil {
		return nil, err
	}

	var notifier messaging.Publisher
	var signer *audit.EventSigner
	if cfg.NATS.SigningKey != "" {
		signer = audit.NewEventSigner(cfg.NATS.SigningKey)
	}
	if a.js != nil {
		notifier = a.js
	}
	runner := jobs.NewRunner(jobs.RunnerConfig{
		Store:        jobStore,
		Gateway:      gw,
		Provider:     firstProvider(gw, gateway.KindDeepResearch),
		SourceTarget: cfg.Providers.DeepResearch.SourceTarget,
		Publisher:    notifier,
		Logger:       logger,
	})
	dispatcher, err := a.startDispatcher(ctx, cfg.DeepDive, runner, logger)
	if err != nil {
		return nil, err
	}

	var dlqWriter dlq.Writer
	if a.queue != nil {
		dlqWriter = a.queue
	}

	a.svc, err = service.New(service.Config{
		Gateway:     gw,
		Normalizer:  normalizer.NewProcessor(normalizer.DefaultRegistry(), normalizer.Options{StalenessHorizon: cfg.Pipeline.StalenessHorizon}, logger),
		Seen:        seen,
		Dedup:       engine,
		Store:       a.store,
		Publishers:  loader,
		Scoring:     params,
		Extractor:   extraction.NewAdapter(gw, firstProvider(gw, gateway.KindExtraction), logger),
		Risk:        risk.WeightsFromConfig(cfg.Risk.Weights),
		Rules:       rules.NewEngine(loader, logger),
		Assembler:   assembler.New(a.store, assembler.Options{Window: cfg.Assembler.Window}, logger),
		Jobs:        jobStore,
		Dispatcher:  dispatcher,
		Index:       a.index,
		DLQ:         dlqWriter,
		RetryDelay:  cfg.Scheduler.RetryDelay,
		Notifier:    notifier,
		Signer:      signer,
		Watches:     watches(cfg.Watches),
		DedupWindow: cfg.Pipeline.DedupWindow,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (repository.Store, error) {
	switch cfg.Type {
	case "postgres":
		conn := cfg.Postgres.ConnString()
		logger.Info("running database migrations")
		if err := repository.Migrate(cfg.MigrationsPath, conn); err != nil {
			return nil, err
		}
		store, err := repository.NewPostgresStore(ctx, conn, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		store.SetTimeouts(storeTimeouts(cfg))
		return store, nil
	case "sqlite":
		if err := repository.Migrate(strings.TrimSuffix(cfg.MigrationsPath, "/")+"/sqlite", "sqlite://"+filepath.ToSlash(cfg.SQLite.Path)); err != nil {
			return nil, err
		}
		store, err := repository.NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		store.SetTimeouts(storeTimeouts(cfg))
		return store, nil
	default:
		logger.Warn("using in-memory store; cards will not survive a restart")
		return repository.NewMemoryStore(), nil
	}
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opt.MaxRetries = cfg.MaxRetries
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func buildGateway(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *logging.Logger) (*gateway.Gateway, error) {
	var cache gateway.Cache = gateway.NewMemoryCache(cfg.Gateway.Cache.L1MaxEntries, time.Now)
	if cfg.Gateway.Cache.Redis && rdb != nil {
		cache = &gateway.TieredCache{
			L1: cache,
			L2: gateway.NewRedisCache(rdb, cfg.Redis.KeyPrefix+"gw:", time.Now),
		}
	}
	gw := gateway.New(gateway.SettingsFromConfig(cfg.Gateway), cache, logger)

	provs, err := providers.Build(ctx, cfg.Providers, &http.Client{Transport: http.DefaultTransport})
	if err != nil {
		return nil, err
	}
	for _, p := range provs {
		gw.Register(p)
		logger.Info("registered provider", logging.Provider(p.Name()), slog.String("kind", string(p.Kind())))
	}
	return gw, nil
}

func buildJobStore(cfg *config.Config, rdb *redis.Client) (jobs.Store, error) {
	if cfg.DeepDive.JobStore != "redis" {
		return jobs.NewMemoryStore(), nil
	}
	if rdb == nil {
		return nil, fmt.Errorf("deepdive.job_store=redis requires redis.enabled")
	}
	return jobs.NewRedisStore(rdb, cfg.Redis.KeyPrefix+"job:", cfg.DeepDive.JobTTL), nil
}

func (a *app) startDispatcher(ctx context.Context, cfg config.DeepDiveConfig, runner *jobs.Runner, logger *logging.Logger) (jobs.Dispatcher, error) {
	if cfg.Backend == "nats" {
		if a.js == nil {
			return nil, fmt.Errorf("deepdive.backend=nats requires nats.enabled")
		}
		a.jetstream = jobs.NewJetStreamDispatcher(a.js, runner, logger)
		if err := a.jetstream.Start(ctx); err != nil {
			return nil, err
		}
		return a.jetstream, nil
	}
	a.pool = jobs.NewLocalPool(runner, cfg.Workers, 0, logger)
	a.pool.Start(ctx)
	return a.pool, nil
}

func storeTimeouts(cfg config.DatabaseConfig) database.Timeouts {
	return database.Timeouts{Query: cfg.QueryTimeout, Write: cfg.WriteTimeout, Bulk: cfg.BulkTimeout}
}

func firstProvider(gw *gateway.Gateway, kind gateway.Kind) string {
	if names := gw.Providers(kind); len(names) > 0 {
		return names[0]
	}
	return ""
}

func watches(in []config.WatchConfig) []model.Watch {
	out := make([]model.Watch, len(in))
	for i, w := range in {
		out[i] = model.Watch{ID: w.ID, Name: w.Name, Keywords: w.Keywords, Sector: w.Sector}
	}
	return out
}

// deadLetters and broker return untyped nils when the backend is disabled.
func (a *app) deadLetters() handlers.DeadLetters {
	if a.queue == nil {
		return nil
	}
	return a.queue
}

func (a *app) broker() messaging.Client {
	if a.js == nil {
		return nil
	}
	return a.js
}

func (a *app) close(logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.pool != nil {
		a.pool.Stop()
	}
	if a.jetstream != nil {
		a.jetstream.Stop()
	}
	if err := a.index.Close(ctx); err != nil {
		logger.Warn("failed to flush search index", logging.Error(err))
	}
	if a.js != nil {
		if err := a.js.Drain(); err != nil {
			logger.Warn("failed to drain NATS connection", logging.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("failed to close store", logging.Error(err))
		}
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
