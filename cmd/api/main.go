package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"creditjobs/internal/adapter/memory"
	"creditjobs/internal/adapter/repo"
	"creditjobs/internal/domain"
	"creditjobs/internal/events"
	"creditjobs/internal/http/handlers"
	"creditjobs/internal/http/httpapi"
	"creditjobs/internal/infra"
	"creditjobs/internal/infra/geoip"
	"creditjobs/internal/jobs"
	"creditjobs/internal/middleware"
	"creditjobs/internal/queue"
	"creditjobs/internal/recovery"
)

type stores struct {
	jobs   domain.JobRepository
	ledger domain.CreditLedger
	checks map[string]handlers.HealthCheck
	close  func()
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open stores")
	}
	defer st.close()
	st.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }

	q := queue.NewRedisQueue(rdb, cfg.QueuePrefix+":queue")
	emitter := events.NewEmitter(events.Multi{
		events.LogNotifier{Logger: logger},
		events.NewRedisPublisher(rdb, cfg.QueuePrefix+":events"),
	}, logger, cfg.StoreTimeout)
	defer emitter.Wait()

	compensator := jobs.NewCompensator(st.jobs, st.ledger, emitter)
	submitter := jobs.NewSubmitter(st.jobs, jobs.NewAdmission(st.ledger), q, compensator, nil, emitter, jobs.SubmitterConfig{
		MaxRetries: cfg.JobMaxRetries,
		Retention: queue.Retention{
			Completed: cfg.QueueCompletedRetention,
			Failed:    cfg.QueueFailedRetention,
		},
		Priorities: priorities(cfg.CategoryPriorities),
	}, logger)
	tracker := jobs.NewTracker(q, st.jobs)
	canceller := jobs.NewCanceller(tracker, st.jobs, q, compensator, nil, emitter, logger)

	engine := recovery.NewEngine(st.jobs, submitter, compensator, ledgerStore(rdb, cfg), emitter, recovery.Config{
		Backoff:            recovery.Backoff{Base: cfg.RetryBase, Cap: cfg.RetryCap},
		CompletedRetention: cfg.CompletedRetention,
		HistoryRetention:   cfg.HistoryRetention,
		CleanupInterval:    cfg.CleanupInterval,
		CallTimeout:        cfg.StoreTimeout,
	}, logger)
	submitter.SetHooks(engine)
	canceller.SetHooks(engine)

	restored, err := engine.Rehydrate(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("recovery ledger partially restored")
	}
	logger.Info().Int("entries", restored).Msg("recovery ledger restored")

	poller := recovery.NewPoller(engine, tracker, recovery.PollerConfig{
		Interval:    cfg.PollInterval,
		Concurrency: cfg.PollConcurrency,
		CallTimeout: cfg.StoreTimeout,
	}, logger)

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
		defer resolver.Close()
	}

	app := &handlers.App{
		Submitter: submitter,
		Resolver:  tracker,
		Canceller: canceller,
		Jobs:      st.jobs,
		Credits:   st.ledger,
		Checks:    st.checks,
		Logger:    logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger: logger,
		JWT: middleware.JWTConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		},
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   lookup,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("api stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func openStores(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*stores, error) {
	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Warn().Msg("using in-memory stores; data is lost on restart")
		return &stores{
			jobs:   memory.NewJobStore(),
			ledger: memory.NewLedger(),
			checks: map[string]handlers.HealthCheck{},
			close:  func() {},
		}, nil
	}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	runner := infra.NewSQLRunner(pool, logger)
	return &stores{
		jobs:   repo.NewJobRepository(runner),
		ledger: repo.NewCreditLedger(runner),
		checks: map[string]handlers.HealthCheck{"postgres": pool.Ping},
		close:  pool.Close,
	}, nil
}

func ledgerStore(rdb *redis.Client, cfg *infra.Config) recovery.LedgerStore {
	return recovery.NewRedisLedgerStore(rdb, cfg.QueuePrefix+":recovery")
}

func priorities(in map[string]int) map[domain.Category]int {
	out := make(map[domain.Category]int, len(in))
	for k, v := range in {
		out[domain.Category(k)] = v
	}
	return out
}
