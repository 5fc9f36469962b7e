package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"creditjobs/internal/infra"
	"creditjobs/internal/queue"
	"creditjobs/internal/storage"
	"creditjobs/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer rdb.Close()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	w := worker.New(
		queue.NewRedisQueue(rdb, cfg.QueuePrefix+":queue"),
		fileStore,
		worker.SyntheticGenerator{StepDelay: cfg.WorkerStepDelay},
		worker.Config{
			Concurrency: cfg.WorkerConcurrency,
			IdleWait:    cfg.WorkerIdleWait,
			JobTimeout:  cfg.WorkerJobTimeout,
		},
		logger,
	)
	if err := w.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
