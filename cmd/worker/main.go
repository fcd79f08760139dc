package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"ChunkVault/config"
	"ChunkVault/internal/mq"
	"ChunkVault/internal/repo"
	"ChunkVault/internal/storage"
	"ChunkVault/internal/task"
	"ChunkVault/internal/worker"
)

func main() {
	cfg := config.Load()
	provider := config.NewProvider(cfg)
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.OpenMysql(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("mysql connect failed")
	}
	blobs, err := storage.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("minio connect failed")
	}
	mqClient, err := mq.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("rabbitmq connect failed")
	}
	defer mqClient.Close()
	if err := mqClient.DeclareTopology(); err != nil {
		logger.Fatal().Err(err).Msg("rabbitmq topology failed")
	}

	cleanupStore := repo.NewCleanupStore(db)
	requeuePending(ctx, cleanupStore, mqClient, logger)

	processor := task.NewCleanupProcessor(cleanupStore, blobs, logger)
	cleanupWorker := worker.NewCleanupWorker(mqClient, processor, provider, logger)

	logger.Info().Msg("cleanup worker started")
	if err := cleanupWorker.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("cleanup worker stopped")
	}
}

// requeuePending re-publishes tasks whose queue message was lost, for
// example when a publish failed after the row committed.
func requeuePending(ctx context.Context, tasks *repo.CleanupStore, client *mq.Client, logger zerolog.Logger) {
	pending, err := tasks.ListPending(ctx, 1000)
	if err != nil {
		logger.Warn().Err(err).Msg("pending cleanup scan failed")
		return
	}
	for _, t := range pending {
		body, err := json.Marshal(mq.CleanupMessage{TaskID: t.ID, Attempt: t.Attempts})
		if err != nil {
			continue
		}
		if err := client.PublishCleanup(ctx, body); err != nil {
			logger.Warn().Err(err).Uint64("task_id", t.ID).Msg("cleanup requeue failed")
			return
		}
	}
	if len(pending) > 0 {
		logger.Info().Int("count", len(pending)).Msg("pending cleanup tasks requeued")
	}
}
