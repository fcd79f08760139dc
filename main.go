package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ChunkVault/config"
	"ChunkVault/internal/filerecord"
	"ChunkVault/internal/handler"
	"ChunkVault/internal/mq"
	"ChunkVault/internal/repo"
	"ChunkVault/internal/storage"
	"ChunkVault/internal/upload"
	"ChunkVault/router"
	"ChunkVault/utils"
)

// main initializes services and starts the HTTP server.
func main() {
	cfg := config.Load()
	provider := config.NewProvider(cfg)
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx := context.Background()

	db, err := repo.OpenMysql(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("mysql connect failed")
	}
	redisClient, err := repo.OpenRedis(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	cache := utils.NewRedisCache(redisClient)
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

	sessionStore := repo.NewSessionStore(db)
	chunkStore := repo.NewChunkStore(db)
	fileStore := repo.NewFileStore(db, cache)
	recordStore := repo.NewRecordStore(db)
	cleanupStore := repo.NewCleanupStore(db)
	publisher := mq.NewPublisher(mqClient, cleanupStore, logger)

	manager := upload.NewSessionManager(sessionStore, chunkStore, blobs, recordStore, publisher, provider, nil, logger)
	merger := upload.NewMergeEngine(sessionStore, chunkStore, fileStore, recordStore, blobs, publisher, provider, nil, logger)
	admission := upload.NewAdmission(cfg.MaxConcurrentUploads)
	engine := upload.NewChunkIngestEngine(sessionStore, chunkStore, blobs, admission, merger, provider, nil, logger)
	uploader := upload.NewUploader(manager, engine, chunkStore, logger)

	reaper := upload.NewReaper(sessionStore, chunkStore, blobs, publisher, provider, nil, logger)
	reaper.Start()
	defer reaper.Stop()

	records := filerecord.NewService(fileStore, recordStore, blobs, publisher, logger)

	var limiter *rate.Limiter
	if cfg.UploadRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.UploadRate), cfg.UploadBurst)
	}

	r := router.InitRouter(
		cfg.JWTSecret,
		limiter,
		handler.NewUploadHandler(uploader),
		handler.NewFileHandler(records),
	)
	if err := r.Run(":8000"); err != nil {
		logger.Fatal().Err(err).Msg("http server stopped")
	}
}
