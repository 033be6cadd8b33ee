package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"warden/internal/cache"
	"warden/internal/config"
	"warden/internal/log"
	"warden/internal/queue"
	"warden/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("component", "mail-worker").Logger()

	if !cfg.Redis.Enabled() {
		logger.Fatal().Msg("redis.addr is required for the mail worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	processor := tasks.NewProcessor(cfg.Mail.BaseURL, tasks.NewLogSender(logger), logger)
	consumer := queue.NewConsumer(client, queue.Options{
		Stream:        cfg.Mail.Stream,
		Group:         cfg.Mail.Group,
		Consumer:      cfg.Mail.Consumer,
		ClaimInterval: cfg.Mail.ClaimInterval,
	}, logger, processor)

	logger.Info().Str("stream", cfg.Mail.Stream).Str("group", cfg.Mail.Group).Msg("mail worker starting")

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("consumer stopped unexpectedly")
	}

	logger.Info().Msg("mail worker stopped")
}
