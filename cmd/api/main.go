package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"warden/internal/cache"
	"warden/internal/config"
	"warden/internal/handlers"
	"warden/internal/jobs"
	"warden/internal/log"
	"warden/internal/mail"
	"warden/internal/security"
	"warden/internal/server"
	"warden/internal/service"
	"warden/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	backend, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open storage")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
	}

	hashCfg := cfg.Security.PasswordHash
	hasher, err := security.NewPasswordHasher(security.Argon2Params{
		Time:    hashCfg.Time,
		Memory:  hashCfg.Memory,
		Threads: hashCfg.Threads,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("password hasher self test failed")
	}

	issuer, err := security.NewTokenIssuer(cfg.Security.JWTAccessSecret, cfg.Security.JWTRefreshSecret, cfg.Security.Issuer, time.Now)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init token issuer")
	}

	var mailer mail.Dispatcher = mail.NewLogDispatcher(logger)
	if redisClient != nil {
		mailer = mail.NewStreamDispatcher(redisClient, cfg.Mail.Stream)
	} else {
		logger.Warn().Msg("redis disabled, outbound mail is logged only")
	}

	services := service.New(service.Dependencies{
		Store:    backend.Set,
		Hasher:   hasher,
		Issuer:   issuer,
		Mailer:   mailer,
		Security: cfg.Security,
		Log:      logger,
	})
	if err := services.Roles.Seed(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed system roles")
	}

	handlerSet := handlers.NewHandlerSet(logger, cfg, services, backend, redisClient)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(backend.Tokens, redisClient, cfg.Jobs.PurgeSchedule, cfg.Jobs.PurgeLease, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, backend, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, backend *storage.Backend, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("token purge still running at shutdown")
	}

	backend.Close()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
