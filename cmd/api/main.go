package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/intlpay/payportal/internal/atrest"
	"github.com/intlpay/payportal/internal/config"
	"github.com/intlpay/payportal/internal/infra"
	"github.com/intlpay/payportal/internal/jobs"
	"github.com/intlpay/payportal/internal/logging"
	"github.com/intlpay/payportal/internal/notification"
	"github.com/intlpay/payportal/internal/routes"
	"github.com/intlpay/payportal/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	codec, err := atrest.New(cfg.DataKey)
	if err != nil {
		logger.Error("build at-rest codec", "error", err)
		os.Exit(1)
	}

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := infra.Migrate(ctx, db); err != nil {
			logger.Error("migrate", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(logger)
	if cfg.RabbitMQURL != "" {
		amqpNotifier, err := notification.NewAMQPNotifier(cfg.RabbitMQURL, cfg.EventsExchange, logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable, falling back to log notifier", "error", err)
		} else {
			defer amqpNotifier.Close()
			notifier = amqpNotifier
		}
	}

	srv, err := server.New(routes.Deps{
		Cfg:      cfg,
		DB:       db,
		Cache:    cache,
		Codec:    codec,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	scheduler := jobs.NewScheduler(srv.Services().Payments, cfg.AuthSweepSchedule, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error("start scheduler", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		<-scheduler.Stop().Done()
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before deadline")
	}

	logger.Info("server exited cleanly")
}
