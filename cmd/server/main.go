package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tillcore/backend/internal/cache"
	"tillcore/backend/internal/config"
	"tillcore/backend/internal/creditcard"
	"tillcore/backend/internal/events"
	"tillcore/backend/internal/httpapi"
	"tillcore/backend/internal/lock"
	"tillcore/backend/internal/logger"
	"tillcore/backend/internal/service"
	"tillcore/backend/internal/store"
	"tillcore/backend/internal/store/memory"
	pgstore "tillcore/backend/internal/store/postgres"
	"tillcore/backend/internal/tracing"
)

const (
	serviceName    = "tillcore"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.New(serviceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := validateSecurityConfig(cfg); err != nil {
		log.Error("invalid security configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("close error", slog.Any("error", err))
			}
		}
	}()

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSample,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	closers = append(closers, func() error {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		return shutdownTracer(flushCtx)
	})

	var repo interface {
		store.Repository
		httpapi.UserStore
	}
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		repo = pg
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	opts := []service.Option{service.WithLogger(log)}

	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		saleCache := cache.NewRedisSaleCache(client)
		if err := saleCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-process locks and no sale cache", slog.Any("error", err))
			_ = client.Close()
		} else {
			closers = append(closers, client.Close)
			opts = append(opts,
				service.WithSaleCache(saleCache, cfg.SaleCacheTTL()),
				service.WithLocker(lock.NewRedis(client, cfg.LockTTL())),
			)
			log.Info("cache and locks: redis", slog.String("addr", cfg.RedisAddr))
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(events.DefaultProducerConfig(cfg.KafkaBrokers, cfg.KafkaTopic), log)
		closers = append(closers, publisher.Close)
		opts = append(opts, service.WithPublisher(publisher))
		log.Info("events: kafka", slog.String("topic", cfg.KafkaTopic))
	}

	registry := creditcard.NewRegistry(nil)
	if cfg.CreditCardsFile != "" {
		registry, err = creditcard.LoadFile(cfg.CreditCardsFile)
		if err != nil {
			return err
		}
	}
	opts = append(opts, service.WithCardGateway(
		creditcard.NewBreakerGateway(registry, creditcard.DefaultBreakerConfig("card-gateway"), log),
	))

	svc := service.New(repo, opts...)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:      cfg.AllowedOrigin,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Production:         cfg.IsProduction(),
		Logger:             log,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("tillcore backend listening", slog.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("shutting down", slog.String("signal", s.String()))
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", slog.Any("error", err))
	}
	log.Info("server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() && cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must not be * in production")
	}
	return nil
}
