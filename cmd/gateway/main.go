package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/api"
	"github.com/lalithlochan/bloodlink/internal/circuitbreaker"
	"github.com/lalithlochan/bloodlink/internal/config"
	"github.com/lalithlochan/bloodlink/internal/dispatch"
	"github.com/lalithlochan/bloodlink/internal/matching"
	"github.com/lalithlochan/bloodlink/internal/observ"
	"github.com/lalithlochan/bloodlink/internal/push"
	"github.com/lalithlochan/bloodlink/internal/redis"
	"github.com/lalithlochan/bloodlink/internal/sns"
	"github.com/lalithlochan/bloodlink/internal/sqs"
	"github.com/lalithlochan/bloodlink/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger("gateway", cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting bloodlink gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.String("push_provider", cfg.PushProvider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	// Push delivery: provider -> breaker -> batcher
	var provider push.Provider
	switch cfg.PushProvider {
	case config.PushSNS:
		provider, err = sns.NewProvider(ctx, sns.Config{
			Region:                 cfg.AWSRegion,
			Endpoint:               cfg.AWSEndpoint,
			PlatformApplicationARN: cfg.SNSPlatformApplicationARN,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create sns provider: %w", err)
		}
	default:
		provider = push.NewLogProvider(logger)
	}

	breakerCfg := circuitbreaker.DefaultConfig("push_provider")
	breakerCfg.MaxFailures = cfg.PushBreakerFailures
	breakerCfg.RecoveryTimeout = cfg.PushBreakerOpenFor
	breaker := circuitbreaker.New(breakerCfg, logger)

	batcher := push.NewBatcher(
		circuitbreaker.NewProtectedProvider(provider, breaker, logger),
		cfg.PushParallelism,
		logger,
	)

	// Failed tokens go to SQS for the audit worker when a queue is configured
	var health dispatch.TokenHealthReporter
	var consumer *sqs.Consumer
	if cfg.SQSTokenHealthQueueURL != "" {
		client, err := sqs.NewClient(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			Endpoint: cfg.AWSEndpoint,
			QueueURL: cfg.SQSTokenHealthQueueURL,
		})
		if err != nil {
			logger.Warn("sqs unavailable, token audit disabled", zap.Error(err))
		} else {
			health = sqs.NewProducer(client, cfg.SQSTokenHealthQueueURL, logger)
			consumer = sqs.NewConsumer(client, cfg.SQSTokenHealthQueueURL, logger)
		}
	}

	service := dispatch.NewService(
		store,
		matching.NewFinder(store, logger),
		dispatch.NewRecorder(store, logger),
		batcher,
		health,
		logger,
	)

	handler := api.NewHandler(logger, service, store).WithBreaker(breaker)

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		defer redisClient.Close()
		handler.WithIdempotency(redis.NewIdempotencyService(redisClient, logger))
	}

	if consumer != nil {
		w := worker.New(consumer, store, worker.Config{
			BatchSize:       cfg.TokenAuditBatchSize,
			ErrorBackoff:    5 * time.Second,
			RetryVisibility: cfg.TokenAuditRetryAfter,
		}, logger)
		go w.Start(ctx)
		logger.Info("token audit worker started")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, logger, cfg.SubmitTimeout),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SubmitTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// Give outstanding requests 10 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
