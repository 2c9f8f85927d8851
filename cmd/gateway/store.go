package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/api"
	"github.com/lalithlochan/bloodlink/internal/config"
	"github.com/lalithlochan/bloodlink/internal/db"
	"github.com/lalithlochan/bloodlink/internal/dispatch"
	"github.com/lalithlochan/bloodlink/internal/matching"
	"github.com/lalithlochan/bloodlink/internal/metrics"
	"github.com/lalithlochan/bloodlink/internal/mongostore"
	"github.com/lalithlochan/bloodlink/internal/worker"
)

// backend is what the gateway needs from a store. The Postgres repository
// and the MongoDB store both satisfy it.
type backend interface {
	api.Store
	matching.DonorRegistry
	dispatch.RequestStore
	dispatch.NotificationStore
	worker.TokenStore
}

type openedStore struct {
	backend
	close func()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*openedStore, error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		store, err := mongostore.New(ctx, mongostore.Config{
			URL:           cfg.MongoURL,
			Database:      cfg.MongoDatabase,
			MaxPoolSize:   uint64(cfg.DBMaxConns),
			RetryAttempts: 5,
			RetryInterval: 2 * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		return &openedStore{
			backend: store,
			close: func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := store.Close(closeCtx); err != nil {
					logger.Warn("failed to close mongo", zap.Error(err))
				}
			},
		}, nil

	default:
		database, err := db.New(ctx, db.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
			MaxConns: cfg.DBMaxConns,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		poolCtx, stopPool := context.WithCancel(context.Background())
		go reportPool(poolCtx, database)

		return &openedStore{
			backend: db.NewRepository(database, logger),
			close: func() {
				stopPool()
				database.Close()
			},
		}, nil
	}
}

// reportPool publishes the pgx pool size until ctx is done.
func reportPool(ctx context.Context, database *db.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		metrics.SetDBConnections(int(database.Pool().Stat().TotalConns()))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
