// Package mongostore is the document-database backend for donors, device
// tokens, blood requests and notification history. It satisfies the same
// interfaces as the Postgres repository in internal/db.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const (
	donorsCollection        = "donors"
	deviceTokensCollection  = "device_tokens"
	requestsCollection      = "blood_requests"
	notificationsCollection = "notifications"
)

// ErrFailedToConnect is returned when every connection attempt failed.
var ErrFailedToConnect = errors.New("failed to connect to mongo")

// Config holds connection settings.
type Config struct {
	URL            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
	RetryAttempts  int
	RetryInterval  time.Duration
}

// Store wraps one mongo database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// New connects, pings and ensures indexes. Connection is retried
// RetryAttempts times, RetryInterval apart.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	var lastErr error
	for attempt := range cfg.RetryAttempts {
		client, err := mongo.Connect(
			options.Client().
				ApplyURI(cfg.URL).
				SetConnectTimeout(cfg.ConnectTimeout).
				SetMaxPoolSize(cfg.MaxPoolSize).
				SetRetryWrites(true).
				SetRetryReads(true),
		)
		if err == nil {
			if err = client.Ping(ctx, nil); err == nil {
				s := &Store{client: client, db: client.Database(cfg.Database), logger: logger}
				if err := s.ensureIndexes(ctx); err != nil {
					_ = client.Disconnect(ctx)
					return nil, err
				}
				logger.Info("mongo connection established",
					zap.String("database", cfg.Database),
					zap.Int("attempt", attempt+1),
				)
				return s, nil
			}
			_ = client.Disconnect(ctx)
		}
		lastErr = err

		logger.Warn("mongo connection attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrFailedToConnect, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrFailedToConnect, lastErr)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	s.logger.Info("closing mongo connection")
	return s.client.Disconnect(ctx)
}

// Health pings the primary.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		donorsCollection: {
			{Keys: bson.D{{Key: "bloodGroup", Value: 1}, {Key: "district", Value: 1}, {Key: "isActive", Value: 1}}},
			{Keys: bson.D{{Key: "pushToken", Value: 1}}},
		},
		deviceTokensCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}}},
			{Keys: bson.D{{Key: "token", Value: 1}}},
		},
		notificationsCollection: {
			{Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "isRead", Value: 1}}},
		},
	}

	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

// inTransaction runs fn inside a multi-document transaction.
func (s *Store) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}
