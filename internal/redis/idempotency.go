package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/metrics"
)

const (
	// IdempotencyTTL is how long a completed submission is replayed for a key.
	IdempotencyTTL = 24 * time.Hour

	// processingTTL is the lock duration while a request is being processed.
	processingTTL = 2 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest means another submission with the same key is still running.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key is being processed")

// IdempotencyResult is the cached response of a completed submission.
type IdempotencyResult struct {
	RequestID  string          `json:"request_id"`
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	CreatedAt  int64           `json:"created_at"`
}

// IdempotencyService makes request submission safe to retry.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
	}
}

// Keys are scoped by requester so two users cannot collide on the same key.
func (s *IdempotencyService) buildKey(requesterID, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", requesterID, idempotencyKey)
}

// Check returns (nil, nil) if the key is unknown, the cached result if the
// submission completed, or ErrDuplicateRequest if it is still running.
func (s *IdempotencyService) Check(ctx context.Context, requesterID, idempotencyKey string) (*IdempotencyResult, error) {
	key := s.buildKey(requesterID, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result IdempotencyResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal idempotency result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	metrics.RecordIdempotencyHit()
	s.logger.Debug("idempotency cache hit",
		zap.String("requester_id", requesterID),
		zap.String("request_id", result.RequestID),
	)

	return &result, nil
}

// Store saves the response of a completed submission, replacing the lock.
func (s *IdempotencyService) Store(ctx context.Context, requesterID, idempotencyKey string, result *IdempotencyResult) error {
	key := s.buildKey(requesterID, idempotencyKey)

	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, key, data, IdempotencyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Reserve acquires the key with SET NX. It reports false if the key exists.
func (s *IdempotencyService) Reserve(ctx context.Context, requesterID, idempotencyKey string) (bool, error) {
	key := s.buildKey(requesterID, idempotencyKey)

	set, err := s.client.rdb.SetNX(ctx, key, processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	return set, nil
}

// Release drops a reservation so a failed submission can be retried with the
// same key. A stored result is left alone.
func (s *IdempotencyService) Release(ctx context.Context, requesterID, idempotencyKey string) error {
	key := s.buildKey(requesterID, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if val != processingMarker {
		return nil
	}

	if err := s.client.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// CheckOrReserve returns the cached result if there is one, otherwise
// reserves the key and returns (nil, nil).
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, requesterID, idempotencyKey string) (*IdempotencyResult, error) {
	result, err := s.Check(ctx, requesterID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	reserved, err := s.Reserve(ctx, requesterID, idempotencyKey)
	if err != nil {
		return nil, err
	}

	if !reserved {
		return nil, ErrDuplicateRequest
	}

	return nil, nil
}
