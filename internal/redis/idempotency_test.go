package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return client, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestIdempotencyService_NewRequest(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	result, err := svc.CheckOrReserve(ctx, "donor-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for new request, got: %+v", result)
	}
}

func TestIdempotencyService_DuplicateRequest(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	// First request
	if _, err := svc.CheckOrReserve(ctx, "donor-1", "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	// Duplicate request
	if _, err := svc.CheckOrReserve(ctx, "donor-1", "key-1"); err != ErrDuplicateRequest {
		t.Fatalf("expected ErrDuplicateRequest, got: %v", err)
	}
}

func TestIdempotencyService_CachedResult(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	stored := &IdempotencyResult{
		RequestID:  "req-123",
		StatusCode: 201,
		Body:       json.RawMessage(`{"success":true,"notifiedDonors":4}`),
		CreatedAt:  time.Now().Unix(),
	}

	if err := svc.Store(ctx, "donor-1", "key-1", stored); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	result, err := svc.Check(ctx, "donor-1", "key-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected cached result")
	}
	if result.RequestID != "req-123" {
		t.Errorf("expected req-123, got %s", result.RequestID)
	}
	if string(result.Body) != `{"success":true,"notifiedDonors":4}` {
		t.Errorf("body not replayed verbatim: %s", result.Body)
	}
}

func TestIdempotencyService_RequesterIsolation(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "donor-A", "same-key"); err != nil {
		t.Fatalf("requester A failed: %v", err)
	}

	result, err := svc.CheckOrReserve(ctx, "donor-B", "same-key")
	if err != nil {
		t.Fatalf("requester B should succeed: %v", err)
	}
	if result != nil {
		t.Fatal("requester B should get nil (new request)")
	}
}

func TestIdempotencyService_ReserveThenStore(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	reserved, err := svc.Reserve(ctx, "donor-1", "key-1")
	if err != nil || !reserved {
		t.Fatalf("reserve failed: %v, reserved: %v", err, reserved)
	}

	if err := svc.Store(ctx, "donor-1", "key-1", &IdempotencyResult{
		RequestID:  "req-789",
		StatusCode: 201,
	}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	cached, err := svc.Check(ctx, "donor-1", "key-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if cached.RequestID != "req-789" {
		t.Errorf("expected req-789, got %s", cached.RequestID)
	}
}

func TestIdempotencyService_ReleaseAllowsRetry(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "donor-1", "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.Release(ctx, "donor-1", "key-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	result, err := svc.CheckOrReserve(ctx, "donor-1", "key-1")
	if err != nil || result != nil {
		t.Fatalf("expected fresh reservation after release, got %+v, %v", result, err)
	}
}

func TestIdempotencyService_ReleaseKeepsStoredResult(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if err := svc.Store(ctx, "donor-1", "key-1", &IdempotencyResult{RequestID: "req-1", StatusCode: 201}); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if err := svc.Release(ctx, "donor-1", "key-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	cached, err := svc.Check(ctx, "donor-1", "key-1")
	if err != nil || cached == nil || cached.RequestID != "req-1" {
		t.Fatalf("stored result should survive release, got %+v, %v", cached, err)
	}
}
