package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/push"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return newWithClock(cfg, testLogger(), clock.now), clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_StartsInClosedState(t *testing.T) {
	cb := New(DefaultConfig("test"), testLogger())
	if cb.Current() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.Current())
	}
}

func TestCircuitBreaker_AllowsRequestsWhenClosed(t *testing.T) {
	cb := New(DefaultConfig("test"), testLogger())
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 3, RecoveryTimeout: time.Second})
	trip(cb, 3)
	if cb.Current() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.Current())
	}
	if cb.Allow() {
		t.Fatal("should reject when open")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 30 * time.Second})
	trip(cb, 2)

	clock.advance(29 * time.Second)
	if cb.Allow() {
		t.Fatal("should still reject before the recovery timeout")
	}

	clock.advance(time.Second)
	if !cb.Allow() {
		t.Fatal("should allow probe after timeout")
	}
	if cb.Current() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %s", cb.Current())
	}
}

func TestCircuitBreaker_ProbeOutcome(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		want    State
	}{
		{"successful probe closes", true, StateClosed},
		{"failed probe reopens", false, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Minute})
			trip(cb, 2)
			clock.advance(time.Minute)

			cb.Allow()
			if tt.success {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
			if cb.Current() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, cb.Current())
			}
		})
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 3})
	trip(cb, 2)
	cb.Allow()
	cb.RecordSuccess()
	trip(cb, 2)
	if cb.Current() != StateClosed {
		t.Fatal("success should have reset failure count")
	}
}

func TestCircuitBreaker_HalfOpenLimitsRequests(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Second, HalfOpenMaxRequests: 1})
	trip(cb, 2)
	clock.advance(time.Second)

	if !cb.Allow() {
		t.Fatal("first half-open request should be allowed")
	}
	if cb.Allow() {
		t.Fatal("second half-open request should be rejected")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "stats-test", MaxFailures: 5, RecoveryTimeout: 5 * time.Second})
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()

	stats := cb.Stats()
	if stats.Name != "stats-test" {
		t.Fatalf("name = %s", stats.Name)
	}
	if stats.TotalRequests != 3 {
		t.Fatalf("total_requests = %d", stats.TotalRequests)
	}
	if stats.TotalSuccesses != 2 {
		t.Fatalf("total_successes = %d", stats.TotalSuccesses)
	}
	if stats.TotalFailures != 1 {
		t.Fatalf("total_failures = %d", stats.TotalFailures)
	}
	if stats.LastFailure == "" {
		t.Fatal("last_failure should be set")
	}
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig("svc")
	if cfg.MaxFailures != 5 {
		t.Fatalf("max_failures = %d", cfg.MaxFailures)
	}
	if cfg.RecoveryTimeout != 30*time.Second {
		t.Fatalf("recovery_timeout = %v", cfg.RecoveryTimeout)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

// --- ProtectedProvider ---

type mockProvider struct {
	err     error
	code    string
	calls   int
	success bool
}

func (m *mockProvider) SendMulticast(_ context.Context, targets []push.Target, _ push.Message) ([]push.Result, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]push.Result, len(targets))
	for i, t := range targets {
		out[i] = push.Result{Token: t.Token, Success: m.success, ErrorCode: m.code}
	}
	return out, nil
}

var chunk = []push.Target{{Token: "fcm:aaaaaaaaaa"}, {Token: "fcm:bbbbbbbbbb"}}

func TestProtectedProvider_PassesThrough(t *testing.T) {
	mock := &mockProvider{success: true}
	pp := NewProtectedProvider(mock, New(Config{Name: "test", MaxFailures: 5}, testLogger()), testLogger())

	results, err := pp.SendMulticast(context.Background(), chunk, push.Message{})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(results) != 2 || mock.calls != 1 {
		t.Fatalf("results = %d, calls = %d", len(results), mock.calls)
	}
}

func TestProtectedProvider_FailFastWhenOpen(t *testing.T) {
	mock := &mockProvider{err: errors.New("down")}
	pp := NewProtectedProvider(mock, New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Hour}, testLogger()), testLogger())

	pp.SendMulticast(context.Background(), chunk, push.Message{})
	pp.SendMulticast(context.Background(), chunk, push.Message{})
	mock.calls = 0

	_, err := pp.SendMulticast(context.Background(), chunk, push.Message{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got: %v", err)
	}
	if mock.calls != 0 {
		t.Fatalf("provider called %d times when circuit open", mock.calls)
	}
}

func TestProtectedProvider_StaleTokensDoNotTrip(t *testing.T) {
	mock := &mockProvider{code: "EndpointDisabled"}
	pp := NewProtectedProvider(mock, New(Config{Name: "test", MaxFailures: 1}, testLogger()), testLogger())

	for i := 0; i < 3; i++ {
		if _, err := pp.SendMulticast(context.Background(), chunk, push.Message{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if pp.Breaker().Current() != StateClosed {
		t.Fatalf("expected closed, got %s", pp.Breaker().Current())
	}
}

func TestProtectedProvider_TransportFailuresTrip(t *testing.T) {
	mock := &mockProvider{code: push.CodeProviderError}
	pp := NewProtectedProvider(mock, New(Config{Name: "test", MaxFailures: 2}, testLogger()), testLogger())

	pp.SendMulticast(context.Background(), chunk, push.Message{})
	pp.SendMulticast(context.Background(), chunk, push.Message{})

	if pp.Breaker().Current() != StateOpen {
		t.Fatalf("expected open, got %s", pp.Breaker().Current())
	}
}

func TestProtectedProvider_FullLifecycle(t *testing.T) {
	mock := &mockProvider{success: true}
	cb, clock := newTestBreaker(Config{Name: "lifecycle", MaxFailures: 3, RecoveryTimeout: time.Minute})
	pp := NewProtectedProvider(mock, cb, testLogger())
	ctx := context.Background()

	if _, err := pp.SendMulticast(ctx, chunk, push.Message{}); err != nil {
		t.Fatalf("phase1: %v", err)
	}

	mock.err = errors.New("provider down")
	for i := 0; i < 3; i++ {
		pp.SendMulticast(ctx, chunk, push.Message{})
	}
	if cb.Current() != StateOpen {
		t.Fatalf("phase2: expected open, got %s", cb.Current())
	}

	mock.calls = 0
	if _, err := pp.SendMulticast(ctx, chunk, push.Message{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("phase3: %v", err)
	}
	if mock.calls != 0 {
		t.Fatal("phase3: provider should not be called")
	}

	clock.advance(time.Minute)
	mock.err = nil
	if _, err := pp.SendMulticast(ctx, chunk, push.Message{}); err != nil {
		t.Fatalf("phase4: %v", err)
	}
	if cb.Current() != StateClosed {
		t.Fatalf("phase4: expected closed, got %s", cb.Current())
	}
}
