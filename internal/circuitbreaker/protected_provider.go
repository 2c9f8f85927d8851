package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/push"
)

// ProtectedProvider wraps a push.Provider with a CircuitBreaker. While the
// breaker is open every chunk fails fast and the batcher marks its tokens
// failed without waiting on a dead provider.
type ProtectedProvider struct {
	provider push.Provider
	breaker  *CircuitBreaker
	logger   *zap.Logger
}

// NewProtectedProvider decorates provider.
func NewProtectedProvider(provider push.Provider, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedProvider {
	return &ProtectedProvider{
		provider: provider,
		breaker:  breaker,
		logger:   logger,
	}
}

// SendMulticast forwards to the wrapped provider when the breaker allows it.
// A chunk counts as a breaker failure when the call errors or when every
// token in it failed with a transport error; stale tokens do not count.
func (p *ProtectedProvider) SendMulticast(ctx context.Context, targets []push.Target, msg push.Message) ([]push.Result, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected push chunk",
			zap.String("breaker", p.breaker.Name()),
			zap.Int("tokens", len(targets)),
			zap.String("state", p.breaker.Current().String()),
		)
		return nil, fmt.Errorf("%w: %s provider unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	results, err := p.provider.SendMulticast(ctx, targets, msg)
	if err != nil || allTransportFailures(results) {
		p.breaker.RecordFailure()
		return results, err
	}

	p.breaker.RecordSuccess()
	return results, nil
}

// Breaker returns the underlying circuit breaker.
func (p *ProtectedProvider) Breaker() *CircuitBreaker {
	return p.breaker
}

func allTransportFailures(results []push.Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Success || r.ErrorCode != push.CodeProviderError {
			return false
		}
	}
	return true
}
