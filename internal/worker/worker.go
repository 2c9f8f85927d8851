// Package worker consumes token-health events and clears push tokens the
// provider has reported as permanently dead.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/metrics"
	"github.com/lalithlochan/bloodlink/internal/sns"
	"github.com/lalithlochan/bloodlink/internal/sqs"
)

// Queue is the token-health event source.
type Queue interface {
	Receive(ctx context.Context, limit int32) ([]sqs.Received, error)
	Delete(ctx context.Context, receiptHandle string) error
	Release(ctx context.Context, receiptHandle string, seconds int32) error
}

// TokenStore removes a push token from every device and donor record holding it.
type TokenStore interface {
	ClearPushToken(ctx context.Context, token string) (int64, error)
}

type Worker struct {
	queue  Queue
	store  TokenStore
	config Config
	logger *zap.Logger
}

type Config struct {
	BatchSize       int32
	ErrorBackoff    time.Duration
	RetryVisibility int32 // seconds before a failed message is retried
}

func New(queue Queue, store TokenStore, cfg Config, logger *zap.Logger) *Worker {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if cfg.RetryVisibility == 0 {
		cfg.RetryVisibility = 30
	}

	return &Worker{
		queue:  queue,
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Start polls until ctx is cancelled. Receive long-polls, so there is no ticker.
func (w *Worker) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			w.logger.Info("token audit worker stopping")
			return
		}

		if err := w.processBatch(ctx); err != nil {
			w.logger.Error("failed to receive token-health events", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.config.ErrorBackoff):
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	messages, err := w.queue.Receive(ctx, w.config.BatchSize)
	if err != nil {
		return err
	}
	for _, m := range messages {
		w.processMessage(ctx, m)
	}
	return nil
}

func (w *Worker) processMessage(ctx context.Context, m sqs.Received) {
	if m.Err != nil {
		metrics.RecordTokenHealth("malformed")
		w.delete(ctx, m.ReceiptHandle)
		return
	}

	for _, f := range m.Event.Failures {
		if !sns.IsTerminal(f.ErrorCode) {
			metrics.RecordTokenHealth("kept")
			continue
		}

		n, err := w.store.ClearPushToken(ctx, f.Token)
		if err != nil {
			w.logger.Error("failed to clear push token",
				zap.String("request_id", m.Event.RequestID),
				zap.String("error_code", f.ErrorCode),
				zap.Error(err),
			)
			// Clearing is idempotent, so the whole message can be redelivered.
			if err := w.queue.Release(ctx, m.ReceiptHandle, w.config.RetryVisibility); err != nil {
				w.logger.Warn("failed to release message", zap.Error(err))
			}
			return
		}

		if n == 0 {
			metrics.RecordTokenHealth("already_cleared")
			continue
		}
		metrics.RecordTokenHealth("cleared")
		w.logger.Info("push token cleared",
			zap.String("request_id", m.Event.RequestID),
			zap.String("error_code", f.ErrorCode),
			zap.Int64("rows", n),
		)
	}

	w.delete(ctx, m.ReceiptHandle)
}

func (w *Worker) delete(ctx context.Context, handle string) {
	if err := w.queue.Delete(ctx, handle); err != nil {
		w.logger.Warn("failed to delete message", zap.Error(err))
	}
}
