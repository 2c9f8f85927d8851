package push

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/bloodlink/internal/metrics"
)

// Outcome aggregates one dispatch. It is not persisted.
type Outcome struct {
	SuccessCount int
	FailureCount int
	Results      []Result
}

// Failed returns the results that did not succeed.
func (o Outcome) Failed() []Result {
	var out []Result
	for _, r := range o.Results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}

// Batcher partitions targets into chunks and sends them. It does not retry:
// calling Dispatch twice sends twice.
type Batcher struct {
	provider    Provider
	parallelism int
	chunkSize   int
	logger      *zap.Logger
}

// NewBatcher creates a Batcher that keeps at most parallelism chunks in flight.
func NewBatcher(provider Provider, parallelism int, logger *zap.Logger) *Batcher {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Batcher{
		provider:    provider,
		parallelism: parallelism,
		chunkSize:   MaxMulticastTokens,
		logger:      logger,
	}
}

// Dispatch sends msg to every distinct non-empty token in targets. An empty
// token set returns a zero Outcome without calling the provider. A failing
// chunk never stops the others.
func (b *Batcher) Dispatch(ctx context.Context, targets []Target, msg Message) Outcome {
	targets = uniqueTargets(targets)
	if len(targets) == 0 {
		return Outcome{}
	}

	chunks := chunk(targets, b.chunkSize)
	results := make([][]Result, len(chunks))

	var g errgroup.Group
	g.SetLimit(b.parallelism)
	for i, c := range chunks {
		g.Go(func() error {
			results[i] = b.send(ctx, i, c, msg)
			return nil
		})
	}
	_ = g.Wait()

	var out Outcome
	for _, rs := range results {
		for _, r := range rs {
			if r.Success {
				out.SuccessCount++
			} else {
				out.FailureCount++
			}
			metrics.RecordPushResult(r.Success, r.ErrorCode)
		}
		out.Results = append(out.Results, rs...)
	}

	b.logger.Info("push dispatch complete",
		zap.Int("tokens", len(targets)),
		zap.Int("chunks", len(chunks)),
		zap.Int("success", out.SuccessCount),
		zap.Int("failure", out.FailureCount),
	)

	return out
}

// send makes one provider call and normalizes its answer to one result per target.
func (b *Batcher) send(ctx context.Context, idx int, targets []Target, msg Message) []Result {
	start := time.Now()
	got, err := b.provider.SendMulticast(ctx, targets, msg)
	metrics.RecordPushBatch(time.Since(start))

	out := make([]Result, len(targets))
	if err != nil {
		b.logger.Error("push chunk failed",
			zap.Int("chunk", idx),
			zap.Int("tokens", len(targets)),
			zap.Error(err),
		)
		for i, t := range targets {
			out[i] = Result{Token: t.Token, ErrorCode: CodeProviderError}
		}
		return out
	}

	for i, t := range targets {
		if i >= len(got) {
			out[i] = Result{Token: t.Token, ErrorCode: CodeMissingResult}
			continue
		}
		out[i] = got[i]
		out[i].Token = t.Token
	}

	for _, r := range out {
		if !r.Success {
			b.logger.Warn("push token failed",
				zap.Int("chunk", idx),
				zap.String("token_suffix", tokenSuffix(r.Token)),
				zap.String("error_code", r.ErrorCode),
			)
		}
	}
	return out
}

func uniqueTargets(targets []Target) []Target {
	seen := make(map[string]struct{}, len(targets))
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.Token == "" {
			continue
		}
		if _, dup := seen[t.Token]; dup {
			continue
		}
		seen[t.Token] = struct{}{}
		out = append(out, t)
	}
	return out
}

func chunk(targets []Target, size int) [][]Target {
	var out [][]Target
	for start := 0; start < len(targets); start += size {
		end := min(start+size, len(targets))
		out = append(out, targets[start:end])
	}
	return out
}

// tokenSuffix keeps logs useful without writing whole device tokens.
func tokenSuffix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return "..." + token[len(token)-8:]
}
