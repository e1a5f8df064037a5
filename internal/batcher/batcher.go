// Package batcher embeds many texts through an embedder.Embedder with
// bounded batches, bounded parallelism, retry with backoff and shared
// rate-limit backpressure. Batches that still fail after retries are
// reported per key instead of failing the whole run.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/debugctx-mcp/internal/embedder"
	"github.com/dshills/debugctx-mcp/internal/observability"
	"github.com/dshills/debugctx-mcp/internal/retry"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Defaults
const (
	DefaultMaxItems    = 64
	DefaultMaxChars    = 60000
	DefaultConcurrency = 4
)

// Item is one text to embed, identified by a caller-chosen key (a chunk id)
type Item struct {
	Key  string
	Text string
}

// Result collects the outcome of Embed.
// Every input key ends up in exactly one of Vectors, Failed or Skipped.
type Result struct {
	Vectors   map[string][]float32
	Failed    map[string]error
	Skipped   []string // never dispatched because of cancellation
	Cancelled bool
	Batches   int
}

// StopFunc is polled before each batch is dispatched
type StopFunc func() bool

// Config configures a Batcher
type Config struct {
	MaxItems    int
	MaxChars    int
	Concurrency int
	Policy      retry.Policy

	// RequestsPerSecond paces provider calls; zero means unpaced
	RequestsPerSecond float64
}

// DefaultConfig returns the default batching configuration
func DefaultConfig() Config {
	return Config{
		MaxItems:    DefaultMaxItems,
		MaxChars:    DefaultMaxChars,
		Concurrency: DefaultConcurrency,
		Policy:      retry.DefaultPolicy(),
	}
}

// Batcher embeds items in parallel batches
type Batcher struct {
	emb     embedder.Embedder
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Batcher. Zero config fields take defaults.
func New(emb embedder.Embedder, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Batcher {
	def := DefaultConfig()
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = def.MaxItems
	}
	if cfg.MaxItems > embedder.MaxBatchSize {
		cfg.MaxItems = embedder.MaxBatchSize
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = def.Policy
	}
	return &Batcher{
		emb:     emb,
		cfg:     cfg,
		logger:  observability.OrDefault(logger),
		metrics: metrics,
	}
}

// Split groups items into batches of at most MaxItems items and MaxChars
// characters, preserving order. An item longer than MaxChars forms a batch
// of its own.
func (b *Batcher) Split(items []Item) [][]Item {
	var batches [][]Item
	var cur []Item
	chars := 0

	for _, it := range items {
		if len(cur) > 0 && (len(cur) >= b.cfg.MaxItems || chars+len(it.Text) > b.cfg.MaxChars) {
			batches = append(batches, cur)
			cur, chars = nil, 0
		}
		cur = append(cur, it)
		chars += len(it.Text)
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// Embed embeds all items. The returned error is non-nil only for a fatal
// provider error or cancellation of ctx; in both cases the partial Result
// is still returned.
func (b *Batcher) Embed(ctx context.Context, items []Item, stop StopFunc) (*Result, error) {
	res := &Result{
		Vectors: make(map[string][]float32, len(items)),
		Failed:  make(map[string]error),
	}
	if len(items) == 0 {
		return res, nil
	}

	batches := b.Split(items)
	res.Batches = len(batches)

	gate := NewGate(b.cfg.RequestsPerSecond)
	policy := b.cfg.Policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		b.metrics.ObserveBatch(observability.BatchRetried, 0)
		b.logger.Warn("batcher.retry", "attempt", attempt, "delay", delay, "err", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for i, batch := range batches {
		cancelled := stop != nil && stop()
		if cancelled || gctx.Err() != nil {
			mu.Lock()
			res.Cancelled = cancelled
			for _, rest := range batches[i:] {
				for _, it := range rest {
					res.Skipped = append(res.Skipped, it.Key)
				}
			}
			mu.Unlock()
			break
		}

		batch := batch
		g.Go(func() error {
			vectors, err := b.embedBatch(gctx, gate, policy, batch)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				for j, it := range batch {
					res.Vectors[it.Key] = vectors[j]
				}
				b.metrics.ObserveBatch(observability.BatchOK, len(batch))
				return nil
			case types.IsFatal(err):
				b.metrics.ObserveBatch(observability.BatchFatal, 0)
				for _, it := range batch {
					res.Failed[it.Key] = err
				}
				return err
			case gctx.Err() != nil:
				// aborted by a sibling's fatal error or by the caller
				for _, it := range batch {
					res.Skipped = append(res.Skipped, it.Key)
				}
				return nil
			default:
				b.metrics.ObserveBatch(observability.BatchFailed, 0)
				b.logger.Error("batcher.batch_failed", "items", len(batch), "err", err)
				for _, it := range batch {
					res.Failed[it.Key] = err
				}
				return nil
			}
		})
	}

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return res, err
}

func (b *Batcher) embedBatch(ctx context.Context, gate *Gate, policy retry.Policy, batch []Item) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, it := range batch {
		texts[i] = it.Text
	}

	return retry.Do(ctx, policy, func(ctx context.Context) ([][]float32, error) {
		if err := gate.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := b.emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			var rl *types.RateLimitError
			if errors.As(err, &rl) {
				pause := rl.RetryAfter
				if pause <= 0 {
					pause = policy.BaseDelay
				}
				gate.PauseFor(pause)
				b.logger.Warn("batcher.rate_limited", "pause", pause)
			}
			return nil, err
		}

		if len(resp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: got %d of %d", types.ErrShortBatch, len(resp.Embeddings), len(texts))
		}

		vectors := make([][]float32, len(resp.Embeddings))
		for i, emb := range resp.Embeddings {
			if emb == nil || len(emb.Vector) == 0 {
				return nil, fmt.Errorf("%w: empty vector at %d", types.ErrShortBatch, i)
			}
			vectors[i] = emb.Vector
		}
		return vectors, nil
	})
}
