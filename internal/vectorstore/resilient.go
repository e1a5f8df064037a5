package vectorstore

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/debugctx-mcp/internal/retry"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Resilient decorates a Store: every call is retried once and every failure
// is reported as *types.VectorStoreError.
type Resilient struct {
	inner  Store
	policy retry.Policy
}

// NewResilient wraps inner, waiting delay before the single retry
func NewResilient(inner Store, delay time.Duration) *Resilient {
	policy := retry.Once(delay)
	base := policy.Retryable
	policy.Retryable = func(err error) bool {
		// answered by the store, asking again gives the same answer
		if errors.Is(err, ErrCollectionNotFound) || errors.Is(err, ErrDimensionMismatch) {
			return false
		}
		return base(err)
	}
	return &Resilient{inner: inner, policy: policy}
}

// Unwrap returns the decorated store
func (r *Resilient) Unwrap() Store {
	return r.inner
}

func call[T any](ctx context.Context, r *Resilient, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	out, err := retry.Do(ctx, r.policy, fn)
	if err != nil {
		return out, &types.VectorStoreError{Op: op, Err: err}
	}
	return out, nil
}

func (r *Resilient) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := call(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (r *Resilient) EnsureCollection(ctx context.Context, name string, dim int) error {
	return r.write(ctx, "ensure_collection", func(ctx context.Context) error {
		return r.inner.EnsureCollection(ctx, name, dim)
	})
}

func (r *Resilient) Upsert(ctx context.Context, collection string, points []Point) error {
	return r.write(ctx, "upsert", func(ctx context.Context) error {
		return r.inner.Upsert(ctx, collection, points)
	})
}

func (r *Resilient) Delete(ctx context.Context, collection string, ids []string) error {
	return r.write(ctx, "delete", func(ctx context.Context) error {
		return r.inner.Delete(ctx, collection, ids)
	})
}

func (r *Resilient) SetPayload(ctx context.Context, collection string, ids []string, meta Metadata) error {
	return r.write(ctx, "set_payload", func(ctx context.Context) error {
		return r.inner.SetPayload(ctx, collection, ids, meta)
	})
}

func (r *Resilient) Query(ctx context.Context, collection string, vector []float32, filter Filter, topK int) ([]ScoredPoint, error) {
	return call(ctx, r, "query", func(ctx context.Context) ([]ScoredPoint, error) {
		return r.inner.Query(ctx, collection, vector, filter, topK)
	})
}

type page struct {
	records []Record
	next    string
}

func (r *Resilient) Scroll(ctx context.Context, collection string, filter Filter, limit int, offset string) ([]Record, string, error) {
	p, err := call(ctx, r, "scroll", func(ctx context.Context) (page, error) {
		records, next, err := r.inner.Scroll(ctx, collection, filter, limit, offset)
		return page{records: records, next: next}, err
	})
	if err != nil {
		return nil, "", err
	}
	return p.records, p.next, nil
}

func (r *Resilient) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	return call(ctx, r, "count", func(ctx context.Context) (int, error) {
		return r.inner.Count(ctx, collection, filter)
	})
}

func (r *Resilient) Close() error {
	return r.inner.Close()
}
