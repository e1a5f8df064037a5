package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// flakyStore fails the first failures calls to Upsert and Query
type flakyStore struct {
	*MemoryStore
	failures int
	calls    int
	queries  int
}

func (f *flakyStore) Query(ctx context.Context, collection string, vector []float32, filter Filter, topK int) ([]ScoredPoint, error) {
	f.queries++
	if f.queries <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.MemoryStore.Query(ctx, collection, vector, filter, topK)
}

func (f *flakyStore) Upsert(ctx context.Context, collection string, points []Point) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	return f.MemoryStore.Upsert(ctx, collection, points)
}

func TestResilient_RetriesOnce(t *testing.T) {
	inner := &flakyStore{MemoryStore: seeded(t), failures: 1}
	r := NewResilient(inner, time.Millisecond)

	p := point("new.tf", 0, "abc", types.FileSrc, "infra", []float32{1, 0})
	require.NoError(t, r.Upsert(context.Background(), coll, []Point{p}))
	assert.Equal(t, 2, inner.calls)
}

func TestResilient_WrapsAfterSecondFailure(t *testing.T) {
	inner := &flakyStore{MemoryStore: seeded(t), failures: 5}
	r := NewResilient(inner, time.Millisecond)

	p := point("new.tf", 0, "abc", types.FileSrc, "infra", []float32{1, 0})
	err := r.Upsert(context.Background(), coll, []Point{p})

	var vse *types.VectorStoreError
	require.True(t, errors.As(err, &vse))
	assert.Equal(t, "upsert", vse.Op)
	assert.Equal(t, 2, inner.calls)
}

func TestResilient_InvalidPayloadNotRetried(t *testing.T) {
	inner := &flakyStore{MemoryStore: seeded(t)}
	r := NewResilient(inner, time.Millisecond)

	bad := point("x.tf", 0, "abc", types.FileSrc, "", []float32{1, 0})
	err := r.Upsert(context.Background(), coll, []Point{bad})
	assert.ErrorIs(t, err, types.ErrInvalidPayload)
	assert.True(t, types.IsFatal(err))
	assert.Equal(t, 1, inner.calls)
}

func TestResilient_ReadsRetriedOnce(t *testing.T) {
	inner := &flakyStore{MemoryStore: seeded(t), failures: 1}
	r := NewResilient(inner, time.Millisecond)

	hits, err := r.Query(context.Background(), coll, []float32{1, 0}, Filter{}, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
	assert.Equal(t, 2, inner.queries)

	inner.failures, inner.queries = 5, 0
	_, err = r.Query(context.Background(), coll, []float32{1, 0}, Filter{}, 3)
	var vse *types.VectorStoreError
	require.True(t, errors.As(err, &vse))
	assert.Equal(t, "query", vse.Op)
	assert.Equal(t, 2, inner.queries)
}

func TestResilient_ReadErrorsWrapped(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	r := NewResilient(inner, time.Millisecond)
	_, err := r.Query(context.Background(), "missing", []float32{1}, Filter{}, 1)

	var vse *types.VectorStoreError
	require.True(t, errors.As(err, &vse))
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.Equal(t, 1, inner.queries, "missing collection is not retried")

	_, _, err = r.Scroll(context.Background(), "missing", Filter{}, 10, "")
	require.True(t, errors.As(err, &vse))
	assert.Equal(t, "scroll", vse.Op)
}
