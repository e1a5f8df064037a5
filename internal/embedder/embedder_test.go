package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ComputeHash(""))
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", ComputeHash("hello world"))
	assert.Equal(t, ComputeHash("test"), ComputeHash("test"))
	assert.NotEqual(t, CacheKey("a", "x"), CacheKey("b", "x"))
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     BatchEmbeddingRequest
		wantErr bool
	}{
		{name: "valid batch", req: BatchEmbeddingRequest{Texts: []string{"a", "b"}}},
		{name: "empty batch", req: BatchEmbeddingRequest{}, wantErr: true},
		{name: "contains empty text", req: BatchEmbeddingRequest{Texts: []string{"a", ""}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestCache(t *testing.T) {
	cache := NewCache(2)
	emb := &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3}
	cache.Set("k1", emb)

	got, ok := cache.Get("k1")
	require.True(t, ok)
	got.Vector[0] = 99

	again, _ := cache.Get("k1")
	assert.Equal(t, float32(1), again.Vector[0], "cached vector must not be mutated through Get")

	emb.Vector[1] = 42
	again, _ = cache.Get("k1")
	assert.Equal(t, float32(2), again.Vector[1], "cached vector must not be mutated through Set's argument")

	cache.Set("k2", emb)
	cache.Set("k3", emb)
	assert.Equal(t, 2, cache.Len())
	_, ok = cache.Get("k1")
	assert.False(t, ok, "least recently used entry should be evicted")

	hits, misses := cache.Stats()
	assert.Equal(t, uint64(3), hits)
	assert.Equal(t, uint64(1), misses)

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}
