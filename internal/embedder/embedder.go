package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnknownProvider   = errors.New("unknown embedding provider")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedding is one vector and where it came from
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // ComputeHash of the input text
}

// EmbeddingRequest asks for the vector of one text
type EmbeddingRequest struct {
	Text  string
	Model string // overrides the provider's model when set
}

// BatchEmbeddingRequest asks for the vectors of several texts in one call
type BatchEmbeddingRequest struct {
	Texts []string
	Model string
}

// BatchEmbeddingResponse represents a batch response.
// Embeddings[i] corresponds to Texts[i] of the request.
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder interface defines methods for generating embeddings.
//
// Providers report failures as *types.ProviderTransientError,
// *types.RateLimitError, *types.ProviderRequestError or
// *types.ProviderFatalError so callers can decide whether to retry. Providers do not retry on their own.
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts in one call
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Cache is an LRU of vectors keyed by CacheKey. Entries are copied on the
// way in and out, so callers may modify what they get.
type Cache struct {
	lru    *lru.Cache[string, Embedding]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// DefaultCacheSize applies when NewCache gets a non-positive size
const DefaultCacheSize = 10000

// NewCache creates a cache holding up to size vectors
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[string, Embedding](size)
	if err != nil {
		panic(fmt.Sprintf("embedder: lru with size %d: %v", size, err))
	}
	return &Cache{lru: l}
}

// Get returns a copy of the cached embedding
func (c *Cache) Get(key string) (*Embedding, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	e.Vector = slices.Clone(e.Vector)
	return &e, true
}

// Set stores a copy of emb, evicting the least recently used entry when full
func (c *Cache) Set(key string, emb *Embedding) {
	e := *emb
	e.Vector = slices.Clone(emb.Vector)
	c.lru.Add(key, e)
}

// Len returns the number of cached vectors
func (c *Cache) Len() int { return c.lru.Len() }

// Stats returns the hit and miss counts since creation
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge drops every entry
func (c *Cache) Purge() { c.lru.Purge() }

// ComputeHash returns the hex SHA-256 of text
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// CacheKey scopes a text hash to a model so switching models never serves
// stale vectors.
func CacheKey(model, text string) string {
	return model + ":" + ComputeHash(text)
}

// ValidateRequest rejects empty text
func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest rejects empty batches and batches with empty texts.
// Providers would otherwise fail the whole call for one bad item.
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	if i := slices.Index(req.Texts, ""); i >= 0 {
		return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
	}
	return nil
}
