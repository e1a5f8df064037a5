// Package embedder turns text into vectors for ingestion and retrieval.
//
// Two families of providers are available:
//
//   - HTTPProvider talks to any OpenAI-compatible /embeddings endpoint
//     (OpenAI, Jina AI, or a gateway configured through a base URL).
//   - LocalProvider builds deterministic hashed bag-of-words vectors and
//     needs no network. It is used offline and in tests.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider: "openai",
//	    APIKey:   key,
//	    CacheSize: 10000,
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: texts,
//	})
//
// # Error Handling
//
// Providers never retry. Every failure is classified so the caller can:
//
//	var rl *types.RateLimitError
//	switch {
//	case errors.As(err, &rl):
//	    // back off for rl.RetryAfter, then retry
//	case types.IsTransient(err):
//	    // 5xx, timeouts, truncated responses: retry with backoff
//	case types.IsFatal(err):
//	    // 401/403, exhausted quota: abort
//	default:
//	    // other 4xx (*types.ProviderRequestError): give up on this request
//	}
//
// A 429 whose body mentions a permanent quota ("insufficient_quota",
// "tokens per day") is fatal rather than rate-limited.
//
// # Caching
//
// GenerateEmbedding results are cached in an LRU keyed by model and the
// SHA-256 of the text. The retrieval path relies on this for repeated
// queries; batch calls are not cached.
package embedder
