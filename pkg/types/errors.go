package types

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrInvalidChunkID  = errors.New("invalid chunk ID")
	ErrInvalidFileType = errors.New("invalid file type")
	ErrInvalidPayload  = errors.New("invalid point payload")
	ErrEmptyContent    = errors.New("content cannot be empty")

	// Fetch errors
	ErrRepoNotFound = errors.New("repository not found")
	ErrRefNotFound  = errors.New("ref not found")
	ErrUnauthorized = errors.New("unauthorized")

	// Provider errors
	ErrShortBatch = errors.New("provider returned fewer vectors than requested")

	// Job errors
	ErrIngestionInProgress = errors.New("ingestion already in progress for project")
	ErrCancelled           = errors.New("ingestion cancelled")
)

// Error kinds recorded per file in a job result
const (
	KindParse           = "parse_error"
	KindEmbeddingFailed = "embedding_failed"
	KindVectorStore     = "vector_store_error"
	KindState           = "state_error"
	KindFetch           = "fetch_error"
)

// FetchError reports a failure to materialize a repository snapshot
type FetchError struct {
	Op  string
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a file that could not be read as text
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

// ProviderTransientError is a retryable embedding provider failure
// (timeout, 5xx, truncated response)
type ProviderTransientError struct {
	StatusCode int
	Err        error
}

func (e *ProviderTransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("embedding provider transient error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding provider transient error: %v", e.Err)
}

func (e *ProviderTransientError) Unwrap() error { return e.Err }

// RateLimitError signals that the provider asked the caller to slow down
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("embedding provider rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ProviderFatalError is a non-retryable provider failure such as bad
// credentials or a permanently exhausted quota
type ProviderFatalError struct {
	StatusCode int
	Err        error
}

func (e *ProviderFatalError) Error() string {
	return fmt.Sprintf("embedding provider fatal error (status %d): %v", e.StatusCode, e.Err)
}

func (e *ProviderFatalError) Unwrap() error { return e.Err }

// ProviderRequestError is a provider rejection of one request (bad input,
// payload too large). It is not retried and fails only its own batch.
type ProviderRequestError struct {
	StatusCode int
	Err        error
}

func (e *ProviderRequestError) Error() string {
	return fmt.Sprintf("embedding provider rejected request (status %d): %v", e.StatusCode, e.Err)
}

func (e *ProviderRequestError) Unwrap() error { return e.Err }

// VectorStoreError wraps a failed vector database operation
type VectorStoreError struct {
	Op  string
	Err error
}

func (e *VectorStoreError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *VectorStoreError) Unwrap() error { return e.Err }

// QueryEmbeddingError reports that a query could not be embedded
type QueryEmbeddingError struct {
	Err error
}

func (e *QueryEmbeddingError) Error() string {
	return fmt.Sprintf("query embedding failed: %v", e.Err)
}

func (e *QueryEmbeddingError) Unwrap() error { return e.Err }

// QueryStoreError reports that the similarity query itself failed
type QueryStoreError struct {
	Err error
}

func (e *QueryStoreError) Error() string {
	return fmt.Sprintf("query store failed: %v", e.Err)
}

func (e *QueryStoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying at the provider level
func IsTransient(err error) bool {
	var te *ProviderTransientError
	var rl *RateLimitError
	return errors.As(err, &te) || errors.As(err, &rl) || errors.Is(err, ErrShortBatch)
}

// IsFatal reports whether err must abort an ingestion job
func IsFatal(err error) bool {
	var pf *ProviderFatalError
	var fe *FetchError
	return errors.As(err, &pf) || errors.As(err, &fe) || errors.Is(err, ErrInvalidPayload)
}
