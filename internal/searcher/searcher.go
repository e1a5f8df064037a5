package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dshills/debugctx-mcp/internal/chunker"
	"github.com/dshills/debugctx-mcp/internal/embedder"
	"github.com/dshills/debugctx-mcp/internal/observability"
	"github.com/dshills/debugctx-mcp/internal/vectorstore"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Limits
const (
	DefaultTopK        = 8
	MaxTopK            = 100
	DefaultLookupLimit = 3
	MaxLookupLimit     = 20
	DefaultCacheSize   = 1000
	scrollPage         = 256
)

var (
	ErrEmptyQuery   = errors.New("query cannot be empty")
	ErrInvalidType  = errors.New("invalid type filter")
	ErrNoEmbedder   = errors.New("embedder not initialized")
	ErrInvalidLimit = errors.New("invalid result limit")
)

// Config configures a Searcher
type Config struct {
	Collection string
	CacheSize  int // query embeddings kept in the LRU cache
}

// Request contains parameters for a similarity search
type Request struct {
	Query   string
	Type    string // optional: src, doc, test or other
	Project string // optional project_name filter
	TopK    int
}

// LookupRequest asks for files whose text contains all keywords
type LookupRequest struct {
	Keywords string
	Type     string // defaults to src
	Project  string
	Limit    int
	Exclude  []string // file paths returned by earlier calls
}

// FileResult is one file found by Lookup, rebuilt from its chunks
type FileResult struct {
	ProjectName string
	FilePath    string
	FileURL     string
	Content     string // keyword occurrences highlighted
	Err         error  // set when the content could not be rebuilt
}

// Searcher answers retrieval queries against the vector store
type Searcher struct {
	store   vectorstore.Store
	emb     embedder.Embedder
	cfg     Config
	cache   *embedder.Cache
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Searcher
func New(store vectorstore.Store, emb embedder.Embedder, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Searcher {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	return &Searcher{
		store:   store,
		emb:     emb,
		cfg:     cfg,
		cache:   embedder.NewCache(cfg.CacheSize),
		logger:  observability.OrDefault(logger),
		metrics: metrics,
	}
}

// Search embeds the query and returns the TopK most similar chunks that
// match the type and project filters
func (s *Searcher) Search(ctx context.Context, req Request) ([]types.Match, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveQuery(time.Since(start)) }()

	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "searcher.search",
		attribute.String("project", req.Project), attribute.String("type", req.Type), attribute.Int("top_k", req.TopK))
	matches, err := s.search(ctx, req)
	observability.EndSpan(span, err)
	if err != nil {
		s.logger.Error("search.failed", "project", req.Project, "err", err)
		return nil, err
	}

	s.logger.Debug("search.completed", "project", req.Project, "type", req.Type,
		"results", len(matches), "duration", time.Since(start))
	return matches, nil
}

func (s *Searcher) search(ctx context.Context, req Request) ([]types.Match, error) {
	vector, err := s.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, &types.QueryEmbeddingError{Err: err}
	}

	var filter vectorstore.Filter
	if req.Type != "" {
		filter.Must = append(filter.Must, vectorstore.Match(vectorstore.FieldType, req.Type))
	}
	if req.Project != "" {
		filter.Must = append(filter.Must, vectorstore.Match(vectorstore.FieldProjectName, req.Project))
	}

	hits, err := s.store.Query(ctx, s.cfg.Collection, vector, filter, req.TopK)
	if err != nil {
		return nil, &types.QueryStoreError{Err: err}
	}

	matches := make([]types.Match, 0, len(hits))
	for _, h := range hits {
		matches = append(matches, toMatch(h))
	}
	sortMatches(matches)
	if len(matches) > req.TopK {
		matches = matches[:req.TopK]
	}
	return matches, nil
}

// embedQuery returns the query vector, consulting the LRU cache first
func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.emb == nil {
		return nil, ErrNoEmbedder
	}
	key := embedder.CacheKey(s.emb.Model(), query)
	if cached, ok := s.cache.Get(key); ok {
		return cached.Vector, nil
	}
	emb, err := s.emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, emb)
	return emb.Vector, nil
}

// validateRequest ensures the search request is valid and fills defaults
func (s *Searcher) validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if req.Type != "" {
		if _, err := types.ParseFileType(req.Type); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
		}
	}
	if req.TopK < 0 {
		return fmt.Errorf("%w: top_k=%d", ErrInvalidLimit, req.TopK)
	}
	if req.TopK == 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}
	return nil
}

func toMatch(h vectorstore.ScoredPoint) types.Match {
	p := h.Payload
	return types.Match{
		ChunkID:     p.ChunkID,
		ProjectName: p.ProjectName,
		FilePath:    p.FilePath,
		FileURL:     p.FileURL,
		OffsetRange: types.OffsetRange{Start: p.Start, End: p.End},
		Snippet:     p.Text,
		Score:       float64(h.Score),
		Type:        p.Type,
	}
}

// sortMatches orders by score descending, then path, then start offset
func sortMatches(matches []types.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.OffsetRange.Start < b.OffsetRange.Start
	})
}

// Lookup finds up to Limit distinct files whose chunk text contains all
// keywords. Matching is a full-text filter pushed down to the store; no
// embedding is involved. Paths in Exclude and paths already found are
// excluded from each following probe.
func (s *Searcher) Lookup(ctx context.Context, req LookupRequest) ([]FileResult, error) {
	req.Keywords = strings.TrimSpace(req.Keywords)
	if req.Keywords == "" {
		return nil, ErrEmptyQuery
	}
	if req.Type == "" {
		req.Type = string(types.FileSrc)
	}
	if _, err := types.ParseFileType(req.Type); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: n_results=%d", ErrInvalidLimit, req.Limit)
	}
	if req.Limit == 0 {
		req.Limit = DefaultLookupLimit
	}
	if req.Limit > MaxLookupLimit {
		req.Limit = MaxLookupLimit
	}

	ctx, span := observability.StartSpan(ctx, "searcher.lookup", attribute.String("project", req.Project))
	results, err := s.lookup(ctx, req)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("lookup.completed", "keywords", req.Keywords, "project", req.Project, "files", len(results))
	return results, nil
}

func (s *Searcher) lookup(ctx context.Context, req LookupRequest) ([]FileResult, error) {
	must := []vectorstore.Condition{
		vectorstore.MatchText(vectorstore.FieldText, req.Keywords),
		vectorstore.Match(vectorstore.FieldType, req.Type),
	}
	if req.Project != "" {
		must = append(must, vectorstore.Match(vectorstore.FieldProjectName, req.Project))
	}
	var mustNot []vectorstore.Condition
	for _, p := range req.Exclude {
		mustNot = append(mustNot, vectorstore.Match(vectorstore.FieldFilePath, p))
	}

	var results []FileResult
	for len(results) < req.Limit {
		recs, _, err := s.store.Scroll(ctx, s.cfg.Collection, vectorstore.Filter{Must: must, MustNot: mustNot}, 1, "")
		if err != nil {
			return nil, &types.QueryStoreError{Err: err}
		}
		if len(recs) == 0 {
			break
		}
		p := recs[0].Payload
		mustNot = append(mustNot, vectorstore.Match(vectorstore.FieldFilePath, p.FilePath))

		fr := FileResult{ProjectName: p.ProjectName, FilePath: p.FilePath, FileURL: p.FileURL}
		content, err := s.FileContent(ctx, p.ProjectName, p.FilePath)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("lookup.rebuild_failed", "path", p.FilePath, "err", err)
			fr.Err = err
		} else {
			fr.Content = Highlight(content, req.Keywords)
		}
		results = append(results, fr)
	}
	return results, nil
}

// FileContent rebuilds a file's text from its stored chunks
func (s *Searcher) FileContent(ctx context.Context, project, path string) (string, error) {
	filter := vectorstore.Filter{Must: []vectorstore.Condition{
		vectorstore.Match(vectorstore.FieldProjectName, project),
		vectorstore.Match(vectorstore.FieldFilePath, path),
	}}

	var chunks []types.Chunk
	offset := ""
	for {
		recs, next, err := s.store.Scroll(ctx, s.cfg.Collection, filter, scrollPage, offset)
		if err != nil {
			return "", &types.QueryStoreError{Err: err}
		}
		for _, r := range recs {
			chunks = append(chunks, types.Chunk{
				ID:    r.Payload.ChunkID,
				Path:  r.Payload.FilePath,
				Range: types.OffsetRange{Start: r.Payload.Start, End: r.Payload.End},
				Text:  r.Payload.Text,
			})
		}
		if next == "" {
			break
		}
		offset = next
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("no chunks stored for %s", path)
	}
	return chunker.Reassemble(chunks)
}

// Highlight marks quoted occurrences of keyword in Terraform-style source:
// resource "kw", "kw." and "kw" become bold in markdown.
func Highlight(content, keyword string) string {
	if keyword == "" {
		return content
	}
	bold := "**" + keyword + "**"
	r := strings.NewReplacer(
		`resource "`+keyword+`"`, `resource "`+bold+`"`,
		`"`+keyword+`."`, `"`+bold+`."`,
		`"`+keyword+`"`, `"`+bold+`"`,
	)
	return r.Replace(content)
}
