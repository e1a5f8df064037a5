package fetcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/dshills/debugctx-mcp/internal/observability"
	"github.com/dshills/debugctx-mcp/internal/retry"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 30 * time.Second

	// DefaultRequestsPerSecond throttles API calls below the hourly quota
	DefaultRequestsPerSecond = 5.0

	// MaxRateLimitWait is the longest primary rate limit reset we wait for
	MaxRateLimitWait = time.Minute
)

// GitHubConfig configures the GitHub fetcher
type GitHubConfig struct {
	Token             string
	BaseURL           string // API base, e.g. a GitHub Enterprise or test server
	MaxFileBytes      int64
	RequestsPerSecond float64
	Timeout           time.Duration
	Retry             retry.Policy
}

// GitHubFetcher snapshots a repository through the GitHub REST API. File
// hashes are git blob SHAs, so unchanged files are detected without
// downloading them.
type GitHubFetcher struct {
	client     *gh.Client
	limiter    *rate.Limiter
	classifier *Classifier
	maxBytes   int64
	policy     retry.Policy
	logger     *slog.Logger
}

// NewGitHubFetcher creates a GitHub fetcher. An empty token gives
// unauthenticated access with GitHub's lower quota.
func NewGitHubFetcher(ctx context.Context, cfg GitHubConfig, classifier *Classifier, logger *slog.Logger) (*GitHubFetcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var httpClient *http.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = timeout
	} else {
		httpClient = &http.Client{Timeout: timeout}
	}

	client := gh.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid github base URL: %w", err)
		}
		client.BaseURL = u
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	if classifier == nil {
		classifier = DefaultClassifier()
	}

	return &GitHubFetcher{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		classifier: classifier,
		maxBytes:   maxBytes,
		policy:     policy,
		logger:     observability.OrDefault(logger),
	}, nil
}

// Fetch resolves ref (default branch when empty) to a commit and lists its
// tree recursively. Content is loaded per file on demand.
func (f *GitHubFetcher) Fetch(ctx context.Context, repoURL, ref string) (*Snapshot, error) {
	owner, name, err := ParseGitHubRepo(repoURL)
	if err != nil {
		return nil, &types.FetchError{Op: "parse", URL: repoURL, Err: err}
	}

	repo, err := call(ctx, f, func(ctx context.Context) (*gh.Repository, *gh.Response, error) {
		return f.client.Repositories.Get(ctx, owner, name)
	}, types.ErrRepoNotFound)
	if err != nil {
		return nil, &types.FetchError{Op: "get repository", URL: repoURL, Err: err}
	}

	branch := ref
	if branch == "" {
		branch = repo.GetDefaultBranch()
	}
	commit, err := call(ctx, f, func(ctx context.Context) (*gh.RepositoryCommit, *gh.Response, error) {
		return f.client.Repositories.GetCommit(ctx, owner, name, branch, nil)
	}, types.ErrRefNotFound)
	if err != nil {
		return nil, &types.FetchError{Op: "resolve ref " + branch, URL: repoURL, Err: err}
	}
	committedAt := commit.GetCommit().GetCommitter().GetDate().Time.UTC()
	treeSHA := commit.GetCommit().GetTree().GetSHA()
	if treeSHA == "" {
		treeSHA = commit.GetSHA()
	}

	tree, err := call(ctx, f, func(ctx context.Context) (*gh.Tree, *gh.Response, error) {
		return f.client.Git.GetTree(ctx, owner, name, treeSHA, true)
	}, types.ErrRefNotFound)
	if err != nil {
		return nil, &types.FetchError{Op: "get tree", URL: repoURL, Err: err}
	}
	entries := tree.Entries
	if tree.GetTruncated() {
		// a partial listing would make the missing files look deleted
		f.logger.Warn("fetch.tree_truncated", "repo", owner+"/"+name, "entries", len(tree.Entries))
		entries, err = f.walkTree(ctx, owner, name, treeSHA, "")
		if err != nil {
			return nil, &types.FetchError{Op: "walk tree", URL: repoURL, Err: err}
		}
	}

	htmlURL := repo.GetHTMLURL()
	if htmlURL == "" {
		htmlURL = fmt.Sprintf("https://github.com/%s/%s", owner, name)
	}

	files := make(map[string]Entry, len(entries))
	for _, te := range entries {
		if te.GetType() != "blob" {
			continue
		}
		p := te.GetPath()
		if isBinaryPath(p) || int64(te.GetSize()) > f.maxBytes {
			continue
		}
		typ := f.classifier.Classify(p)
		if !f.classifier.Include(typ) {
			continue
		}
		sha := te.GetSHA()
		files[p] = Entry{
			Path:    p,
			Type:    typ,
			Hash:    sha,
			ModTime: committedAt,
			URL:     fmt.Sprintf("%s/blob/%s/%s", htmlURL, branch, p),
			Size:    int64(te.GetSize()),
			load: func(ctx context.Context) ([]byte, error) {
				return f.loadBlob(ctx, owner, name, p, sha)
			},
		}
	}

	f.logger.Info("fetch.github",
		"repo", owner+"/"+name, "branch", branch, "commit", commit.GetSHA(), "files", len(files))
	return &Snapshot{
		RepoURL:     repoURL,
		Name:        DefaultProjectName(repoURL),
		Branch:      branch,
		Commit:      commit.GetSHA(),
		CommittedAt: committedAt,
		Files:       files,
	}, nil
}

// walkTree lists the blobs under sha one directory per request, with
// paths relative to the repository root
func (f *GitHubFetcher) walkTree(ctx context.Context, owner, name, sha, prefix string) ([]*gh.TreeEntry, error) {
	tree, err := call(ctx, f, func(ctx context.Context) (*gh.Tree, *gh.Response, error) {
		return f.client.Git.GetTree(ctx, owner, name, sha, false)
	}, types.ErrRefNotFound)
	if err != nil {
		return nil, err
	}
	if tree.GetTruncated() {
		return nil, fmt.Errorf("directory %q has more entries than the API returns", prefix)
	}

	var out []*gh.TreeEntry
	for _, te := range tree.Entries {
		p := path.Join(prefix, te.GetPath())
		switch te.GetType() {
		case "blob":
			te.Path = gh.Ptr(p)
			out = append(out, te)
		case "tree":
			sub, err := f.walkTree(ctx, owner, name, te.GetSHA(), p)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

// loadBlob downloads and decodes one blob
func (f *GitHubFetcher) loadBlob(ctx context.Context, owner, name, filePath, sha string) ([]byte, error) {
	blob, err := call(ctx, f, func(ctx context.Context) (*gh.Blob, *gh.Response, error) {
		return f.client.Git.GetBlob(ctx, owner, name, sha)
	}, types.ErrRefNotFound)
	if err != nil {
		return nil, &types.FetchError{Op: "get blob", URL: filePath, Err: err}
	}
	if blob.GetEncoding() == "base64" {
		content := strings.ReplaceAll(blob.GetContent(), "\n", "")
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, &types.FetchError{Op: "decode blob", URL: filePath, Err: err}
		}
		return data, nil
	}
	return []byte(blob.GetContent()), nil
}

// call runs one rate limited API request under the retry policy and maps
// GitHub errors onto domain errors
func call[T any](ctx context.Context, f *GitHubFetcher, fn func(ctx context.Context) (T, *gh.Response, error), notFound error) (T, error) {
	return retry.Do(ctx, f.policy, func(ctx context.Context) (T, error) {
		var zero T
		if err := f.limiter.Wait(ctx); err != nil {
			return zero, err
		}
		v, _, err := fn(ctx)
		if err != nil {
			return zero, mapGitHubError(ctx, err, notFound)
		}
		return v, nil
	})
}

// mapGitHubError converts go-github errors: missing resources become
// notFound, auth failures ErrUnauthorized, short rate limits and server
// errors transient. Everything else is returned as is.
func mapGitHubError(ctx context.Context, err error, notFound error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var rlErr *gh.RateLimitError
	if errors.As(err, &rlErr) {
		wait := time.Until(rlErr.Rate.Reset.Time)
		if wait > MaxRateLimitWait {
			return fmt.Errorf("github rate limit exhausted until %s: %w", rlErr.Rate.Reset.Time.Format(time.RFC3339), err)
		}
		return &types.RateLimitError{RetryAfter: max(wait, 0), Err: err}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &types.RateLimitError{RetryAfter: abuseErr.GetRetryAfter(), Err: err}
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		switch {
		case status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %s", notFound, respErr.Message)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return fmt.Errorf("%w: %s", types.ErrUnauthorized, respErr.Message)
		case status >= 500:
			return &types.ProviderTransientError{StatusCode: status, Err: err}
		default:
			return err
		}
	}

	// Transport failures
	return &types.ProviderTransientError{Err: err}
}
