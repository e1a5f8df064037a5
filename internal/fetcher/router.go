package fetcher

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Router dispatches a repository URL to the local or GitHub fetcher. With
// LocalRoot set, a bare repository name that exists under it is read from
// disk instead of the API.
type Router struct {
	Local     *LocalFetcher
	GitHub    Fetcher
	LocalRoot string
}

// Fetch implements Fetcher
func (r *Router) Fetch(ctx context.Context, repoURL, ref string) (*Snapshot, error) {
	if r.Local != nil {
		if IsLocal(repoURL) {
			return r.Local.Fetch(ctx, repoURL, ref)
		}
		if dir, ok := r.underRoot(repoURL); ok {
			snap, err := r.Local.Fetch(ctx, dir, ref)
			if err != nil {
				return nil, err
			}
			snap.RepoURL = repoURL
			snap.Name = DefaultProjectName(repoURL)
			return snap, nil
		}
	}
	if r.GitHub == nil {
		if r.Local == nil {
			return nil, &types.FetchError{Op: "route", URL: repoURL, Err: types.ErrRepoNotFound}
		}
		return r.Local.Fetch(ctx, repoURL, ref)
	}
	return r.GitHub.Fetch(ctx, repoURL, ref)
}

// underRoot resolves owner/repo or repo against LocalRoot
func (r *Router) underRoot(repoURL string) (string, bool) {
	if r.LocalRoot == "" {
		return "", false
	}
	candidates := []string{filepath.Join(r.LocalRoot, filepath.FromSlash(repoURL))}
	if owner, repo, err := ParseGitHubRepo(repoURL); err == nil {
		candidates = append(candidates,
			filepath.Join(r.LocalRoot, owner, repo),
			filepath.Join(r.LocalRoot, repo))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c, true
		}
	}
	return "", false
}
