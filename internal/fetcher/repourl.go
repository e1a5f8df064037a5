package fetcher

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var namePart = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ParseGitHubRepo extracts owner and repository name from the accepted
// forms: https://github.com/o/r(.git), github.com/o/r, o/r and
// git@github.com:o/r.git. Extra path segments after the name are ignored.
func ParseGitHubRepo(raw string) (owner, repo string, err error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "git@"):
		i := strings.Index(s, ":")
		if i < 0 {
			return "", "", fmt.Errorf("invalid repository URL %q", raw)
		}
		s = s[i+1:]
	case strings.Contains(s, "://"):
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", fmt.Errorf("invalid repository URL %q: %w", raw, perr)
		}
		s = u.Path
	default:
		s = strings.TrimPrefix(s, "www.")
		s = strings.TrimPrefix(s, "github.com/")
	}

	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid repository URL %q: expected owner/repo", raw)
	}
	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	if !namePart.MatchString(owner) || !namePart.MatchString(repo) {
		return "", "", fmt.Errorf("invalid repository URL %q", raw)
	}
	return owner, repo, nil
}

// IsLocal reports whether repoURL names a directory rather than a GitHub repo
func IsLocal(repoURL string) bool {
	return strings.HasPrefix(repoURL, "file://") || filepath.IsAbs(repoURL) ||
		strings.HasPrefix(repoURL, "./") || strings.HasPrefix(repoURL, "../") || repoURL == "."
}

// localPath strips a file:// scheme
func localPath(repoURL string) string {
	return strings.TrimPrefix(repoURL, "file://")
}

// DefaultProjectName derives project_name from a repository URL:
// owner/repo becomes owner-repo, a directory becomes its base name.
func DefaultProjectName(repoURL string) string {
	if IsLocal(repoURL) {
		abs, err := filepath.Abs(localPath(repoURL))
		if err != nil {
			abs = localPath(repoURL)
		}
		return sanitizeName(filepath.Base(abs))
	}
	owner, repo, err := ParseGitHubRepo(repoURL)
	if err != nil {
		return sanitizeName(repoURL)
	}
	return sanitizeName(owner + "-" + repo)
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
