package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/debugctx-mcp/internal/observability"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

// DefaultMaxFileBytes skips files larger than 1MB
const DefaultMaxFileBytes = 1 << 20

// LocalFetcher snapshots a directory on disk. File hashes are sha256 of the
// content and modification times come from the file system.
type LocalFetcher struct {
	Classifier    *Classifier
	MaxFileBytes  int64
	IncludeVendor bool
	Logger        *slog.Logger
}

// NewLocalFetcher creates a local fetcher with default limits
func NewLocalFetcher(classifier *Classifier, logger *slog.Logger) *LocalFetcher {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &LocalFetcher{
		Classifier:   classifier,
		MaxFileBytes: DefaultMaxFileBytes,
		Logger:       observability.OrDefault(logger),
	}
}

// Fetch walks the directory named by repoURL (a path or file:// URL).
// The ref is ignored; the snapshot revision is a digest of the file hashes.
func (f *LocalFetcher) Fetch(ctx context.Context, repoURL, _ string) (*Snapshot, error) {
	root, err := filepath.Abs(localPath(repoURL))
	if err != nil {
		return nil, &types.FetchError{Op: "resolve", URL: repoURL, Err: err}
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, &types.FetchError{Op: "stat", URL: repoURL, Err: types.ErrRepoNotFound}
	}

	log := observability.OrDefault(f.Logger)
	classifier := f.Classifier
	if classifier == nil {
		classifier = DefaultClassifier()
	}

	files := make(map[string]Entry)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p == root {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") || name == "node_modules" || (!f.IncludeVendor && name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if isBinaryPath(rel) {
			return nil
		}
		typ := classifier.Classify(rel)
		if !classifier.Include(typ) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if f.MaxFileBytes > 0 && fi.Size() > f.MaxFileBytes {
			log.Debug("fetch.skip_large", "path", rel, "size", fi.Size())
			return nil
		}

		hash, err := hashFile(p)
		if err != nil {
			return err
		}
		abs := p
		files[rel] = Entry{
			Path:    rel,
			Type:    typ,
			Hash:    hash,
			ModTime: fi.ModTime().UTC(),
			URL:     "file://" + filepath.ToSlash(abs),
			Size:    fi.Size(),
			load: func(context.Context) ([]byte, error) {
				return os.ReadFile(abs)
			},
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &types.FetchError{Op: "walk", URL: repoURL, Err: err}
	}

	log.Debug("fetch.local", "root", root, "files", len(files))
	return &Snapshot{
		RepoURL: repoURL,
		Name:    DefaultProjectName(repoURL),
		Commit:  "local-" + treeDigest(files)[:12],
		Files:   files,
	}, nil
}

func hashFile(p string) (string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
