// Package fetcher materializes a repository snapshot: the file list with
// content hashes, types and URLs, plus lazy access to file content so that
// only changed files are ever downloaded.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Fetcher produces a snapshot of a repository at a ref.
// An empty ref means the default branch.
type Fetcher interface {
	Fetch(ctx context.Context, repoURL, ref string) (*Snapshot, error)
}

// LoadFunc reads the content of one file
type LoadFunc func(ctx context.Context) ([]byte, error)

// Entry describes one file of a snapshot
type Entry struct {
	Path    string
	Type    types.FileType
	Hash    string
	ModTime time.Time
	URL     string
	Size    int64

	load LoadFunc
}

// NewEntry builds an entry whose content is produced by load
func NewEntry(path string, typ types.FileType, hash string, modTime time.Time, url string, load LoadFunc) Entry {
	return Entry{Path: path, Type: typ, Hash: hash, ModTime: modTime, URL: url, load: load}
}

// Content loads the file bytes
func (e Entry) Content(ctx context.Context) ([]byte, error) {
	if e.load == nil {
		return nil, types.ErrEmptyContent
	}
	return e.load(ctx)
}

// SourceFile returns the domain view of the entry
func (e Entry) SourceFile() types.SourceFile {
	return types.SourceFile{
		Path:         e.Path,
		Type:         e.Type,
		ContentHash:  e.Hash,
		LastModified: e.ModTime,
		FileURL:      e.URL,
	}
}

// State returns the record persisted once the file is fully ingested
func (e Entry) State() types.FileState {
	return types.FileState(e.SourceFile())
}

// Snapshot is the file list of a repository at one commit
type Snapshot struct {
	RepoURL     string
	Name        string // default project name
	Branch      string
	Commit      string
	CommittedAt time.Time
	Files       map[string]Entry
}

// SourceFiles returns the snapshot as the differ's input
func (s *Snapshot) SourceFiles() map[string]types.SourceFile {
	out := make(map[string]types.SourceFile, len(s.Files))
	for p, e := range s.Files {
		out[p] = e.SourceFile()
	}
	return out
}

// Paths returns the file paths in sorted order
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Repository returns the domain view of the snapshot
func (s *Snapshot) Repository() types.Repository {
	return types.Repository{URL: s.RepoURL, DefaultBranch: s.Branch, LastSyncedCommit: s.Commit}
}

// treeDigest derives a stable revision id from the file hashes, used when
// the source has no commit of its own
func treeDigest(files map[string]Entry) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(files[p].Hash))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
