package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

func TestClassifier_Classify(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		path string
		want types.FileType
	}{
		{"main.tf", types.FileSrc},
		{"modules/vpc/variables.tf", types.FileSrc},
		{"README.md", types.FileDoc},
		{"docs/guide.RST", types.FileDoc},
		{"internal/x/x_test.go", types.FileTest},
		{"tests/integration/main.tf", types.FileTest},
		{"src/app.spec.ts", types.FileTest},
		{"testdata/notes.txt", types.FileDoc},
		{"LICENSE", types.FileOther},
		{"image.png", types.FileOther},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.path))
		})
	}

	assert.True(t, c.Include(types.FileSrc))
	assert.False(t, c.Include(types.FileOther))
}

func TestParseGitHubRepo(t *testing.T) {
	tests := []struct {
		in          string
		owner, repo string
		wantErr     bool
	}{
		{in: "https://github.com/acme/infra", owner: "acme", repo: "infra"},
		{in: "https://github.com/acme/infra.git", owner: "acme", repo: "infra"},
		{in: "https://github.com/acme/infra/tree/main/modules", owner: "acme", repo: "infra"},
		{in: "github.com/acme/infra", owner: "acme", repo: "infra"},
		{in: "acme/infra", owner: "acme", repo: "infra"},
		{in: "git@github.com:acme/infra.git", owner: "acme", repo: "infra"},
		{in: "infra", wantErr: true},
		{in: "", wantErr: true},
		{in: "acme/in fra", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, repo, err := ParseGitHubRepo(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestDefaultProjectName(t *testing.T) {
	assert.Equal(t, "acme-infra", DefaultProjectName("https://github.com/Acme/infra.git"))
	assert.Equal(t, "acme-infra", DefaultProjectName("acme/infra"))
	assert.Equal(t, "my-repo", DefaultProjectName("/tmp/checkouts/My Repo"))
	assert.Equal(t, "svc", DefaultProjectName("file:///srv/svc"))
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for p, content := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func TestLocalFetcher_Fetch(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.tf":             `resource "aws_s3_bucket" "logs" {}`,
		"README.md":           "# infra",
		"modules/vpc/vpc.tf":  `resource "aws_vpc" "main" {}`,
		"tests/main_test.go":  "package tests",
		".git/config":         "[core]",
		"vendor/lib/lib.go":   "package lib",
		"node_modules/x/x.js": "x",
		"logo.png":            "\x89PNG",
		"LICENSE":             "MIT",
	})

	f := NewLocalFetcher(nil, nil)
	snap, err := f.Fetch(context.Background(), root, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"README.md", "main.tf", "modules/vpc/vpc.tf", "tests/main_test.go"}, snap.Paths())
	mainTF := snap.Files["main.tf"]
	assert.Equal(t, types.FileSrc, mainTF.Type)
	assert.Len(t, mainTF.Hash, 64)
	assert.False(t, mainTF.ModTime.IsZero())
	assert.Contains(t, mainTF.URL, "file://")
	assert.Equal(t, types.FileTest, snap.Files["tests/main_test.go"].Type)
	assert.Equal(t, types.FileDoc, snap.Files["README.md"].Type)

	content, err := mainTF.Content(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `resource "aws_s3_bucket" "logs" {}`, string(content))

	sf := snap.SourceFiles()
	assert.Equal(t, mainTF.Hash, sf["main.tf"].ContentHash)
	assert.Equal(t, mainTF.State().Path, "main.tf")
	assert.NotEmpty(t, snap.Commit)
}

func TestLocalFetcher_DeterministicRevision(t *testing.T) {
	root := writeTree(t, map[string]string{"a.tf": "a", "b.md": "b"})
	f := NewLocalFetcher(nil, nil)

	s1, err := f.Fetch(context.Background(), "file://"+root, "")
	require.NoError(t, err)
	s2, err := f.Fetch(context.Background(), root, "")
	require.NoError(t, err)
	assert.Equal(t, s1.Commit, s2.Commit)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.tf"), []byte("changed"), 0o644))
	s3, err := f.Fetch(context.Background(), root, "")
	require.NoError(t, err)
	assert.NotEqual(t, s1.Commit, s3.Commit)
	assert.NotEqual(t, s1.Files["a.tf"].Hash, s3.Files["a.tf"].Hash)
	assert.Equal(t, s1.Files["b.md"].Hash, s3.Files["b.md"].Hash)
}

func TestLocalFetcher_SkipsLargeFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"small.tf": "x", "big.tf": string(make([]byte, 64))})
	f := NewLocalFetcher(nil, nil)
	f.MaxFileBytes = 10

	snap, err := f.Fetch(context.Background(), root, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"small.tf"}, snap.Paths())
}

func TestLocalFetcher_Missing(t *testing.T) {
	f := NewLocalFetcher(nil, nil)
	_, err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "nope"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRepoNotFound)
	var fe *types.FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestRouter(t *testing.T) {
	root := t.TempDir()
	repoDir := filepath.Join(root, "acme", "infra")
	require.NoError(t, os.MkdirAll(repoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "main.tf"), []byte("x"), 0o644))

	gh := &stubFetcher{}
	r := &Router{Local: NewLocalFetcher(nil, nil), GitHub: gh, LocalRoot: root}

	snap, err := r.Fetch(context.Background(), "acme/infra", "")
	require.NoError(t, err)
	assert.Equal(t, "acme/infra", snap.RepoURL)
	assert.Equal(t, "acme-infra", snap.Name)
	assert.Contains(t, snap.Files, "main.tf")
	assert.Zero(t, gh.calls)

	_, err = r.Fetch(context.Background(), "acme/other", "")
	require.NoError(t, err)
	assert.Equal(t, 1, gh.calls)

	_, err = r.Fetch(context.Background(), repoDir, "")
	require.NoError(t, err)
	assert.Equal(t, 1, gh.calls)

	_, err = (&Router{}).Fetch(context.Background(), "acme/infra", "")
	assert.ErrorIs(t, err, types.ErrRepoNotFound)
}

type stubFetcher struct {
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, repoURL, _ string) (*Snapshot, error) {
	s.calls++
	return &Snapshot{RepoURL: repoURL, Files: map[string]Entry{}}, nil
}
