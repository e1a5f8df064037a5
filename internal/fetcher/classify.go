package fetcher

import (
	"path"
	"strings"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Classifier assigns a FileType to a repository path and decides which
// types are ingested. Matching is case-insensitive.
type Classifier struct {
	TestDirs     []string
	TestSuffixes []string // matched against the file name without extension
	DocExts      []string
	SrcExts      []string
	IndexTypes   []types.FileType
}

// DefaultClassifier returns the classification used when nothing is configured
func DefaultClassifier() *Classifier {
	return &Classifier{
		TestDirs:     []string{"test", "tests", "testdata", "__tests__", "spec"},
		TestSuffixes: []string{"_test", ".test", ".spec", "_spec"},
		DocExts:      []string{".md", ".markdown", ".rst", ".txt", ".adoc"},
		SrcExts: []string{
			".tf", ".tfvars", ".hcl", ".go", ".py", ".js", ".jsx", ".ts", ".tsx",
			".java", ".kt", ".rb", ".rs", ".c", ".h", ".cpp", ".cs", ".php",
			".sh", ".bash", ".sql", ".yaml", ".yml", ".json", ".toml",
		},
		IndexTypes: []types.FileType{types.FileSrc, types.FileDoc, types.FileTest},
	}
}

// Classify returns the type of a slash-separated repository path
func (c *Classifier) Classify(p string) types.FileType {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	isSrc := contains(c.SrcExts, ext)
	if isSrc || ext == "" {
		for _, dir := range strings.Split(path.Dir(lower), "/") {
			if contains(c.TestDirs, dir) {
				return types.FileTest
			}
		}
		for _, suffix := range c.TestSuffixes {
			if strings.HasSuffix(stem, suffix) {
				return types.FileTest
			}
		}
	}
	switch {
	case contains(c.DocExts, ext):
		return types.FileDoc
	case isSrc:
		return types.FileSrc
	default:
		return types.FileOther
	}
}

// Include reports whether files of type t enter the snapshot
func (c *Classifier) Include(t types.FileType) bool {
	for _, it := range c.IndexTypes {
		if it == t {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

var binaryExts = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".7z": true, ".tgz": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true, ".webp": true, ".svg": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".bin": true, ".dat": true, ".db": true, ".sqlite": true,
	".pyc": true, ".pyo": true, ".class": true, ".o": true, ".a": true, ".jar": true,
}

// isBinaryPath checks if a file extension indicates a binary file
func isBinaryPath(p string) bool {
	return binaryExts[strings.ToLower(path.Ext(p))]
}
