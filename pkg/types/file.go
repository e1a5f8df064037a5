package types

import (
	"fmt"
	"time"
)

// FileType classifies a repository file for metadata filtering
type FileType string

const (
	FileSrc   FileType = "src"
	FileDoc   FileType = "doc"
	FileTest  FileType = "test"
	FileOther FileType = "other"
)

// AllFileTypes lists every valid file type
var AllFileTypes = []FileType{FileSrc, FileDoc, FileTest, FileOther}

// ParseFileType converts a string into a FileType
func ParseFileType(s string) (FileType, error) {
	switch FileType(s) {
	case FileSrc, FileDoc, FileTest, FileOther:
		return FileType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFileType, s)
	}
}

// Valid reports whether t is one of the known file types
func (t FileType) Valid() bool {
	_, err := ParseFileType(string(t))
	return err == nil
}

// Repository is the ingested source of truth for a project
type Repository struct {
	URL              string
	DefaultBranch    string
	LastSyncedCommit string
}

// SourceFile is a single file belonging to a repository
type SourceFile struct {
	Path         string
	Type         FileType
	ContentHash  string
	LastModified time.Time
	FileURL      string
}

// FileState is the persisted per-file record used by the differ
type FileState struct {
	Path         string
	Type         FileType
	ContentHash  string
	LastModified time.Time
	FileURL      string
}
