package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// OffsetRange is a half-open byte range [Start, End) within a file
type OffsetRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes in the range
func (r OffsetRange) Len() int {
	return r.End - r.Start
}

// Chunk represents a bounded, overlap-aware segment of a source file
type Chunk struct {
	// Identification
	ID   string
	Path string

	// Location
	Range OffsetRange

	// Content
	Text string

	// Metadata inherited from the owning file
	Type    FileType
	FileURL string
}

// ChunkID derives the stable identifier of a chunk from its file path and range
func ChunkID(path string, start, end int) string {
	return fmt.Sprintf("%s#%d-%d", path, start, end)
}

// TextHash returns the hex SHA-256 of the chunk text
func (c *Chunk) TextHash() string {
	return HashText(c.Text)
}

// HashText returns the hex SHA-256 of text
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Validate checks if the chunk is well formed
func (c *Chunk) Validate() error {
	if c.Path == "" {
		return errors.New("chunk path is required")
	}

	if c.Range.Start < 0 || c.Range.End <= c.Range.Start {
		return errors.New("chunk range must be non-empty and non-negative")
	}

	if len(c.Text) != c.Range.Len() {
		return errors.New("chunk text length does not match its range")
	}

	if c.ID != ChunkID(c.Path, c.Range.Start, c.Range.End) {
		return ErrInvalidChunkID
	}

	if !c.Type.Valid() {
		return ErrInvalidFileType
	}

	return nil
}
