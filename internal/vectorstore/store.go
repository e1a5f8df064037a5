// Package vectorstore persists chunk vectors with their metadata and answers
// filtered similarity queries.
//
// Two implementations share one contract: QdrantStore talks to Qdrant over
// gRPC, MemoryStore keeps everything in process. Point ids at this level are
// chunk ids; each backend maps them to whatever id scheme it needs.
//
// Filters are always evaluated by the store, never by the caller after the
// fact, so topK results are the best matches among the filtered set.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Payload field names
const (
	FieldProjectName = "project_name"
	FieldFileURL     = "file_url"
	FieldTimestamp   = "timestamp"
	FieldType        = "type"
	FieldChunkID     = "chunk_id"
	FieldFilePath    = "file_path"
	FieldStart       = "start"
	FieldEnd         = "end"
	FieldText        = "text"
)

// MaxExtraFields bounds the free-form part of a payload
const MaxExtraFields = 8

var (
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrCollectionNotFound = errors.New("collection not found")
)

var (
	extraKeyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	fixedFields     = map[string]bool{
		FieldProjectName: true, FieldFileURL: true, FieldTimestamp: true, FieldType: true,
		FieldChunkID: true, FieldFilePath: true, FieldStart: true, FieldEnd: true, FieldText: true,
	}
)

// Metadata is the file-level part of a payload. All fields are mandatory.
type Metadata struct {
	ProjectName string
	FileURL     string
	Timestamp   time.Time
	Type        types.FileType
}

// Validate checks that every mandatory field is present
func (m Metadata) Validate() error {
	switch {
	case m.ProjectName == "":
		return fmt.Errorf("%w: %s is required", types.ErrInvalidPayload, FieldProjectName)
	case m.FileURL == "":
		return fmt.Errorf("%w: %s is required", types.ErrInvalidPayload, FieldFileURL)
	case m.Timestamp.IsZero():
		return fmt.Errorf("%w: %s is required", types.ErrInvalidPayload, FieldTimestamp)
	case !m.Type.Valid():
		return fmt.Errorf("%w: %s %q", types.ErrInvalidPayload, FieldType, m.Type)
	}
	return nil
}

// Payload is the metadata stored with each point
type Payload struct {
	Metadata

	ChunkID  string
	FilePath string
	Start    int
	End      int
	Text     string

	Extra map[string]string
}

// Validate checks mandatory fields and the bounds on Extra
func (p Payload) Validate() error {
	if err := p.Metadata.Validate(); err != nil {
		return err
	}
	switch {
	case p.ChunkID == "":
		return fmt.Errorf("%w: %s is required", types.ErrInvalidPayload, FieldChunkID)
	case p.FilePath == "":
		return fmt.Errorf("%w: %s is required", types.ErrInvalidPayload, FieldFilePath)
	case p.Start < 0 || p.End <= p.Start:
		return fmt.Errorf("%w: bad range [%d, %d)", types.ErrInvalidPayload, p.Start, p.End)
	case len(p.Extra) > MaxExtraFields:
		return fmt.Errorf("%w: %d extra fields, max %d", types.ErrInvalidPayload, len(p.Extra), MaxExtraFields)
	}
	for k := range p.Extra {
		if !extraKeyPattern.MatchString(k) || fixedFields[k] {
			return fmt.Errorf("%w: extra field %q", types.ErrInvalidPayload, k)
		}
	}
	return nil
}

// PayloadFromChunk builds the payload for a chunk
func PayloadFromChunk(ch types.Chunk, meta Metadata) Payload {
	return Payload{
		Metadata: meta,
		ChunkID:  ch.ID,
		FilePath: ch.Path,
		Start:    ch.Range.Start,
		End:      ch.Range.End,
		Text:     ch.Text,
	}
}

// Point is a vector plus payload, keyed by chunk id
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Record is a stored point without its vector
type Record struct {
	ID      string
	Payload Payload
}

// ScoredPoint is a query hit; higher scores are more similar
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload Payload
}

// Condition matches one payload field. Text selects full-text matching
// (all words present) instead of exact keyword equality.
type Condition struct {
	Field string
	Value string
	Text  bool
}

// Match is a keyword equality condition
func Match(field, value string) Condition {
	return Condition{Field: field, Value: value}
}

// MatchText is a full-text condition
func MatchText(field, text string) Condition {
	return Condition{Field: field, Value: text, Text: true}
}

// Filter combines conditions: every Must holds and no MustNot holds
type Filter struct {
	Must    []Condition
	MustNot []Condition
}

// IsEmpty reports whether the filter matches everything
func (f Filter) IsEmpty() bool {
	return len(f.Must) == 0 && len(f.MustNot) == 0
}

// Store is the vector database contract
type Store interface {
	// EnsureCollection creates the collection and its payload indexes if
	// missing. An existing collection with another dimension is an error.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert writes points, replacing any with the same id
	Upsert(ctx context.Context, collection string, points []Point) error

	// Delete removes points by id; unknown ids are ignored
	Delete(ctx context.Context, collection string, ids []string) error

	// SetPayload overwrites the file-level metadata of existing points
	SetPayload(ctx context.Context, collection string, ids []string, meta Metadata) error

	// Query returns up to topK points most similar to vector among those
	// matching filter
	Query(ctx context.Context, collection string, vector []float32, filter Filter, topK int) ([]ScoredPoint, error)

	// Scroll pages through points matching filter in id order. offset is
	// the next-page token from a previous call, empty for the first page.
	Scroll(ctx context.Context, collection string, filter Filter, limit int, offset string) ([]Record, string, error)

	// Count returns the number of points matching filter
	Count(ctx context.Context, collection string, filter Filter) (int, error)

	Close() error
}

// PointID scopes a chunk id to its project. All projects share one
// collection, so the same path in two projects must not collide.
func PointID(project, chunkID string) string {
	return project + ":" + chunkID
}

func validatePoints(points []Point) error {
	for i := range points {
		if points[i].ID != points[i].Payload.ChunkID {
			return fmt.Errorf("%w: point id %q does not match chunk id %q", types.ErrInvalidPayload, points[i].ID, points[i].Payload.ChunkID)
		}
		if err := points[i].Payload.Validate(); err != nil {
			return fmt.Errorf("point %s: %w", points[i].ID, err)
		}
	}
	return nil
}
