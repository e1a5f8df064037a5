package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// MemoryStore is an in-process Store with the same semantics as the Qdrant
// adapter. It backs tests and the --memory mode.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dim    int
	points map[string]Point
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (m *MemoryStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.collections[name]; ok {
		if c.dim != dim {
			return fmt.Errorf("%w: collection %s has %d, want %d", ErrDimensionMismatch, name, c.dim, dim)
		}
		return nil
	}
	m.collections[name] = &memCollection{dim: dim, points: make(map[string]Point)}
	return nil
}

func (m *MemoryStore) collection(name string) (*memCollection, error) {
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if err := validatePoints(points); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != c.dim {
			return fmt.Errorf("%w: point %s has %d, want %d", ErrDimensionMismatch, p.ID, len(p.Vector), c.dim)
		}
	}
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		p.Payload.Extra = copyExtra(p.Payload.Extra)
		c.points[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(c.points, id)
	}
	return nil
}

func (m *MemoryStore) SetPayload(ctx context.Context, collection string, ids []string, meta Metadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if p, ok := c.points[id]; ok {
			p.Payload.Metadata = meta
			c.points[id] = p
		}
	}
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, collection string, vector []float32, filter Filter, topK int) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(vector), c.dim)
	}

	hits := make([]ScoredPoint, 0)
	for _, p := range c.points {
		if !matches(p.Payload, filter) {
			continue
		}
		hits = append(hits, ScoredPoint{ID: p.ID, Score: cosine(vector, p.Vector), Payload: clonePayload(p.Payload)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryStore) Scroll(ctx context.Context, collection string, filter Filter, limit int, offset string) ([]Record, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collection)
	if err != nil {
		return nil, "", err
	}

	ids := make([]string, 0, len(c.points))
	for id, p := range c.points {
		if id >= offset && matches(p.Payload, filter) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	next := ""
	if limit > 0 && len(ids) > limit {
		next = ids[limit]
		ids = ids[:limit]
	}

	records := make([]Record, len(ids))
	for i, id := range ids {
		records[i] = Record{ID: id, Payload: clonePayload(c.points[id].Payload)}
	}
	return records, next, nil
}

func (m *MemoryStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collection)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range c.points {
		if matches(p.Payload, filter) {
			n++
		}
	}
	return n, nil
}

// Vector returns a copy of a stored vector, for tests
func (m *MemoryStore) Vector(collection, id string) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, false
	}
	p, ok := c.points[id]
	if !ok {
		return nil, false
	}
	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)
	return vec, true
}

func (m *MemoryStore) Close() error {
	return nil
}

func matches(p Payload, f Filter) bool {
	for _, c := range f.Must {
		if !matchCondition(p, c) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if matchCondition(p, c) {
			return false
		}
	}
	return true
}

func matchCondition(p Payload, c Condition) bool {
	v, ok := fieldValue(p, c.Field)
	if !ok {
		return false
	}
	if !c.Text {
		return v == c.Value
	}
	have := make(map[string]bool)
	for _, tok := range tokenize(v) {
		have[tok] = true
	}
	want := tokenize(c.Value)
	if len(want) == 0 {
		return false
	}
	for _, tok := range want {
		if !have[tok] {
			return false
		}
	}
	return true
}

func fieldValue(p Payload, field string) (string, bool) {
	switch field {
	case FieldProjectName:
		return p.ProjectName, true
	case FieldFileURL:
		return p.FileURL, true
	case FieldType:
		return string(p.Type), true
	case FieldChunkID:
		return p.ChunkID, true
	case FieldFilePath:
		return p.FilePath, true
	case FieldText:
		return p.Text, true
	}
	v, ok := p.Extra[field]
	return v, ok
}

// tokenize mirrors Qdrant's default word tokenizer with lowercasing.
// Underscores separate words, so aws_s3_bucket yields aws, s3 and bucket.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func copyExtra(extra map[string]string) map[string]string {
	if extra == nil {
		return nil
	}
	out := make(map[string]string, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func clonePayload(p Payload) Payload {
	p.Extra = copyExtra(p.Extra)
	return p
}
