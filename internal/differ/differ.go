// Package differ computes what an ingestion run has to do by comparing the
// persisted per-file state with a fresh repository snapshot.
package differ

import (
	"sort"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Delta partitions the union of previous and current paths.
// Every slice is sorted and the four are pairwise disjoint.
type Delta struct {
	Added     []string
	Modified  []string
	Deleted   []string
	Unchanged []string
}

// Changed returns Added and Modified merged in sorted order
func (d Delta) Changed() []string {
	out := make([]string, 0, len(d.Added)+len(d.Modified))
	out = append(out, d.Added...)
	out = append(out, d.Modified...)
	sort.Strings(out)
	return out
}

// Empty reports whether the run has nothing to write
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Diff classifies each path. A file is modified when its content hash
// changed, or when its metadata (type, URL) changed so stored payloads
// would otherwise go stale.
func Diff(prev map[string]types.FileState, cur map[string]types.SourceFile) Delta {
	var d Delta

	for path, f := range cur {
		old, ok := prev[path]
		switch {
		case !ok:
			d.Added = append(d.Added, path)
		case old.ContentHash != f.ContentHash || old.Type != f.Type || old.FileURL != f.FileURL:
			d.Modified = append(d.Modified, path)
		default:
			d.Unchanged = append(d.Unchanged, path)
		}
	}

	for path := range prev {
		if _, ok := cur[path]; !ok {
			d.Deleted = append(d.Deleted, path)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Deleted)
	sort.Strings(d.Unchanged)
	return d
}

// ChunkPlan says what to do with each chunk of one changed file
type ChunkPlan struct {
	Embed     []types.Chunk // new ids, or same id with different text
	Refresh   []types.Chunk // identical id and text; payload only
	Tombstone []string      // previously stored ids no longer produced
}

// PlanChunks compares the stored chunks of a file (id -> text hash) with
// the chunks produced from its new content. Tombstones are sorted.
func PlanChunks(old map[string]string, chunks []types.Chunk) ChunkPlan {
	var plan ChunkPlan
	seen := make(map[string]bool, len(chunks))

	for _, ch := range chunks {
		seen[ch.ID] = true
		if hash, ok := old[ch.ID]; ok && hash == ch.TextHash() {
			plan.Refresh = append(plan.Refresh, ch)
			continue
		}
		plan.Embed = append(plan.Embed, ch)
	}

	for id := range old {
		if !seen[id] {
			plan.Tombstone = append(plan.Tombstone, id)
		}
	}
	sort.Strings(plan.Tombstone)
	return plan
}
