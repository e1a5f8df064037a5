package differ

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

func state(path, hash string, typ types.FileType) types.FileState {
	return types.FileState{Path: path, ContentHash: hash, Type: typ, FileURL: "u/" + path}
}

func source(path, hash string, typ types.FileType) types.SourceFile {
	return types.SourceFile{Path: path, ContentHash: hash, Type: typ, FileURL: "u/" + path}
}

func TestDiff(t *testing.T) {
	prev := map[string]types.FileState{
		"a.tf":      state("a.tf", "h1", types.FileSrc),
		"b.md":      state("b.md", "h2", types.FileDoc),
		"gone.tf":   state("gone.tf", "h3", types.FileSrc),
		"retyped.x": state("retyped.x", "h4", types.FileOther),
	}
	cur := map[string]types.SourceFile{
		"a.tf":      source("a.tf", "h1-changed", types.FileSrc),
		"b.md":      source("b.md", "h2", types.FileDoc),
		"new.tf":    source("new.tf", "h5", types.FileSrc),
		"retyped.x": source("retyped.x", "h4", types.FileSrc),
	}

	d := Diff(prev, cur)

	assert.Equal(t, []string{"new.tf"}, d.Added)
	assert.Equal(t, []string{"a.tf", "retyped.x"}, d.Modified)
	assert.Equal(t, []string{"gone.tf"}, d.Deleted)
	assert.Equal(t, []string{"b.md"}, d.Unchanged)
	assert.Equal(t, []string{"a.tf", "new.tf", "retyped.x"}, d.Changed())
	assert.False(t, d.Empty())
}

func TestDiff_FirstRunAndNoop(t *testing.T) {
	cur := map[string]types.SourceFile{
		"z.go": source("z.go", "1", types.FileSrc),
		"a.go": source("a.go", "2", types.FileSrc),
	}

	first := Diff(nil, cur)
	assert.Equal(t, []string{"a.go", "z.go"}, first.Added)
	assert.Empty(t, first.Deleted)

	prev := map[string]types.FileState{
		"z.go": state("z.go", "1", types.FileSrc),
		"a.go": state("a.go", "2", types.FileSrc),
	}
	again := Diff(prev, cur)
	assert.True(t, again.Empty())
	assert.Equal(t, []string{"a.go", "z.go"}, again.Unchanged)
}

func chunk(path string, start int, text string) types.Chunk {
	end := start + len(text)
	return types.Chunk{ID: types.ChunkID(path, start, end), Path: path, Range: types.OffsetRange{Start: start, End: end}, Text: text, Type: types.FileSrc}
}

func TestPlanChunks(t *testing.T) {
	same := chunk("a.tf", 0, "resource {}")
	edited := chunk("a.tf", 11, "bucket = 1")
	added := chunk("a.tf", 21, "tags = {}")

	old := map[string]string{
		same.ID:      same.TextHash(),
		edited.ID:    types.HashText("bucket = 0"),
		"a.tf#21-40": types.HashText("stale"),
	}

	plan := PlanChunks(old, []types.Chunk{same, edited, added})

	assert.Equal(t, []types.Chunk{same}, plan.Refresh)
	assert.Equal(t, []types.Chunk{edited, added}, plan.Embed)
	assert.Equal(t, []string{"a.tf#21-40"}, plan.Tombstone)
}

func TestPlanChunks_NewFile(t *testing.T) {
	c := chunk("b.md", 0, "# Title")
	plan := PlanChunks(nil, []types.Chunk{c})
	assert.Equal(t, []types.Chunk{c}, plan.Embed)
	assert.Empty(t, plan.Refresh)
	assert.Empty(t, plan.Tombstone)
}
