package chunker

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Default sizes in bytes
const (
	DefaultTarget  = 1500
	DefaultMax     = 2000
	DefaultOverlap = 200
	DefaultWindow  = 400
)

// Boundary preference, strongest first
const (
	levelBlankLine = iota
	levelBlockEnd
	levelNewline
	levelSpace
	levelCount
)

// blockDelimiters are lines that usually close a logical block in source,
// config and markup files
var blockDelimiters = map[string]bool{
	"}":   true,
	"};":  true,
	"})":  true,
	"]":   true,
	")":   true,
	"end": true,
	"EOF": true,
	"---": true,
}

var (
	ErrInvalidConfig = errors.New("invalid chunker config")
	ErrGap           = errors.New("chunks do not cover content contiguously")
)

// Config controls chunk sizing
type Config struct {
	Target  int // preferred chunk length
	Max     int // hard upper bound on chunk length
	Overlap int // bytes shared between consecutive chunks
	Window  int // how far before Target a boundary may be taken
}

// DefaultConfig returns the default sizing
func DefaultConfig() Config {
	return Config{
		Target:  DefaultTarget,
		Max:     DefaultMax,
		Overlap: DefaultOverlap,
		Window:  DefaultWindow,
	}
}

// Validate checks that the sizes guarantee forward progress
func (c Config) Validate() error {
	switch {
	case c.Target <= 0 || c.Max < c.Target:
		return fmt.Errorf("%w: need 0 < target <= max (target=%d, max=%d)", ErrInvalidConfig, c.Target, c.Max)
	case c.Overlap < 0 || c.Window < 0:
		return fmt.Errorf("%w: overlap and window must be non-negative", ErrInvalidConfig)
	case c.Target-c.Window <= c.Overlap:
		return fmt.Errorf("%w: target-window (%d) must exceed overlap (%d)", ErrInvalidConfig, c.Target-c.Window, c.Overlap)
	}
	return nil
}

// Chunker splits file content into overlapping, boundary-aware chunks
type Chunker struct {
	cfg Config
}

// New creates a Chunker after validating cfg
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Default creates a Chunker with DefaultConfig
func Default() *Chunker {
	return &Chunker{cfg: DefaultConfig()}
}

// Config returns the sizing in use
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits content into chunks that inherit fileType and fileURL.
// The result is a pure function of its inputs.
func (c *Chunker) Chunk(path string, content []byte, fileType types.FileType, fileURL string) []types.Chunk {
	n := len(content)
	if n == 0 {
		return nil
	}

	chunks := make([]types.Chunk, 0, n/c.cfg.Target+1)
	start := 0
	for {
		end := n
		if n-start > c.cfg.Max {
			end = c.cut(content, start)
		}

		chunks = append(chunks, types.Chunk{
			ID:      types.ChunkID(path, start, end),
			Path:    path,
			Range:   types.OffsetRange{Start: start, End: end},
			Text:    string(content[start:end]),
			Type:    fileType,
			FileURL: fileURL,
		})

		if end == n {
			return chunks
		}

		next := end - c.cfg.Overlap
		if next <= start {
			next = end
		}
		for next < end && !utf8.RuneStart(content[next]) {
			next++
		}
		start = next
	}
}

// cut returns the exclusive end of the chunk beginning at start.
// Callers guarantee start+Max < len(content).
func (c *Chunker) cut(content []byte, start int) int {
	target := start + c.cfg.Target
	hi := start + c.cfg.Max
	lo := target - c.cfg.Window
	if lo <= start {
		lo = start + 1
	}

	var best [levelCount]int
	for i := range best {
		best[i] = -1
	}

	for p := lo; p <= hi; p++ {
		level := boundaryLevel(content, start, p)
		if level < 0 {
			continue
		}
		if best[level] < 0 || distance(p, target) < distance(best[level], target) {
			best[level] = p
		}
	}

	for _, p := range best {
		if p > 0 {
			return p
		}
	}

	// No boundary: hard cut, never splitting a multi-byte rune. A rune
	// start is at most UTFMax-1 bytes back; further means invalid UTF-8.
	for p := hi; p > start && p > hi-utf8.UTFMax; p-- {
		if utf8.RuneStart(content[p]) {
			return p
		}
	}
	return hi
}

// boundaryLevel classifies a cut that ends a chunk right before content[p].
// It returns -1 when p is not a boundary.
func boundaryLevel(content []byte, start, p int) int {
	prev := content[p-1]
	switch prev {
	case '\n':
		lineEnd := p - 1
		if lineEnd > start && content[lineEnd-1] == '\r' {
			lineEnd--
		}
		lineStart := start
		if idx := bytes.LastIndexByte(content[start:lineEnd], '\n'); idx >= 0 {
			lineStart = start + idx + 1
		} else if start > 0 && content[start-1] != '\n' {
			// line began before the chunk; treat as an ordinary newline
			return levelNewline
		}
		line := strings.TrimSpace(string(content[lineStart:lineEnd]))
		switch {
		case line == "":
			return levelBlankLine
		case blockDelimiters[line]:
			return levelBlockEnd
		default:
			return levelNewline
		}
	case ' ', '\t':
		return levelSpace
	}
	return -1
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// Reassemble rebuilds the original content from chunks using their byte
// offsets, dropping overlapped bytes. Chunks may be given in any order.
func Reassemble(chunks []types.Chunk) (string, error) {
	if len(chunks) == 0 {
		return "", nil
	}

	sorted := make([]types.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Range.Start < sorted[j].Range.Start
	})

	var b strings.Builder
	covered := 0
	for _, ch := range sorted {
		if ch.Range.Start > covered {
			return "", fmt.Errorf("%w: gap at byte %d", ErrGap, covered)
		}
		if ch.Range.End > covered {
			b.WriteString(ch.Text[covered-ch.Range.Start:])
			covered = ch.Range.End
		}
	}
	return b.String(), nil
}
