// Package chunker divides file content into overlapping chunks for embedding.
//
// Chunks are byte ranges [Start, End) of the original file. Consecutive
// chunks share Overlap bytes so context spanning a cut is never lost, and
// Reassemble can rebuild the file from offsets alone.
//
// # Basic Usage
//
//	c := chunker.Default()
//	chunks := c.Chunk("modules/vpc/main.tf", content, types.FileSrc, fileURL)
//	for _, ch := range chunks {
//	    fmt.Printf("%s: %d bytes\n", ch.ID, ch.Range.Len())
//	}
//
// # Cut Selection
//
// Every chunk except the last is cut inside the window
// [Start+Target-Window, Start+Max]. Candidate positions are ranked:
//
//  1. after a blank line
//  2. after a line closing a block (}, ], ), end, EOF, ---)
//  3. after any newline
//  4. after a space or tab
//
// The strongest level present wins; within a level the position closest to
// Start+Target wins. With no candidate at all the chunk is hard-cut at
// Start+Max, backed up so a UTF-8 sequence is never split.
//
// # Sizing
//
// Defaults are Target 1500, Max 2000, Overlap 200 and Window 400 bytes.
// Config.Validate requires Target-Window > Overlap, which guarantees each
// chunk starts strictly after the previous one.
package chunker
