// Package chunk splits sanitized document text into overlapping passages
// sized for embedding.
//
// The splitter is paragraph based: paragraphs accumulate into a chunk until
// adding the next one would exceed the size target, then the chunk is closed
// and the next chunk is seeded with the closed chunk's last two paragraphs.
// Overlap is expressed in paragraphs rather than characters because it is
// more robust to paragraph-length variance. Markdown sources are split on
// header boundaries first so sections stay coherent.
package chunk

import (
	"regexp"
	"strings"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1500

	// overlapParagraphs is the number of trailing paragraphs carried into the
	// next chunk when a split occurs.
	overlapParagraphs = 2
)

// markdownHeader matches ATX headers (1-6 # characters) at line start.
var markdownHeader = regexp.MustCompile(`(?m)^#{1,6}\s`)

// blankLine separates paragraphs.
var blankLine = regexp.MustCompile(`\n[ \t]*\n+`)

// Chunk is one passage of a processed document.
// Immutable once created; ownership transfers to the vector store on ingest.
type Chunk struct {
	Content     string
	Metadata    map[string]string
	ChunkIndex  int
	TotalChunks int
}

// Options configures Process.
type Options struct {
	// ChunkSize is the target chunk length in characters. Zero means
	// DefaultChunkSize.
	ChunkSize int
}

// Process sanitizes content and splits it into chunks.
//
// Sanitization always runs; PDF-artifact cleanup runs when the source looks
// like extracted-PDF text; markdown-aware splitting runs when metadata marks
// the source as markdown. Every produced chunk carries a copy of metadata
// plus its 0-based index and the chunk total.
//
// Empty or whitespace-only input yields an empty slice, never an error.
func Process(content string, metadata map[string]string, opts Options) []Chunk {
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	text := Sanitize(content)
	if text == "" {
		return nil
	}

	if LooksLikePDF(text, metadata) {
		text = CleanPDFArtifacts(text)
		if text == "" {
			return nil
		}
	}

	var pieces []string
	if isMarkdown(metadata) {
		pieces = splitMarkdown(text, size)
	} else {
		pieces = splitParagraphs(text, size)
	}

	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, Chunk{
			Content:     piece,
			Metadata:    copyMetadata(metadata),
			ChunkIndex:  i,
			TotalChunks: len(pieces),
		})
	}
	return chunks
}

// isMarkdown reports whether metadata marks the source as markdown.
func isMarkdown(metadata map[string]string) bool {
	if metadata["content_type"] == "markdown" {
		return true
	}
	name := strings.ToLower(metadata["file_name"])
	return strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".markdown")
}

// splitMarkdown splits on header boundaries first, then applies paragraph
// splitting to any section still exceeding the size target.
func splitMarkdown(text string, size int) []string {
	sections := splitOnHeaders(text)

	var out []string
	for _, section := range sections {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		if len(section) <= size {
			out = append(out, section)
			continue
		}
		out = append(out, splitParagraphs(section, size)...)
	}
	return out
}

// splitOnHeaders cuts text at each markdown header line, keeping the header
// with the section it opens.
func splitOnHeaders(text string) []string {
	locs := markdownHeader.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var sections []string
	start := 0
	for _, loc := range locs {
		if loc[0] > start {
			sections = append(sections, text[start:loc[0]])
		}
		start = loc[0]
	}
	sections = append(sections, text[start:])
	return sections
}

// splitParagraphs accumulates blank-line-delimited paragraphs into chunks of
// at most size characters, seeding each new chunk with the previous chunk's
// last two paragraphs. Text that already fits passes through as one chunk.
func splitParagraphs(text string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}

	paragraphs := blankLine.Split(text, -1)
	var out []string
	var current []string
	fresh := 0 // paragraphs in current beyond the overlap seed

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if fresh > 0 && joinedLen(current)+2+len(para) > size {
			out = append(out, strings.Join(current, "\n\n"))

			// Seed the next chunk with the closed chunk's trailing paragraphs.
			seed := current
			if len(seed) > overlapParagraphs {
				seed = seed[len(seed)-overlapParagraphs:]
			}
			current = append([]string(nil), seed...)
			fresh = 0
		}
		current = append(current, para)
		fresh++
	}

	// The trailing chunk always carries at least one paragraph that is not
	// part of the previous chunk's overlap seed.
	if fresh > 0 {
		out = append(out, strings.Join(current, "\n\n"))
	}
	return out
}

// joinedLen returns the length of paragraphs joined with blank lines.
func joinedLen(paragraphs []string) int {
	n := 0
	for i, p := range paragraphs {
		if i > 0 {
			n += 2
		}
		n += len(p)
	}
	return n
}

// copyMetadata returns an independent copy so chunks never share maps.
func copyMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
