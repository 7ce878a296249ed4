package rag

import (
	"fmt"
	"strings"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/knowledge"
)

// systemPrompt is the grounding policy for every generation.
const systemPrompt = `You are a retrieval-grounded assistant.
Answer using only the numbered context documents supplied with the question.
If the context does not contain the answer, say so explicitly instead of guessing.
Cite the numbered document that supports each claim, for example [2].`

// noContextMarker replaces the context block when retrieval finds nothing.
// The model must see that retrieval ran and came back empty, which is not
// the same as context being omitted.
const noContextMarker = "(no relevant context was found for this question)"

// formatContext renders retrieved documents as numbered, source-labeled,
// relevance-annotated blocks.
func formatContext(results []knowledge.SearchResult) string {
	if len(results) == 0 {
		return noContextMarker
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "[%d] source: %s (relevance %.2f)\n%s",
			i+1, sourceLabel(r.Document), r.Similarity, r.Document.Content)
	}
	return b.String()
}

// sourceLabel prefers a human-readable provenance label over the raw id.
func sourceLabel(doc knowledge.Document) string {
	for _, key := range []string{"file_name", "source"} {
		if label := doc.Metadata[key]; label != "" {
			return label
		}
	}
	return doc.ID
}

// userPrompt is the final user turn: assembled context, then the question.
func userPrompt(contextBlock, query string) string {
	return fmt.Sprintf("Context documents:\n%s\n\nQuestion: %s", contextBlock, query)
}
