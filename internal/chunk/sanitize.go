package chunk

import (
	"regexp"
	"strconv"
	"strings"
)

// escapedUnicode matches stray literal \uXXXX sequences that survive some
// text extraction pipelines (JSON dumps pasted into documents, etc.).
var escapedUnicode = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)

// pageBreakLine matches lines that are pure page-break artifacts of PDF
// extraction: form feeds and "Page N [of M]" footers.
var pageBreakLine = regexp.MustCompile(`^\s*(?:\f+|[Pp]age\s+\d+(?:\s+of\s+\d+)?)\s*$`)

var (
	multiSpace   = regexp.MustCompile(`[ \t]{2,}`)
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

// Sanitize normalizes raw text before chunking: line endings are unified,
// null bytes and control characters (except newline and tab) are stripped,
// stray escaped-unicode sequences are decoded, and the result is trimmed.
func Sanitize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	content = escapedUnicode.ReplaceAllStringFunc(content, func(seq string) string {
		code, err := strconv.ParseUint(seq[2:], 16, 32)
		if err != nil {
			return seq
		}
		return string(rune(code))
	})

	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if r == 0 {
			continue
		}
		// Form feed survives sanitization: the PDF cleanup pass keys on it.
		if r < 0x20 && r != '\n' && r != '\t' && r != '\f' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}

	return strings.TrimSpace(b.String())
}

// LooksLikePDF reports whether content appears to be extracted-PDF text.
// Heuristics: the source filename has a PDF extension, the text contains
// page-break markers, or a line is immediately repeated (headers and footers
// duplicated across page boundaries).
func LooksLikePDF(content string, metadata map[string]string) bool {
	for _, key := range []string{"file_name", "source"} {
		if name, ok := metadata[key]; ok && strings.HasSuffix(strings.ToLower(name), ".pdf") {
			return true
		}
	}
	if strings.Contains(content, "\f") {
		return true
	}

	lines := strings.Split(content, "\n")
	prev := ""
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && trimmed == prev {
			return true
		}
		prev = trimmed
	}
	return false
}

// CleanPDFArtifacts removes the noise PDF text extraction leaves behind:
// consecutive duplicate lines, page-break markers, hard line breaks inside
// sentences, and runs of spaces or blank lines.
func CleanPDFArtifacts(content string) string {
	lines := strings.Split(content, "\n")

	// Drop page-break markers and collapse consecutive duplicate lines.
	cleaned := make([]string, 0, len(lines))
	prev := ""
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if pageBreakLine.MatchString(trimmed) {
			continue
		}
		trimmed = strings.ReplaceAll(trimmed, "\f", "")
		if strings.TrimSpace(trimmed) != "" && strings.TrimSpace(trimmed) == prev {
			continue
		}
		prev = strings.TrimSpace(trimmed)
		cleaned = append(cleaned, trimmed)
	}

	// Merge lines broken mid-sentence: a line ending in a lowercase letter or
	// comma followed by a line starting lowercase is one sentence split by
	// the page layout.
	merged := make([]string, 0, len(cleaned))
	for _, line := range cleaned {
		trimmed := strings.TrimSpace(line)
		if len(merged) > 0 && trimmed != "" {
			last := merged[len(merged)-1]
			if endsMidSentence(last) && startsLower(trimmed) {
				merged[len(merged)-1] = last + " " + trimmed
				continue
			}
		}
		merged = append(merged, line)
	}

	out := strings.Join(merged, "\n")
	out = multiSpace.ReplaceAllString(out, " ")
	out = multiNewline.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// endsMidSentence reports whether a line ends in a way that suggests the
// sentence continues on the next line.
func endsMidSentence(line string) bool {
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return false
	}
	r := rune(line[len(line)-1])
	return r == ',' || (r >= 'a' && r <= 'z')
}

// startsLower reports whether a line starts with a lowercase letter.
func startsLower(line string) bool {
	if line == "" {
		return false
	}
	r := rune(line[0])
	return r >= 'a' && r <= 'z'
}
