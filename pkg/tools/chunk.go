package tools

import (
	"math"
	"strings"
	"unicode"
)

// Default chunking parameters for document retrieval.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
	DefaultTopK         = 4
)

// chunkText splits text into windows of size runes that overlap by overlap
// runes. Windows end on whitespace when one is available in the last
// quarter of the window.
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			break
		}
		for cut := end; cut > end-size/4; cut-- {
			if unicode.IsSpace(runes[cut]) {
				end = cut
				break
			}
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[start:end])))

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"what": true, "how": true, "where": true, "when": true, "why": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"and": true, "or": true, "but": true, "with": true, "candidate": true,
}

func keywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, w := range fields {
		if len([]rune(w)) < 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// termOverlap scores the share of query keywords present in content.
func termOverlap(content string, kws []string) float64 {
	if len(kws) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matches := 0
	for _, kw := range kws {
		if strings.Contains(lower, kw) {
			matches++
		}
	}
	return float64(matches) / float64(len(kws))
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
