package normalize

import (
	"encoding/json"
	"strings"
)

const fence = "```"

// stripFences removes fence layers until none remain on either side.
func stripFences(s string) string {
	for {
		next := stripFence(s)
		if next == s {
			return next
		}
		s = next
	}
}

// stripFence removes one leading fence line (with optional language tag) and
// one trailing fence. Either side may be missing.
func stripFence(s string) string {
	if strings.HasPrefix(s, fence) {
		rest := s[len(fence):]
		line, body, found := strings.Cut(rest, "\n")
		if isTag(strings.TrimSpace(line)) {
			if found {
				s = body
			} else {
				s = ""
			}
		} else {
			s = rest
		}
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, fence) {
		s = strings.TrimSpace(strings.TrimSuffix(s, fence))
	}
	return s
}

func isTag(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isTagByte(s[i]) {
			return false
		}
	}
	return true
}

func isTagByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' ||
		b == '_' || b == '-' || b == '+' || b == '.'
}

// greedySpan returns s from the first opening to the last closing bracket.
func greedySpan(s string, opening, closing byte) (string, bool) {
	start := strings.IndexByte(s, opening)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// balancedSpan returns the first span starting at opening whose brackets
// balance and which is valid JSON. String literals are skipped so braces
// inside quoted text do not count.
func balancedSpan(s string, opening byte) (string, bool) {
	for from := 0; from < len(s); {
		i := strings.IndexByte(s[from:], opening)
		if i < 0 {
			return "", false
		}
		start := from + i
		if end, ok := matchBrackets(s, start); ok {
			span := s[start : end+1]
			if json.Valid([]byte(span)) {
				return span, true
			}
		}
		from = start + 1
	}
	return "", false
}

// matchBrackets scans from s[start] and returns the index where the
// bracket depth first returns to zero.
func matchBrackets(s string, start int) (int, bool) {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
