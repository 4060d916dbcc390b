package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencePattern matches the body of a fenced code block, with or without a
// language tag.
var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// ExtractJSON returns the first JSON object found in an LLM response, cleaned
// of line comments and trailing commas. Fenced blocks are searched first, then
// the raw text. Valid JSON is returned untouched. Returns "" when no object
// is present.
func ExtractJSON(content string) string {
	candidates := make([]string, 0, 2)
	for _, m := range fencePattern.FindAllStringSubmatch(content, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, content)

	for _, c := range candidates {
		if raw := balanced(c, '{', '}'); raw != "" && json.Valid([]byte(raw)) {
			return raw
		}
		// Comments go first so braces inside them do not affect nesting.
		if raw := balanced(stripComments(c), '{', '}'); raw != "" {
			return stripTrailingCommas(raw)
		}
	}
	return ""
}

// balanced returns the first open...close span with matching nesting, ignoring
// delimiters inside string literals. An unterminated span returns everything
// from the opening delimiter so the decoder can report the real error.
func balanced(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// stripTrailingCommas drops commas that directly precede } or ] outside string
// literals.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// stripComments removes // comments line by line. JSON strings cannot span
// lines, so per-line string tracking is exact.
func stripComments(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return strings.Join(lines, "\n")
}

// stripLineComment removes a // comment that starts outside a string literal.
//
//	"path": "src/app.js", // entry point  ->  "path": "src/app.js",
//	"url": "http://example.com"           ->  unchanged
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
