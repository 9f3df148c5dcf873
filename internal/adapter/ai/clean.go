package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

var trailingCommas = regexp.MustCompile(`,(\s*[}\]])`)

// CleanJSONResponse strips markdown fences and surrounding prose from a
// model reply and returns the first balanced JSON object when one exists.
// The input is returned unchanged when no object can be recovered.
func CleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if json.Valid([]byte(s)) {
		return s
	}
	obj, ok := extractObject(s)
	if !ok {
		return s
	}
	if json.Valid([]byte(obj)) {
		return obj
	}
	fixed := trailingCommas.ReplaceAllString(obj, "$1")
	if json.Valid([]byte(fixed)) {
		return fixed
	}
	return obj
}

// extractObject finds the first top-level {...} in s, skipping braces inside
// string literals.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
