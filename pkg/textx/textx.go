// Package textx provides small text utilities used across the project.
package textx

import (
	"html"
	"regexp"
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// CleanText normalizes extracted document text: CRLF/CR become LF, control
// characters outside tab/newline are dropped, horizontal whitespace runs
// collapse to a single space, lines are trimmed and blank runs capped at one
// empty line. Cleaning already-clean text is a no-op.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	last := byte('\n') // suppresses leading whitespace
	for _, r := range s {
		switch {
		case r == '\n':
			pendingSpace = false
			b.WriteByte('\n')
			last = '\n'
		case r == '\t' || r == ' ':
			pendingSpace = true
		case r < 32 || r == 127:
			// drop remaining control characters
		default:
			if pendingSpace && last != '\n' {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			last = 'x'
		}
	}

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, ln := range lines {
		if ln == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, ln)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// CollapseWhitespace flattens all whitespace runs (including newlines) into
// single spaces. Useful for log previews and mail subject lines.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var (
	htmlBlockRe = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</\s*(script|style)\s*>`)
	htmlTagRe   = regexp.MustCompile(`(?s)<[^>]*>`)
)

// StripHTML removes markup from untrusted form input: script/style blocks go
// entirely, remaining tags are dropped and entities decoded. The result is
// plain text, trimmed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	s = htmlBlockRe.ReplaceAllString(s, " ")
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(SanitizeText(s))
}

// Truncate returns s cut to at most n runes, appending an ellipsis when the
// input was longer.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
