package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextFromContentStream(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{
			name:   "simple show",
			stream: "BT /F1 12 Tf 72 720 Td (Hello World) Tj ET",
			want:   "Hello World",
		},
		{
			name:   "kerning array",
			stream: "BT [(Hel) 8 (lo) -120 (world)] TJ ET",
			want:   "Hello world",
		},
		{
			name:   "escaped parens and backslash",
			stream: `(Paren \(test\) and \\ done) Tj`,
			want:   `Paren (test) and \ done`,
		},
		{
			name:   "octal escapes",
			stream: `(\101\102\103) Tj`,
			want:   "ABC",
		},
		{
			name:   "nested parens",
			stream: "(a (nested) b) Tj",
			want:   "a (nested) b",
		},
		{
			name:   "hex string",
			stream: "<48656C6C6F> Tj",
			want:   "Hello",
		},
		{
			name:   "hex utf16",
			stream: "<FEFF00480069> Tj",
			want:   "Hi",
		},
		{
			name:   "line positioning",
			stream: "(Line1) Tj 0 -14 Td (Line2) Tj",
			want:   "Line1\nLine2",
		},
		{
			name:   "comment skipped",
			stream: "% (ignored)\n(kept) Tj",
			want:   "kept",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := textFromContentStream([]byte(tc.stream))
			assert.Contains(t, got, tc.want)
		})
	}
}

func TestPageNumberFromName(t *testing.T) {
	t.Parallel()

	n, ok := pageNumberFromName("in_Content_page_3.txt")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	n, ok = pageNumberFromName("extract_123_Content_page_12.txt")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = pageNumberFromName("readme.txt")
	assert.False(t, ok)
}
