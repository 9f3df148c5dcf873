package extraction

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

// extractPDF writes the document to a scratch dir, extracts the decoded
// content streams for the first pages and recovers the text-show operator
// arguments from each stream.
func (s *Service) extractPDF(ctx domain.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp("", "cvpdf-*")
	if err != nil {
		return "", fmt.Errorf("op=extract.pdf: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	inFile := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(inFile, data, 0o600); err != nil {
		return "", fmt.Errorf("op=extract.pdf: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(inFile)
	if err != nil {
		return "", fmt.Errorf("%w: unreadable pdf: %v", domain.ErrCVValidation, err)
	}
	pages := pdfCtx.PageCount
	if pages == 0 {
		return "", fmt.Errorf("%w: pdf has no pages", domain.ErrCVValidation)
	}
	if pages > maxPDFPages {
		pages = maxPDFPages
	}

	outDir := filepath.Join(dir, "content")
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return "", fmt.Errorf("op=extract.pdf: %w", err)
	}
	sel := []string{fmt.Sprintf("1-%d", pages)}
	if err := api.ExtractContentFile(inFile, outDir, sel, model.NewDefaultConfiguration()); err != nil {
		return "", fmt.Errorf("op=extract.pdf: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("op=extract.pdf: %w", err)
	}
	type pageFile struct {
		n    int
		name string
	}
	files := make([]pageFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := pageNumberFromName(e.Name()); ok {
			files = append(files, pageFile{n: n, name: e.Name()})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].n < files[j].n })

	var b strings.Builder
	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(outDir, f.name))
		if err != nil {
			continue
		}
		b.WriteString(textFromContentStream(content))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// pageNumberFromName parses the trailing page number out of pdfcpu's
// "<base>_Content_page_<n>.txt" output names.
func pageNumberFromName(name string) (int, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndex(base, "page_")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(base[i+len("page_"):])
	if err != nil {
		return 0, false
	}
	return n, true
}

// textFromContentStream recovers the arguments of the text-show operators
// (Tj, TJ, ', ") from a decoded content stream. Line-positioning operators
// become newlines; TJ kerning gaps at or below -100 thousandths become
// spaces.
func textFromContentStream(b []byte) string {
	var out strings.Builder
	var pendingGap bool
	i := 0
	for i < len(b) {
		c := b[i]
		switch {
		case c == '(':
			if pendingGap {
				out.WriteByte(' ')
				pendingGap = false
			}
			s, next := readLiteralString(b, i)
			out.WriteString(s)
			i = next
		case c == '<' && i+1 < len(b) && b[i+1] != '<':
			if pendingGap {
				out.WriteByte(' ')
				pendingGap = false
			}
			s, next := readHexString(b, i)
			out.WriteString(s)
			i = next
		case c == '-' || c >= '0' && c <= '9':
			num, next := readNumber(b, i)
			pendingGap = num <= -100
			i = next
		case c == 'T' && i+1 < len(b) && (b[i+1] == 'd' || b[i+1] == 'D' || b[i+1] == '*'):
			out.WriteByte('\n')
			pendingGap = false
			i += 2
		case c == 'E' && i+1 < len(b) && b[i+1] == 'T':
			out.WriteByte('\n')
			pendingGap = false
			i += 2
		case c == '%':
			for i < len(b) && b[i] != '\n' {
				i++
			}
		default:
			i++
		}
	}
	return out.String()
}

// readLiteralString reads a PDF literal string starting at the '(' in b[i],
// honoring escapes and balanced nested parentheses.
func readLiteralString(b []byte, i int) (string, int) {
	var s strings.Builder
	depth := 0
	for ; i < len(b); i++ {
		c := b[i]
		switch c {
		case '\\':
			if i+1 >= len(b) {
				return s.String(), i + 1
			}
			i++
			switch e := b[i]; e {
			case 'n':
				s.WriteByte('\n')
			case 'r':
				s.WriteByte('\r')
			case 't':
				s.WriteByte('\t')
			case 'b', 'f':
				// no textual value
			case '(', ')', '\\':
				s.WriteByte(e)
			default:
				if e >= '0' && e <= '7' {
					code := int(e - '0')
					for d := 0; d < 2 && i+1 < len(b) && b[i+1] >= '0' && b[i+1] <= '7'; d++ {
						i++
						code = code*8 + int(b[i]-'0')
					}
					s.WriteByte(byte(code))
				}
			}
		case '(':
			if depth > 0 {
				s.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s.String(), i + 1
			}
			s.WriteByte(c)
		default:
			if depth > 0 {
				s.WriteByte(c)
			}
		}
	}
	return s.String(), i
}

// readHexString reads a <...> string starting at b[i]. UTF-16BE payloads
// (FE FF prefix) are decoded; everything else passes through byte-wise.
func readHexString(b []byte, i int) (string, int) {
	i++ // consume '<'
	var hexDigits []byte
	for ; i < len(b) && b[i] != '>'; i++ {
		c := b[i]
		if c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' {
			hexDigits = append(hexDigits, c)
		}
	}
	if i < len(b) {
		i++ // consume '>'
	}
	if len(hexDigits)%2 == 1 {
		hexDigits = append(hexDigits, '0')
	}
	raw := make([]byte, 0, len(hexDigits)/2)
	for j := 0; j+1 < len(hexDigits); j += 2 {
		raw = append(raw, hexNibble(hexDigits[j])<<4|hexNibble(hexDigits[j+1]))
	}
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		codes := make([]uint16, 0, (len(raw)-2)/2)
		for j := 2; j+1 < len(raw); j += 2 {
			codes = append(codes, uint16(raw[j])<<8|uint16(raw[j+1]))
		}
		return string(utf16.Decode(codes)), i
	}
	return string(raw), i
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func readNumber(b []byte, i int) (float64, int) {
	start := i
	if b[i] == '-' {
		i++
	}
	for i < len(b) && (b[i] >= '0' && b[i] <= '9' || b[i] == '.') {
		i++
	}
	n, err := strconv.ParseFloat(string(b[start:i]), 64)
	if err != nil {
		return 0, i
	}
	return n, i
}
