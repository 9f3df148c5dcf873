package smtpmailer

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

// buildMessage renders a MailMessage into RFC 5322 wire form. Bodies and
// attachments are base64 encoded with 76-column lines (RFC 2045) so long
// cover letters and binary CVs survive every relay. Messages with
// attachments nest multipart/alternative inside multipart/mixed.
func buildMessage(from string, m domain.MailMessage) ([]byte, error) {
	if m.TextBody == "" && m.HTMLBody == "" {
		return nil, fmt.Errorf("empty mail body: %w", domain.ErrInvalidArgument)
	}
	if m.HTMLBody == "" {
		html, err := wrapHTML(m.TextBody)
		if err != nil {
			return nil, err
		}
		m.HTMLBody = html
	}

	var b strings.Builder
	writeHeader(&b, "From", from)
	writeHeader(&b, "To", strings.Join(m.To, ", "))
	if m.ReplyTo != "" {
		writeHeader(&b, "Reply-To", m.ReplyTo)
	}
	writeHeader(&b, "Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	writeHeader(&b, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&b, "MIME-Version", "1.0")

	altBoundary := newBoundary()
	if len(m.Attachments) == 0 {
		writeHeader(&b, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", altBoundary))
		b.WriteString("\r\n")
		writeAlternative(&b, altBoundary, m.TextBody, m.HTMLBody)
		return []byte(b.String()), nil
	}

	mixedBoundary := newBoundary()
	writeHeader(&b, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mixedBoundary))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", mixedBoundary)
	writeHeader(&b, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", altBoundary))
	b.WriteString("\r\n")
	writeAlternative(&b, altBoundary, m.TextBody, m.HTMLBody)

	for _, att := range m.Attachments {
		contentType := att.MimeType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		fmt.Fprintf(&b, "--%s\r\n", mixedBoundary)
		writeHeader(&b, "Content-Type", fmt.Sprintf("%s; name=%q", contentType, att.Filename))
		writeHeader(&b, "Content-Transfer-Encoding", "base64")
		writeHeader(&b, "Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		b.WriteString("\r\n")
		b.WriteString(encodeBase64Wrapped(att.Data))
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "--%s--\r\n", mixedBoundary)
	return []byte(b.String()), nil
}

func writeAlternative(b *strings.Builder, boundary, text, html string) {
	if text != "" {
		fmt.Fprintf(b, "--%s\r\n", boundary)
		writeHeader(b, "Content-Type", `text/plain; charset="UTF-8"`)
		writeHeader(b, "Content-Transfer-Encoding", "base64")
		b.WriteString("\r\n")
		b.WriteString(encodeBase64Wrapped([]byte(text)))
		b.WriteString("\r\n")
	}
	fmt.Fprintf(b, "--%s\r\n", boundary)
	writeHeader(b, "Content-Type", `text/html; charset="UTF-8"`)
	writeHeader(b, "Content-Transfer-Encoding", "base64")
	b.WriteString("\r\n")
	b.WriteString(encodeBase64Wrapped([]byte(html)))
	b.WriteString("\r\n")
	fmt.Fprintf(b, "--%s--\r\n", boundary)
}

func writeHeader(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

// newBoundary returns a random MIME boundary that cannot collide with
// base64 content.
func newBoundary() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "smartcv-boundary-fallback"
	}
	return fmt.Sprintf("smartcv_%x", buf)
}

// encodeBase64Wrapped encodes data with CRLF line breaks every 76 characters
// per RFC 2045.
func encodeBase64Wrapped(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	const lineLen = 76
	var out strings.Builder
	out.Grow(len(encoded) + len(encoded)/lineLen*2)
	for i := 0; i < len(encoded); i += lineLen {
		end := i + lineLen
		if end > len(encoded) {
			end = len(encoded)
		}
		out.WriteString(encoded[i:end])
		if end < len(encoded) {
			out.WriteString("\r\n")
		}
	}
	return out.String()
}
