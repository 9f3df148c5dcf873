// Package extraction turns uploaded CV binaries into plain text. PDF goes
// through pdfcpu (first ten pages, no image rendering); DOCX is unzipped
// and the document XML read directly.
package extraction

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/pkg/textx"
)

// Format is a supported CV document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

const (
	// MinCVBytes rejects stub uploads; anything this small carries no CV.
	MinCVBytes = 100
	// maxPDFPages bounds extraction work and memory per document.
	maxPDFPages = 10
	// minTextLen is the cleaned-text floor below which a CV is unusable.
	minTextLen = 50
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Service validates, detects and extracts CV documents.
type Service struct {
	maxBytes int64
}

func New(maxBytes int64) *Service {
	return &Service{maxBytes: maxBytes}
}

// ValidateSize enforces the accepted size window.
func (s *Service) ValidateSize(size int64) error {
	if size <= MinCVBytes {
		return fmt.Errorf("%w: file too small (%d bytes)", domain.ErrCVValidation, size)
	}
	if size > s.maxBytes {
		return fmt.Errorf("%w: file too large (%d bytes, limit %d)", domain.ErrCVValidation, size, s.maxBytes)
	}
	return nil
}

// Detect identifies the document format by magic bytes, falling back to the
// filename extension and the transport's declared MIME type.
func (s *Service) Detect(data []byte, filename, declaredMime string) (Format, error) {
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return FormatPDF, nil
	}
	if bytes.HasPrefix(data, []byte("PK")) && zipHasWordDocument(data) {
		return FormatDOCX, nil
	}

	switch mt := mimetype.Detect(data); {
	case mt.Is("application/pdf"):
		return FormatPDF, nil
	case mt.Is(docxMIME):
		return FormatDOCX, nil
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		if declaredMime == "" || strings.Contains(declaredMime, "pdf") {
			return FormatPDF, nil
		}
	case ".docx":
		return FormatDOCX, nil
	case ".doc":
		return "", fmt.Errorf("%w: legacy .doc is not supported, please send PDF or DOCX", domain.ErrCVValidation)
	}
	return "", fmt.Errorf("%w: unsupported document type", domain.ErrCVValidation)
}

// Extract returns cleaned plain text for the detected format. Text shorter
// than the usable floor after cleaning fails validation.
func (s *Service) Extract(ctx domain.Context, data []byte, f Format) (string, error) {
	var raw string
	var err error
	switch f {
	case FormatPDF:
		raw, err = s.extractPDF(ctx, data)
	case FormatDOCX:
		raw, err = extractDOCX(data)
	default:
		return "", fmt.Errorf("%w: unsupported document type %q", domain.ErrCVValidation, f)
	}
	if err != nil {
		return "", err
	}
	clean := textx.CleanText(raw)
	if len(clean) < minTextLen {
		return "", fmt.Errorf("%w: extracted text too short (%d chars)", domain.ErrCVValidation, len(clean))
	}
	return clean, nil
}

// Ext returns the on-disk extension for a format.
func (f Format) Ext() string {
	if f == FormatDOCX {
		return "docx"
	}
	return "pdf"
}
