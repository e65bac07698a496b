// Package textract extracts per-page plain text from PDF bytes.
package textract

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// ErrNoText indicates the PDF contains no extractable text on any page.
var ErrNoText = errors.New("no extractable text")

// Extractor produces per-page plain text from raw PDF bytes. The result
// has one entry per physical page so page indexes line up with the
// source document; pages that yield no text are empty strings.
type Extractor interface {
	ExtractPages(data []byte) ([]string, error)
}

type pdfExtractor struct {
	logger *slog.Logger
}

// NewPDF creates an Extractor for PDF documents.
func NewPDF(logger *slog.Logger) Extractor {
	return &pdfExtractor{logger: logger.With("system", "textract")}
}

func (e *pdfExtractor) ExtractPages(data []byte) ([]string, error) {
	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	nonEmpty := 0

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("page text extraction failed", "page", i, "error", err)
			pages = append(pages, "")
			continue
		}

		if strings.TrimSpace(text) != "" {
			nonEmpty++
		}
		pages = append(pages, text)
	}

	if nonEmpty == 0 {
		return nil, ErrNoText
	}

	return pages, nil
}
