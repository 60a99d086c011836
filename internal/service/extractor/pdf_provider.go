package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFProvider reads the embedded text layer of a PDF. It is the cheap
// primary path: no network, but scanned documents yield empty pages,
// which shows up as low confidence.
type PDFProvider struct{}

func NewPDFProvider() *PDFProvider {
	return &PDFProvider{}
}

func (p *PDFProvider) Name() string {
	return "pdf-text-layer"
}

func (p *PDFProvider) ExtractText(ctx context.Context, document []byte) (res *Result, err error) {
	// Парсер падает с panic на битых xref-таблицах.
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("malformed document: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(bytes.NewReader(document), int64(len(document)))
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}

	totalPages := reader.NumPage()
	if totalPages == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	var pages []string
	pagesWithText := 0

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
			pagesWithText++
		}
	}

	return &Result{
		Text:       strings.Join(pages, "\n"),
		Confidence: float64(pagesWithText) / float64(totalPages),
	}, nil
}
