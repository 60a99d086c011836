package extractor

import (
	"context"
	"fmt"
)

// Result is what a provider produced for one document. Confidence is
// the provider's own estimate in [0,1] of how complete the extraction
// is; providers that cannot estimate report 1.
type Result struct {
	Text       string
	Confidence float64
}

// Provider converts a raw document byte blob into plain text.
type Provider interface {
	Name() string
	ExtractText(ctx context.Context, document []byte) (*Result, error)
}

// ExtractionError is the single failure kind the adapter surfaces:
// unreadable document, provider unavailable or provider-reported error,
// with the underlying cause attached.
type ExtractionError struct {
	Provider string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("text extraction failed (%s): %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("text extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
