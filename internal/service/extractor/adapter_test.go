package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakeProvider struct {
	name    string
	results []*Result
	errs    []error
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) ExtractText(ctx context.Context, document []byte) (*Result, error) {
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	return f.results[idx], f.errs[idx]
}

func newAdapter(primary, secondary Provider, minConfidence float64, maxAttempts int) *Adapter {
	return NewAdapter(primary, secondary, AdapterConfig{
		MinConfidence: minConfidence,
		MaxAttempts:   maxAttempts,
	}, zerolog.Nop())
}

func TestExtractPrimarySuccess(t *testing.T) {
	primary := &fakeProvider{
		name:    "primary",
		results: []*Result{{Text: "extracted text", Confidence: 0.9}},
		errs:    []error{nil},
	}
	secondary := &fakeProvider{
		name:    "secondary",
		results: []*Result{{Text: "ocr text", Confidence: 1}},
		errs:    []error{nil},
	}

	text, err := newAdapter(primary, secondary, 0.5, 2).Extract(context.Background(), []byte("doc"))
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if text != "extracted text" {
		t.Errorf("text = %q, want primary result", text)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.calls)
	}
}

func TestExtractFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeProvider{
		name:    "primary",
		results: []*Result{nil},
		errs:    []error{errors.New("broken xref")},
	}
	secondary := &fakeProvider{
		name:    "secondary",
		results: []*Result{{Text: "ocr text", Confidence: 0.95}},
		errs:    []error{nil},
	}

	text, err := newAdapter(primary, secondary, 0.5, 1).Extract(context.Background(), []byte("doc"))
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if text != "ocr text" {
		t.Errorf("text = %q, want secondary result", text)
	}
}

func TestExtractFallsBackOnLowConfidence(t *testing.T) {
	primary := &fakeProvider{
		name:    "primary",
		results: []*Result{{Text: "thin text layer", Confidence: 0.2}},
		errs:    []error{nil},
	}
	secondary := &fakeProvider{
		name:    "secondary",
		results: []*Result{{Text: "full ocr text", Confidence: 0.9}},
		errs:    []error{nil},
	}

	text, err := newAdapter(primary, secondary, 0.5, 1).Extract(context.Background(), []byte("doc"))
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if text != "full ocr text" {
		t.Errorf("text = %q, want secondary result", text)
	}
}

func TestExtractKeepsLowConfidenceTextWhenSecondaryFails(t *testing.T) {
	primary := &fakeProvider{
		name:    "primary",
		results: []*Result{{Text: "thin text layer", Confidence: 0.2}},
		errs:    []error{nil},
	}
	secondary := &fakeProvider{
		name:    "secondary",
		results: []*Result{nil},
		errs:    []error{errors.New("service down")},
	}

	text, err := newAdapter(primary, secondary, 0.5, 1).Extract(context.Background(), []byte("doc"))
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if text != "thin text layer" {
		t.Errorf("text = %q, want low-confidence primary text", text)
	}
}

func TestExtractAllProvidersFail(t *testing.T) {
	primary := &fakeProvider{
		name:    "primary",
		results: []*Result{nil},
		errs:    []error{errors.New("unreadable")},
	}
	secondary := &fakeProvider{
		name:    "secondary",
		results: []*Result{nil},
		errs:    []error{errors.New("service down")},
	}

	_, err := newAdapter(primary, secondary, 0.5, 2).Extract(context.Background(), []byte("doc"))
	if err == nil {
		t.Fatal("Extract succeeded, want error")
	}

	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("error type = %T, want *ExtractionError", err)
	}
}

func TestExtractAttemptsBounded(t *testing.T) {
	primary := &fakeProvider{
		name:    "primary",
		results: []*Result{nil},
		errs:    []error{errors.New("always failing")},
	}

	_, err := newAdapter(primary, nil, 0.5, 3).Extract(context.Background(), []byte("doc"))
	if err == nil {
		t.Fatal("Extract succeeded, want error")
	}
	if primary.calls != 3 {
		t.Errorf("primary called %d times, want exactly 3", primary.calls)
	}
}

func TestExtractNoSecondaryLowConfidence(t *testing.T) {
	primary := &fakeProvider{
		name:    "primary",
		results: []*Result{{Text: "partial", Confidence: 0.1}},
		errs:    []error{nil},
	}

	text, err := newAdapter(primary, nil, 0.5, 1).Extract(context.Background(), []byte("doc"))
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if text != "partial" {
		t.Errorf("text = %q, want primary text despite low confidence", text)
	}
}

func TestExtractCancelledContext(t *testing.T) {
	primary := &fakeProvider{
		name:    "primary",
		results: []*Result{nil},
		errs:    []error{context.Canceled},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAdapter(primary, nil, 0.5, 3).Extract(ctx, []byte("doc"))
	if err == nil {
		t.Fatal("Extract succeeded, want error")
	}
	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("error type = %T, want *ExtractionError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error does not wrap context.Canceled: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times after cancellation, want 1", primary.calls)
	}
}
