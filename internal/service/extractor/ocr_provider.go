package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// OCRProvider sends the document to an external OCR service. Used as
// the secondary path when the embedded text layer is missing or thin.
type OCRProvider struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

type ocrResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	WordCount  int     `json:"word_count"`
}

func NewOCRProvider(baseURL string, timeout time.Duration, logger zerolog.Logger) *OCRProvider {
	return &OCRProvider{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (p *OCRProvider) Name() string {
	return "ocr-service"
}

func (p *OCRProvider) ExtractText(ctx context.Context, document []byte) (*Result, error) {
	url := fmt.Sprintf("%s/api/v1/ocr", p.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ocr service returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode ocr response: %w", err)
	}

	p.logger.Debug().
		Int("word_count", parsed.WordCount).
		Float64("confidence", parsed.Confidence).
		Msg("OCR extraction completed")

	confidence := parsed.Confidence
	if confidence == 0 && parsed.Text != "" {
		confidence = 1
	}

	return &Result{
		Text:       parsed.Text,
		Confidence: confidence,
	}, nil
}
