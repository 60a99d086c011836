package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Adapter is the single extraction entry point the pipeline sees. It
// consults the primary provider and, on failure or a low-confidence
// result, the secondary; the fallback policy lives here, callers only
// observe text or *ExtractionError.
type Adapter struct {
	primary       Provider
	secondary     Provider
	minConfidence float64
	maxAttempts   int
	retryDelay    time.Duration
	logger        zerolog.Logger
}

type AdapterConfig struct {
	MinConfidence float64
	MaxAttempts   int
	RetryDelay    time.Duration
}

func NewAdapter(primary, secondary Provider, cfg AdapterConfig, logger zerolog.Logger) *Adapter {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Adapter{
		primary:       primary,
		secondary:     secondary,
		minConfidence: cfg.MinConfidence,
		maxAttempts:   cfg.MaxAttempts,
		retryDelay:    cfg.RetryDelay,
		logger:        logger,
	}
}

// Extract returns the document's plain text. Provider attempts are
// bounded; once both paths are exhausted the last cause is wrapped in
// *ExtractionError. A low-confidence primary result is kept as a
// fallback answer in case the secondary fails outright.
func (a *Adapter) Extract(ctx context.Context, document []byte) (string, error) {
	primaryResult, primaryErr := a.attempt(ctx, a.primary, document)

	if primaryErr == nil && primaryResult.Confidence >= a.minConfidence {
		return primaryResult.Text, nil
	}

	if a.secondary == nil {
		if primaryErr != nil {
			return "", &ExtractionError{Provider: a.primary.Name(), Err: primaryErr}
		}
		// Нет второго провайдера — берём что есть.
		return primaryResult.Text, nil
	}

	if primaryErr != nil {
		a.logger.Warn().
			Err(primaryErr).
			Str("provider", a.primary.Name()).
			Msg("Primary extraction failed, trying secondary")
	} else {
		a.logger.Info().
			Float64("confidence", primaryResult.Confidence).
			Float64("min_confidence", a.minConfidence).
			Msg("Primary extraction below confidence threshold, trying secondary")
	}

	secondaryResult, secondaryErr := a.attempt(ctx, a.secondary, document)
	if secondaryErr == nil {
		return secondaryResult.Text, nil
	}

	if primaryErr == nil {
		a.logger.Warn().
			Err(secondaryErr).
			Str("provider", a.secondary.Name()).
			Msg("Secondary extraction failed, keeping low-confidence primary text")
		return primaryResult.Text, nil
	}

	return "", &ExtractionError{
		Provider: a.secondary.Name(),
		Err:      fmt.Errorf("all providers failed: primary: %v; secondary: %w", primaryErr, secondaryErr),
	}
}

func (a *Adapter) attempt(ctx context.Context, provider Provider, document []byte) (*Result, error) {
	var lastErr error

	for i := 0; i < a.maxAttempts; i++ {
		if i > 0 {
			a.logger.Warn().
				Int("attempt", i+1).
				Str("provider", provider.Name()).
				Msg("Retrying extraction")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.retryDelay * time.Duration(i)):
			}
		}

		result, err := provider.ExtractText(ctx, document)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		if strings.TrimSpace(result.Text) == "" && result.Confidence == 0 {
			lastErr = fmt.Errorf("provider returned no text")
			continue
		}

		return result, nil
	}

	return nil, fmt.Errorf("%d attempts exhausted: %w", a.maxAttempts, lastErr)
}
