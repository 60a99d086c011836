package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradehub/submission-service/internal/models"
	"github.com/gradehub/submission-service/internal/repository"
	"github.com/gradehub/submission-service/internal/service/similarity"
)

// TextExtractor is the extraction capability as the orchestrator sees
// it: text or failure, the provider fallback policy is not its concern.
type TextExtractor interface {
	Extract(ctx context.Context, document []byte) (string, error)
}

// ScoreFunc scores a target text against a corpus snapshot.
type ScoreFunc func(target string, corpus []models.PeerText) (float64, []models.Comparison, error)

// Publisher pushes messages to the processing trigger queue.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

var ErrSubmissionNotFound = errors.New("submission not found")

type Config struct {
	ExtractTimeout   time.Duration
	ScoreTimeout     time.Duration
	Exchange         string
	RoutingKey       string
	ResultRoutingKey string
}

// Service drives one submission at a time through
// pending → processing → {completed, failed}. Each call is an
// independent unit of work; failures are converted into a terminal
// failed state on the submission itself and never touch siblings.
type Service struct {
	submissions repository.SubmissionRepository
	documents   repository.DocumentStore
	extractor   TextExtractor
	score       ScoreFunc
	publisher   Publisher
	config      Config
	logger      zerolog.Logger
}

func NewService(
	submissions repository.SubmissionRepository,
	documents repository.DocumentStore,
	extractor TextExtractor,
	publisher Publisher,
	config Config,
	logger zerolog.Logger,
) *Service {
	return &Service{
		submissions: submissions,
		documents:   documents,
		extractor:   extractor,
		score:       similarity.Score,
		publisher:   publisher,
		config:      config,
		logger:      logger,
	}
}

// Process runs one processing attempt for the submission. Any failure
// past the initial status write ends in a best-effort failed write; if
// even that write fails the submission stays visibly in processing and
// the reconciler (when enabled) picks it up later.
func (s *Service) Process(ctx context.Context, submissionID string) (err error) {
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing panicked: %v", r)
			s.markFailed(ctx, submissionID, err)
		}
	}()

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to load submission: %w", err)
	}
	if submission == nil {
		return fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
	}

	// Статус пишем сразу, до медленной работы.
	if err := s.submissions.MarkProcessing(ctx, submissionID); err != nil {
		return err
	}

	text, err := s.extractText(ctx, submission)
	if err != nil {
		s.markFailed(ctx, submissionID, err)
		return err
	}

	if err := s.submissions.SetExtractedText(ctx, submissionID, text); err != nil {
		s.markFailed(ctx, submissionID, err)
		return err
	}

	peers, err := s.submissions.ListExtractedPeers(ctx, submission.AssignmentID, submissionID)
	if err != nil {
		err = fmt.Errorf("failed to load comparison corpus: %w", err)
		s.markFailed(ctx, submissionID, err)
		return err
	}

	overall, comparisons, err := s.scoreWithTimeout(ctx, text, peers)
	if err != nil {
		s.markFailed(ctx, submissionID, err)
		return err
	}

	detail := models.SimilarityDetail{
		OverallScore: overall,
		Comparisons:  comparisons,
	}
	if detail.Comparisons == nil {
		detail.Comparisons = []models.Comparison{}
	}

	detailJSON, err := json.Marshal(detail)
	if err != nil {
		err = fmt.Errorf("failed to marshal similarity detail: %w", err)
		s.markFailed(ctx, submissionID, err)
		return err
	}

	if err := s.submissions.MarkCompleted(ctx, submissionID, overall, detailJSON); err != nil {
		// Лучшее, что можно сделать — залогировать; ретраев нет.
		s.logger.Error().
			Err(err).
			Str("submission_id", submissionID).
			Msg("Failed to persist completed result")
		return err
	}

	s.notifyCompleted(ctx, models.ProcessingCompletedEvent{
		SubmissionID:    submissionID,
		Status:          models.StatusCompleted.String(),
		SimilarityScore: overall,
		ComparedCount:   len(comparisons),
		ProcessingTime:  int(time.Since(startTime).Milliseconds()),
		CompletedAt:     time.Now().UTC(),
	})

	s.logger.Info().
		Str("submission_id", submissionID).
		Str("assignment_id", submission.AssignmentID).
		Float64("similarity_score", overall).
		Int("compared_count", len(comparisons)).
		Dur("processing_time", time.Since(startTime)).
		Msg("Submission processing completed")

	return nil
}

// notifyCompleted is best-effort: the result is already persisted, a
// lost notification costs nothing but a downstream refresh.
func (s *Service) notifyCompleted(ctx context.Context, event models.ProcessingCompletedEvent) {
	if s.config.ResultRoutingKey == "" {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal completed event")
		return
	}

	if err := s.publisher.Publish(ctx, s.config.Exchange, s.config.ResultRoutingKey, body); err != nil {
		s.logger.Warn().
			Err(err).
			Str("submission_id", event.SubmissionID).
			Msg("Failed to publish completed event")
	}
}

func (s *Service) notifyFailed(ctx context.Context, submissionID string, cause error) {
	if s.config.ResultRoutingKey == "" {
		return
	}

	body, err := json.Marshal(models.ProcessingFailedEvent{
		SubmissionID: submissionID,
		Error:        cause.Error(),
		FailedAt:     time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal failed event")
		return
	}

	if err := s.publisher.Publish(ctx, s.config.Exchange, s.config.ResultRoutingKey, body); err != nil {
		s.logger.Warn().
			Err(err).
			Str("submission_id", submissionID).
			Msg("Failed to publish failed event")
	}
}

// EnqueueProcessing publishes a processing request for the submission.
// The caller gets an immediate return; outcomes are observable only by
// reading the submission's status afterwards.
func (s *Service) EnqueueProcessing(ctx context.Context, submission *models.Submission) error {
	event := models.SubmissionQueuedEvent{
		SubmissionID: submission.ID,
		AssignmentID: submission.AssignmentID,
		StudentID:    submission.StudentID,
		Timestamp:    time.Now().Unix(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal queued event: %w", err)
	}

	if err := s.publisher.Publish(ctx, s.config.Exchange, s.config.RoutingKey, body); err != nil {
		return fmt.Errorf("failed to publish processing request: %w", err)
	}

	s.logger.Info().
		Str("submission_id", submission.ID).
		Str("assignment_id", submission.AssignmentID).
		Msg("Submission queued for processing")

	return nil
}

func (s *Service) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	if submission == nil {
		return nil, ErrSubmissionNotFound
	}
	return submission, nil
}

func (s *Service) extractText(ctx context.Context, submission *models.Submission) (string, error) {
	document, err := s.documents.Get(ctx, submission.DocumentKey)
	if err != nil {
		return "", fmt.Errorf("failed to read raw document: %w", err)
	}

	extractCtx := ctx
	if s.config.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, s.config.ExtractTimeout)
		defer cancel()
	}

	text, err := s.extractor.Extract(extractCtx, document)
	if err != nil {
		return "", err
	}
	return text, nil
}

// scoreWithTimeout bounds the CPU-bound scoring stage. The computation
// itself runs to completion in its goroutine; a deadline only abandons
// the wait and fails the attempt with a ComputationError wrapping
// context.DeadlineExceeded.
func (s *Service) scoreWithTimeout(ctx context.Context, text string, peers []models.PeerText) (float64, []models.Comparison, error) {
	if s.config.ScoreTimeout <= 0 {
		return s.score(text, peers)
	}

	scoreCtx, cancel := context.WithTimeout(ctx, s.config.ScoreTimeout)
	defer cancel()

	type scoreResult struct {
		overall     float64
		comparisons []models.Comparison
		err         error
	}

	done := make(chan scoreResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- scoreResult{err: &similarity.ComputationError{Err: fmt.Errorf("scoring panicked: %v", r)}}
			}
		}()
		overall, comparisons, err := s.score(text, peers)
		done <- scoreResult{overall: overall, comparisons: comparisons, err: err}
	}()

	select {
	case result := <-done:
		return result.overall, result.comparisons, result.err
	case <-scoreCtx.Done():
		return 0, nil, &similarity.ComputationError{Err: scoreCtx.Err()}
	}
}

func (s *Service) markFailed(ctx context.Context, submissionID string, cause error) {
	if err := s.submissions.MarkFailed(ctx, submissionID, cause.Error()); err != nil {
		s.logger.Error().
			Err(err).
			Str("submission_id", submissionID).
			Str("cause", cause.Error()).
			Msg("Failed to persist failed status")
		return
	}

	s.notifyFailed(ctx, submissionID, cause)

	s.logger.Warn().
		Str("submission_id", submissionID).
		Err(cause).
		Msg("Submission processing failed")
}
