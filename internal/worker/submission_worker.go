package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradehub/submission-service/internal/models"
	"github.com/gradehub/submission-service/internal/repository"
	"github.com/gradehub/submission-service/internal/worker/queue"
)

// Processor is the single-submission pipeline the worker dispatches to.
type Processor interface {
	Process(ctx context.Context, submissionID string) error
}

type SubmissionWorker interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() Stats
}

type Stats struct {
	ActiveWorkers  int `json:"active_workers"`
	TotalProcessed int `json:"total_processed"`
	FailedJobs     int `json:"failed_jobs"`
	QueueLength    int `json:"queue_length"`
}

type submissionWorker struct {
	workerPool    *WorkerPool
	queueConsumer queue.Consumer
	processor     Processor
	keyedMutex    *KeyedMutex
	logger        zerolog.Logger
	stats         Stats
	statsMutex    sync.RWMutex
	startTime     time.Time
}

func NewSubmissionWorker(
	workerPool *WorkerPool,
	queueConsumer queue.Consumer,
	processor Processor,
	logger zerolog.Logger,
) SubmissionWorker {
	return &submissionWorker{
		workerPool:    workerPool,
		queueConsumer: queueConsumer,
		processor:     processor,
		keyedMutex:    NewKeyedMutex(),
		logger:        logger,
		startTime:     time.Now(),
	}
}

func (w *submissionWorker) Start(ctx context.Context) error {
	w.logger.Info().Msg("Starting submission worker...")

	if err := w.workerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	msgs, err := w.queueConsumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go w.processMessages(ctx, msgs)

	w.logger.Info().Msg("Submission worker started successfully")
	return nil
}

func (w *submissionWorker) Stop() error {
	w.logger.Info().Msg("Stopping submission worker...")

	if err := w.workerPool.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	if err := w.queueConsumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close queue consumer")
	}

	w.logger.Info().
		Int("total_processed", w.stats.TotalProcessed).
		Int("failed_jobs", w.stats.FailedJobs).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Submission worker stopped")

	return nil
}

func (w *submissionWorker) processMessages(ctx context.Context, msgs <-chan queue.Message) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Message channel closed")
				return
			}

			w.workerPool.Submit(func() {
				if err := w.processMessage(ctx, msg); err != nil {
					w.logger.Error().Err(err).Msg("Failed to process message")

					w.statsMutex.Lock()
					w.stats.FailedJobs++
					w.statsMutex.Unlock()

					if isPermanentError(err) {
						if ackErr := msg.Ack(false); ackErr != nil {
							w.logger.Error().Err(ackErr).Msg("Failed to ack message")
						}
						return
					}

					if nackErr := msg.Nack(false, true); nackErr != nil {
						w.logger.Error().Err(nackErr).Msg("Failed to nack message")
					}
				} else {
					if err := msg.Ack(false); err != nil {
						w.logger.Error().Err(err).Msg("Failed to ack message")
					}

					w.statsMutex.Lock()
					w.stats.TotalProcessed++
					w.statsMutex.Unlock()
				}
			})
		}
	}
}

func (w *submissionWorker) processMessage(ctx context.Context, msg queue.Message) error {
	var event models.SubmissionQueuedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return permanent(fmt.Errorf("failed to unmarshal event: %w", err))
	}

	if strings.TrimSpace(event.SubmissionID) == "" {
		return permanent(errors.New("empty submission_id"))
	}

	w.logger.Info().
		Str("submission_id", event.SubmissionID).
		Str("assignment_id", event.AssignmentID).
		Msg("Processing submission")

	// Один и тот же submission никогда не обрабатывается двумя
	// задачами одновременно.
	w.keyedMutex.Lock(event.SubmissionID)
	defer w.keyedMutex.Unlock(event.SubmissionID)

	err := w.processor.Process(ctx, event.SubmissionID)
	if err != nil {
		// Store write failures are the one transient case worth a
		// redelivery; everything else is already recorded as a terminal
		// failed state on the submission itself.
		var persistErr *repository.PersistenceError
		if errors.As(err, &persistErr) {
			return err
		}
		return permanent(err)
	}

	return nil
}

func (w *submissionWorker) GetStats() Stats {
	w.statsMutex.Lock()
	defer w.statsMutex.Unlock()

	queueLength, err := w.queueConsumer.GetQueueLength()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to get queue length")
	} else {
		w.stats.QueueLength = queueLength
	}

	w.stats.ActiveWorkers = w.workerPool.GetActiveWorkers()

	return w.stats
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
