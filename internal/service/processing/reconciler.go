package processing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradehub/submission-service/internal/repository"
)

// Reconciler requeues submissions left in the processing state past a
// configurable age. A record gets stuck there only when the terminal
// status write itself failed, so the sweep is the recovery path for an
// otherwise invisible condition.
type Reconciler struct {
	submissions repository.SubmissionRepository
	service     *Service
	interval    time.Duration
	staleAfter  time.Duration
	batchSize   int
	logger      zerolog.Logger
	stop        chan struct{}
	stopped     chan struct{}
}

func NewReconciler(
	submissions repository.SubmissionRepository,
	service *Service,
	interval, staleAfter time.Duration,
	batchSize int,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		submissions: submissions,
		service:     service,
		interval:    interval,
		staleAfter:  staleAfter,
		batchSize:   batchSize,
		logger:      logger,
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Start begins the periodic sweep. An interval of zero disables the
// reconciler entirely.
func (r *Reconciler) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info().Msg("Reconciler disabled")
		close(r.stopped)
		return
	}

	go r.run(ctx)

	r.logger.Info().
		Dur("interval", r.interval).
		Dur("stale_after", r.staleAfter).
		Msg("Reconciler started")
}

func (r *Reconciler) Stop() {
	close(r.stop)
	<-r.stopped
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.stopped)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	stale, err := r.submissions.ListStaleProcessing(ctx, r.staleAfter, r.batchSize)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list stale processing submissions")
		return
	}

	if len(stale) == 0 {
		return
	}

	r.logger.Warn().
		Int("count", len(stale)).
		Msg("Requeueing submissions stuck in processing")

	for i := range stale {
		submission := &stale[i]
		if err := r.service.EnqueueProcessing(ctx, submission); err != nil {
			r.logger.Error().
				Err(err).
				Str("submission_id", submission.ID).
				Msg("Failed to requeue stale submission")
		}
	}
}
