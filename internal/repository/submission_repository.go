package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradehub/submission-service/internal/models"
)

// SubmissionRepository is the store contract the pipeline consumes.
// Every mutation touches exactly one submission row; the row-level
// atomicity of a single UPDATE is what the orchestrator relies on.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID string, limit, offset int) ([]models.Submission, int, error)
	ListExtractedPeers(ctx context.Context, assignmentID, excludeID string) ([]models.PeerText, error)
	ListStaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]models.Submission, error)
	MarkProcessing(ctx context.Context, id string) error
	SetExtractedText(ctx context.Context, id, text string) error
	MarkCompleted(ctx context.Context, id string, score float64, detail json.RawMessage) error
	MarkFailed(ctx context.Context, id, reason string) error
	Ping(ctx context.Context) error
}

type submissionRepository struct {
	*PostgresRepository
}

func NewSubmissionRepository(db *sql.DB, logger zerolog.Logger) SubmissionRepository {
	return &submissionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	query := `
		INSERT INTO submissions (
			id, assignment_id, student_id, document_key, processing_status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		submission.ID,
		submission.AssignmentID,
		submission.StudentID,
		submission.DocumentKey,
		submission.ProcessingStatus,
		submission.CreatedAt,
		submission.UpdatedAt,
	)
	if err != nil {
		return &PersistenceError{Op: "create submission", Err: err}
	}

	return nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	query := `
		SELECT
			id, assignment_id, student_id, document_key, extracted_text,
			processing_status, similarity_score, similarity_detail,
			processing_error, created_at, updated_at
		FROM submissions
		WHERE id = $1
	`

	submission, err := scanSubmission(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return submission, nil
}

func (r *submissionRepository) ListByAssignment(ctx context.Context, assignmentID string, limit, offset int) ([]models.Submission, int, error) {
	countQuery := `SELECT COUNT(*) FROM submissions WHERE assignment_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, assignmentID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT
			id, assignment_id, student_id, document_key, extracted_text,
			processing_status, similarity_score, similarity_detail,
			processing_error, created_at, updated_at
		FROM submissions
		WHERE assignment_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, assignmentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var submissions []models.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		submissions = append(submissions, *submission)
	}

	return submissions, total, rows.Err()
}

// ListExtractedPeers returns the comparison corpus for one submission:
// every other submission in the assignment whose text extraction has
// already landed, regardless of that submission's own terminal status.
// Ordered by creation time so the corpus order is stable across reruns.
func (r *submissionRepository) ListExtractedPeers(ctx context.Context, assignmentID, excludeID string) ([]models.PeerText, error) {
	query := `
		SELECT id, extracted_text
		FROM submissions
		WHERE assignment_id = $1
			AND id != $2
			AND extracted_text IS NOT NULL
			AND extracted_text != ''
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, assignmentID, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []models.PeerText
	for rows.Next() {
		var peer models.PeerText
		if err := rows.Scan(&peer.SubmissionID, &peer.Text); err != nil {
			return nil, err
		}
		peers = append(peers, peer)
	}

	return peers, rows.Err()
}

func (r *submissionRepository) ListStaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]models.Submission, error) {
	query := `
		SELECT
			id, assignment_id, student_id, document_key, extracted_text,
			processing_status, similarity_score, similarity_detail,
			processing_error, created_at, updated_at
		FROM submissions
		WHERE processing_status = $1
			AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	cutoff := time.Now().Add(-olderThan)
	rows, err := r.db.QueryContext(ctx, query, models.StatusProcessing.String(), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []models.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, *submission)
	}

	return submissions, rows.Err()
}

func (r *submissionRepository) MarkProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE submissions
		SET processing_status = $1,
			similarity_score = NULL,
			similarity_detail = NULL,
			processing_error = NULL,
			updated_at = $2
		WHERE id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, models.StatusProcessing.String(), time.Now(), id); err != nil {
		return &PersistenceError{Op: "mark processing", Err: err}
	}
	return nil
}

func (r *submissionRepository) SetExtractedText(ctx context.Context, id, text string) error {
	query := `
		UPDATE submissions
		SET extracted_text = $1, updated_at = $2
		WHERE id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, text, time.Now(), id); err != nil {
		return &PersistenceError{Op: "set extracted text", Err: err}
	}
	return nil
}

func (r *submissionRepository) MarkCompleted(ctx context.Context, id string, score float64, detail json.RawMessage) error {
	query := `
		UPDATE submissions
		SET processing_status = $1,
			similarity_score = $2,
			similarity_detail = $3,
			processing_error = NULL,
			updated_at = $4
		WHERE id = $5
	`

	if _, err := r.db.ExecContext(ctx, query, models.StatusCompleted.String(), score, detail, time.Now(), id); err != nil {
		return &PersistenceError{Op: "mark completed", Err: err}
	}
	return nil
}

func (r *submissionRepository) MarkFailed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE submissions
		SET processing_status = $1,
			similarity_score = NULL,
			similarity_detail = NULL,
			processing_error = $2,
			updated_at = $3
		WHERE id = $4
	`

	if _, err := r.db.ExecContext(ctx, query, models.StatusFailed.String(), reason, time.Now(), id); err != nil {
		return &PersistenceError{Op: "mark failed", Err: err}
	}
	return nil
}

func (r *submissionRepository) Ping(ctx context.Context) error {
	return r.PostgresRepository.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	submission := &models.Submission{}
	var extractedText, processingError sql.NullString
	var similarityScore sql.NullFloat64
	var similarityDetail []byte

	err := row.Scan(
		&submission.ID,
		&submission.AssignmentID,
		&submission.StudentID,
		&submission.DocumentKey,
		&extractedText,
		&submission.ProcessingStatus,
		&similarityScore,
		&similarityDetail,
		&processingError,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if extractedText.Valid {
		submission.ExtractedText = &extractedText.String
	}
	if similarityScore.Valid {
		submission.SimilarityScore = &similarityScore.Float64
	}
	if processingError.Valid {
		submission.ProcessingError = &processingError.String
	}
	if len(similarityDetail) > 0 {
		submission.SimilarityDetail = similarityDetail
	}

	return submission, nil
}
