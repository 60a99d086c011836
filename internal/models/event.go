package models

import (
	"time"
)

type SubmissionQueuedEvent struct {
	SubmissionID string `json:"submission_id"`
	AssignmentID string `json:"assignment_id"`
	StudentID    string `json:"student_id"`
	Timestamp    int64  `json:"timestamp"`
}

type ProcessingCompletedEvent struct {
	SubmissionID    string    `json:"submission_id"`
	Status          string    `json:"status"`
	SimilarityScore float64   `json:"similarity_score"`
	ComparedCount   int       `json:"compared_count"`
	ProcessingTime  int       `json:"processing_time_ms"`
	CompletedAt     time.Time `json:"completed_at"`
}

type ProcessingFailedEvent struct {
	SubmissionID string    `json:"submission_id"`
	Error        string    `json:"error"`
	FailedAt     time.Time `json:"failed_at"`
}
