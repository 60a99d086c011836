package models

import (
	"encoding/json"
	"time"
)

type Submission struct {
	ID               string          `json:"id" db:"id"`
	AssignmentID     string          `json:"assignment_id" db:"assignment_id"`
	StudentID        string          `json:"student_id" db:"student_id"`
	DocumentKey      string          `json:"document_key,omitempty" db:"document_key"`
	ExtractedText    *string         `json:"-" db:"extracted_text"`
	ProcessingStatus string          `json:"processing_status" db:"processing_status"`
	SimilarityScore  *float64        `json:"similarity_score,omitempty" db:"similarity_score"`
	SimilarityDetail json.RawMessage `json:"similarity_detail,omitempty" db:"similarity_detail"`
	ProcessingError  *string         `json:"processing_error,omitempty" db:"processing_error"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

func (s ProcessingStatus) String() string {
	return string(s)
}

// SimilarityDetail is the structured record persisted alongside the
// overall score once processing completes.
type SimilarityDetail struct {
	OverallScore float64      `json:"overall_score"`
	Comparisons  []Comparison `json:"comparisons"`
}

type Comparison struct {
	SubmissionID    string  `json:"submission_id"`
	SimilarityScore float64 `json:"similarity_score"`
}

// PeerText is one already-extracted sibling submission used as a
// comparison base.
type PeerText struct {
	SubmissionID string
	Text         string
}
