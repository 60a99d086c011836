package models

import "time"

type SubmissionResponse struct {
	ID               string            `json:"id"`
	AssignmentID     string            `json:"assignment_id"`
	StudentID        string            `json:"student_id"`
	ProcessingStatus string            `json:"processing_status"`
	SimilarityScore  *float64          `json:"similarity_score,omitempty"`
	SimilarityDetail *SimilarityDetail `json:"similarity_detail,omitempty"`
	ProcessingError  *string           `json:"processing_error,omitempty"`
	SubmittedAt      time.Time         `json:"submitted_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

type SubmissionCreatedResponse struct {
	ID               string `json:"id"`
	ProcessingStatus string `json:"processing_status"`
	StatusURL        string `json:"status_url"`
}

type HealthCheckResponse struct {
	Status        string    `json:"status"`
	Database      bool      `json:"database"`
	RabbitMQ      bool      `json:"rabbitmq"`
	ActiveWorkers int       `json:"active_workers"`
	QueueLength   int       `json:"queue_length"`
	Timestamp     time.Time `json:"timestamp"`
}
