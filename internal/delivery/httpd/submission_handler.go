package httpd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gradehub/submission-service/internal/models"
	"github.com/gradehub/submission-service/internal/service/processing"
)

// CreateSubmission принимает документ и ставит его в очередь на обработку.
// Ответ приходит сразу, до извлечения текста и подсчёта сходства.
func (h *Handler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is required")
		return
	}
	defer file.Close()

	assignmentID := strings.TrimSpace(r.FormValue("assignment_id"))
	studentID := strings.TrimSpace(r.FormValue("student_id"))
	if assignmentID == "" || studentID == "" {
		writeError(w, http.StatusBadRequest, "assignment_id and student_id are required")
		return
	}

	document, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read uploaded file")
		writeError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	if len(document) == 0 {
		writeError(w, http.StatusBadRequest, "Uploaded file is empty")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	submission := &models.Submission{
		ID:               uuid.New().String(),
		AssignmentID:     assignmentID,
		StudentID:        studentID,
		ProcessingStatus: models.StatusPending.String(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	submission.DocumentKey = fmt.Sprintf("%s/%s%s", assignmentID, submission.ID, filepath.Ext(fileHeader.Filename))

	if err := h.documentStore.Put(ctx, submission.DocumentKey, document); err != nil {
		h.logger.Error().Err(err).Str("key", submission.DocumentKey).Msg("Failed to store document")
		writeError(w, http.StatusInternalServerError, "Failed to store document")
		return
	}

	if err := h.submissionRepo.Create(ctx, submission); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create submission record")
		writeError(w, http.StatusInternalServerError, "Failed to save submission")
		return
	}

	if err := h.processingService.EnqueueProcessing(ctx, submission); err != nil {
		// Запись уже есть; повторный запуск возможен через /process.
		h.logger.Error().Err(err).
			Str("submission_id", submission.ID).
			Msg("Failed to queue submission for processing")
		writeError(w, http.StatusInternalServerError, "Submission stored but could not be queued for processing")
		return
	}

	writeJSON(w, http.StatusAccepted, models.SubmissionCreatedResponse{
		ID:               submission.ID,
		ProcessingStatus: submission.ProcessingStatus,
		StatusURL:        fmt.Sprintf("/api/v1/submissions/%s", submission.ID),
	})
}

// TriggerProcessing queues another processing attempt for an existing
// submission. A completed submission is rescored against the current
// corpus; a failed one gets a clean retry.
func (h *Handler) TriggerProcessing(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")
	if submissionID == "" {
		writeError(w, http.StatusBadRequest, "Submission ID is required")
		return
	}

	ctx := r.Context()
	submission, err := h.processingService.GetSubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, processing.ErrSubmissionNotFound) {
			writeError(w, http.StatusNotFound, "Submission not found")
			return
		}
		h.logger.Error().Err(err).Str("submission_id", submissionID).Msg("Failed to load submission")
		writeError(w, http.StatusInternalServerError, "Failed to load submission")
		return
	}

	if err := h.processingService.EnqueueProcessing(ctx, submission); err != nil {
		h.logger.Error().Err(err).
			Str("submission_id", submissionID).
			Msg("Failed to queue submission for processing")
		writeError(w, http.StatusInternalServerError, "Failed to queue submission for processing")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":                submission.ID,
		"processing_status": submission.ProcessingStatus,
		"message":           "Processing queued",
	})
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")
	if submissionID == "" {
		writeError(w, http.StatusBadRequest, "Submission ID is required")
		return
	}

	submission, err := h.processingService.GetSubmission(r.Context(), submissionID)
	if err != nil {
		if errors.Is(err, processing.ErrSubmissionNotFound) {
			writeError(w, http.StatusNotFound, "Submission not found")
			return
		}
		h.logger.Error().Err(err).Str("submission_id", submissionID).Msg("Failed to get submission")
		writeError(w, http.StatusInternalServerError, "Failed to get submission")
		return
	}

	writeJSON(w, http.StatusOK, toSubmissionResponse(submission))
}

func (h *Handler) ListAssignmentSubmissions(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignment_id")
	if assignmentID == "" {
		writeError(w, http.StatusBadRequest, "Assignment ID is required")
		return
	}

	page := getIntQueryParam(r, "page", 1)
	limit := getIntQueryParam(r, "limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	submissions, total, err := h.submissionRepo.ListByAssignment(r.Context(), assignmentID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("assignment_id", assignmentID).Msg("Failed to list submissions")
		writeError(w, http.StatusInternalServerError, "Failed to list submissions")
		return
	}

	responses := make([]models.SubmissionResponse, len(submissions))
	for i := range submissions {
		responses[i] = toSubmissionResponse(&submissions[i])
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assignment_id": assignmentID,
		"submissions":   responses,
		"total":         total,
		"page":          page,
		"limit":         limit,
	})
}

func toSubmissionResponse(submission *models.Submission) models.SubmissionResponse {
	response := models.SubmissionResponse{
		ID:               submission.ID,
		AssignmentID:     submission.AssignmentID,
		StudentID:        submission.StudentID,
		ProcessingStatus: submission.ProcessingStatus,
		SimilarityScore:  submission.SimilarityScore,
		ProcessingError:  submission.ProcessingError,
		SubmittedAt:      submission.CreatedAt,
		UpdatedAt:        submission.UpdatedAt,
	}

	if len(submission.SimilarityDetail) > 0 {
		var detail models.SimilarityDetail
		if err := json.Unmarshal(submission.SimilarityDetail, &detail); err == nil {
			response.SimilarityDetail = &detail
		}
	}

	return response
}
