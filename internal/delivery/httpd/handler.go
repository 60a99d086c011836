package httpd

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/gradehub/submission-service/internal/repository"
	"github.com/gradehub/submission-service/internal/service/processing"
	"github.com/gradehub/submission-service/internal/worker"
)

type Handler struct {
	processingService *processing.Service
	submissionRepo    repository.SubmissionRepository
	documentStore     repository.DocumentStore
	queueRepo         repository.RabbitMQRepository
	submissionWorker  worker.SubmissionWorker
	maxUploadSize     int64
	logger            zerolog.Logger
}

func NewHandler(
	processingService *processing.Service,
	submissionRepo repository.SubmissionRepository,
	documentStore repository.DocumentStore,
	queueRepo repository.RabbitMQRepository,
	submissionWorker worker.SubmissionWorker,
	maxUploadSize int64,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		processingService: processingService,
		submissionRepo:    submissionRepo,
		documentStore:     documentStore,
		queueRepo:         queueRepo,
		submissionWorker:  submissionWorker,
		maxUploadSize:     maxUploadSize,
		logger:            logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	// Health check
	router.Get("/health", h.HealthCheck)
	router.Get("/ready", h.ReadyCheck)
	router.Get("/stats", h.GetStats)

	// Versioned API
	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/submissions", func(r chi.Router) {
			r.Post("/", h.CreateSubmission)
			r.Get("/{submission_id}", h.GetSubmission)
			r.Post("/{submission_id}/process", h.TriggerProcessing)
		})

		api.Route("/assignments", func(r chi.Router) {
			r.Get("/{assignment_id}/submissions", h.ListAssignmentSubmissions)
		})
	})
}

// Вспомогательные функции
func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
