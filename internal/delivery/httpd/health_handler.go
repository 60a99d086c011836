package httpd

import (
	"net/http"
	"time"

	"github.com/gradehub/submission-service/internal/models"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbHealthy := h.submissionRepo.Ping(ctx) == nil
	queueHealthy := h.queueRepo.IsConnected()
	stats := h.submissionWorker.GetStats()

	response := models.HealthCheckResponse{
		Status:        "healthy",
		Database:      dbHealthy,
		RabbitMQ:      queueHealthy,
		ActiveWorkers: stats.ActiveWorkers,
		QueueLength:   stats.QueueLength,
		Timestamp:     time.Now().UTC(),
	}

	status := http.StatusOK
	if !dbHealthy || !queueHealthy {
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, response)
}

func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.submissionRepo.Ping(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Readiness check failed")
		writeError(w, http.StatusServiceUnavailable, "Database is not reachable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.submissionWorker.GetStats()

	writeSuccess(w, map[string]interface{}{
		"service":         "submission-service",
		"active_workers":  stats.ActiveWorkers,
		"queue_length":    stats.QueueLength,
		"total_processed": stats.TotalProcessed,
		"failed_jobs":     stats.FailedJobs,
		"timestamp":       time.Now().UTC(),
	})
}
