package handler

import (
	"net/http"

	"wabroadcast/internal/service"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	healthService *service.HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(healthService *service.HealthChecker) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
	}
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthStatus, err := h.healthService.CheckHealth(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to perform health check")
		return
	}

	status := http.StatusOK
	switch healthStatus.Status {
	case service.StatusHealthy:
	case service.StatusDegraded, service.StatusUnhealthy:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	WriteJSON(w, status, healthStatus)
}
