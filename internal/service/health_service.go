package service

import (
	"context"
	"time"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Provider  string            `json:"provider"`
	DryRun    bool              `json:"dry_run"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// Pinger is satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// QueueProbe reports whether the message broker is reachable
type QueueProbe func(ctx context.Context) error

// HealthChecker handles health check operations
type HealthChecker struct {
	db       Pinger
	queue    QueueProbe
	provider string
	dryRun   bool
	version  string
}

// NewHealthService creates a new HealthChecker instance
func NewHealthService(db Pinger, queue QueueProbe, provider string, dryRun bool, version string) *HealthChecker {
	return &HealthChecker{
		db:       db,
		queue:    queue,
		provider: provider,
		dryRun:   dryRun,
		version:  version,
	}
}

func (h *HealthChecker) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

func (h *HealthChecker) checkQueue(ctx context.Context) string {
	if h.queue == nil {
		return StatusDisconnected
	}
	if err := h.queue(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// determineOverallStatus calculates the overall health status based on service statuses
func (h *HealthChecker) determineOverallStatus(services map[string]string) string {
	// Without the database nothing can be dispatched or reconciled
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}

	// Without the queue, started campaigns wait for the worker sweep
	if services["queue"] == StatusDisconnected {
		return StatusDegraded
	}

	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth(ctx context.Context) (*HealthStatus, error) {
	services := map[string]string{
		"database": h.checkDatabase(ctx),
		"queue":    h.checkQueue(ctx),
	}

	return &HealthStatus{
		Status:    h.determineOverallStatus(services),
		Services:  services,
		Provider:  h.provider,
		DryRun:    h.dryRun,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}, nil
}
