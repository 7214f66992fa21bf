package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"kepler-linecount-go/internal/models"
)

// CameraStates counts cameras per ingestion state
type CameraStates interface {
	GetStats() map[models.CameraState]int
}

// HealthCheck probes one dependency; nil means healthy
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	WorkerID string
	Version  string

	cameras CameraStates
	checks  map[string]HealthCheck
	started time.Time
	timeout time.Duration
}

func NewHealthHandler(workerID, version string, cameras CameraStates, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{
		WorkerID: workerID,
		Version:  version,
		cameras:  cameras,
		checks:   checks,
		started:  time.Now(),
		timeout:  2 * time.Second,
	}
}

type HealthResponse struct {
	Status     string            `json:"status" example:"healthy"`
	WorkerID   string            `json:"worker_id" example:"linecount-1"`
	Uptime     string            `json:"uptime" example:"1h2m3s"`
	Cameras    map[string]int    `json:"cameras"`
	Components map[string]string `json:"components"`
}

type WorkerInfoResponse struct {
	WorkerID     string   `json:"worker_id" example:"linecount-1"`
	Status       string   `json:"status" example:"running"`
	Version      string   `json:"version" example:"1.0.0"`
	Capabilities []string `json:"capabilities"`
}

// HealthCheck godoc
// @Summary Health check
// @Description Worker status, camera states and the state of optional components (detector, NATS, store). Any failing component makes the worker "degraded".
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := "healthy"
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	cameras := map[string]int{}
	if h.cameras != nil {
		for state, n := range h.cameras.GetStats() {
			cameras[state.String()] = n
		}
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:     status,
		WorkerID:   h.WorkerID,
		Uptime:     time.Since(h.started).Truncate(time.Second).String(),
		Cameras:    cameras,
		Components: components,
	})
}

// WorkerInfo godoc
// @Summary Worker information
// @Description Basic worker information and capabilities
// @Tags health
// @Produce json
// @Success 200 {object} WorkerInfoResponse
// @Router / [get]
func (h *HealthHandler) WorkerInfo(c *gin.Context) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	c.JSON(http.StatusOK, WorkerInfoResponse{
		WorkerID:     h.WorkerID,
		Status:       "running",
		Version:      h.Version,
		Capabilities: append([]string{"rtsp_ingestion", "batch_detection", "line_counting"}, names...),
	})
}
