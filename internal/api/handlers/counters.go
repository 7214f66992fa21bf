package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kepler-linecount-go/internal/logging"
	"kepler-linecount-go/internal/models"
)

// CounterSource is the read side of the counting engine
type CounterSource interface {
	Snapshot(cameraID string) (models.CountersResponse, bool)
	Snapshots() []models.CountersResponse
}

// CrossingHistory returns stored crossing events
type CrossingHistory interface {
	RecentCrossings(ctx context.Context, cameraID string, limit int) ([]models.CrossingEvent, error)
}

type CounterHandler struct {
	counters CounterSource
	history  CrossingHistory
}

// NewCounterHandler creates the handler; history is nil without a store
func NewCounterHandler(counters CounterSource, history CrossingHistory) *CounterHandler {
	return &CounterHandler{counters: counters, history: history}
}

type CounterListResponse struct {
	Counters []models.CountersResponse `json:"counters"`
	Count    int                       `json:"count"`
}

type CrossingListResponse struct {
	CameraID  string                 `json:"camera_id"`
	Crossings []models.CrossingEvent `json:"crossings"`
	Count     int                    `json:"count"`
}

// ListCounters godoc
// @Summary List counters
// @Description In, out, actual out and occupancy of every camera
// @Tags counters
// @Produce json
// @Success 200 {object} CounterListResponse
// @Router /api/v1/counters [get]
func (h *CounterHandler) ListCounters(c *gin.Context) {
	snaps := h.counters.Snapshots()
	c.JSON(http.StatusOK, CounterListResponse{Counters: snaps, Count: len(snaps)})
}

// GetCounters godoc
// @Summary Get counters
// @Description In, out, actual out and occupancy of one camera
// @Tags counters
// @Produce json
// @Param id path string true "Camera ID"
// @Success 200 {object} models.CountersResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/counters/{id} [get]
func (h *CounterHandler) GetCounters(c *gin.Context) {
	snap, ok := h.counters.Snapshot(c.Param("id"))
	if !ok {
		abortWithError(c, http.StatusNotFound, "camera not found")
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListCrossings godoc
// @Summary Recent crossings
// @Description Stored crossing events of one camera, newest first
// @Tags counters
// @Produce json
// @Param id path string true "Camera ID"
// @Param limit query int false "Maximum number of events" default(100)
// @Success 200 {object} CrossingListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/counters/{id}/crossings [get]
func (h *CounterHandler) ListCrossings(c *gin.Context) {
	if h.history == nil {
		abortWithError(c, http.StatusServiceUnavailable, "event store disabled")
		return
	}

	cameraID := c.Param("id")
	if _, ok := h.counters.Snapshot(cameraID); !ok {
		abortWithError(c, http.StatusNotFound, "camera not found")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			abortWithError(c, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := h.history.RecentCrossings(c.Request.Context(), cameraID, limit)
	if err != nil {
		logging.Error(c).Err(err).Msg("Failed to load crossings")
		abortWithError(c, http.StatusInternalServerError, "failed to load crossings")
		return
	}
	if events == nil {
		events = []models.CrossingEvent{}
	}
	c.JSON(http.StatusOK, CrossingListResponse{CameraID: cameraID, Crossings: events, Count: len(events)})
}
