package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"kepler-linecount-go/internal/services/dispatch"
	"kepler-linecount-go/internal/services/framebuffer"
)

// PipelineSource exposes the shared buffer and dispatcher statistics
type PipelineSource interface {
	BufferStats() framebuffer.Stats
	DispatcherStats() dispatch.Stats
}

// SystemHandler handles runtime and pipeline endpoints
type SystemHandler struct {
	WorkerID string

	pipeline PipelineSource
	started  time.Time
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(workerID string, pipeline PipelineSource) *SystemHandler {
	return &SystemHandler{
		WorkerID: workerID,
		pipeline: pipeline,
		started:  time.Now(),
	}
}

type PipelineResponse struct {
	Buffer     framebuffer.Stats `json:"buffer"`
	Dispatcher dispatch.Stats    `json:"dispatcher"`
	Timestamp  int64             `json:"timestamp"`
}

type SystemStats struct {
	WorkerID      string `json:"worker_id"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	MemoryMB      uint64 `json:"memory_mb"`
	SysMemoryMB   uint64 `json:"sys_memory_mb"`
	NumGC         uint32 `json:"num_gc"`
	CPUCores      int    `json:"cpu_cores"`
	Goroutines    int    `json:"goroutines"`
	GoVersion     string `json:"go_version"`
}

type SystemResponse struct {
	Success   bool        `json:"success"`
	Stats     SystemStats `json:"stats"`
	Timestamp int64       `json:"timestamp"`
}

// GetPipeline godoc
// @Summary Pipeline stats
// @Description Shared buffer occupancy, purges and dispatcher batch latency
// @Tags system
// @Produce json
// @Success 200 {object} PipelineResponse
// @Router /api/v1/pipeline [get]
func (h *SystemHandler) GetPipeline(c *gin.Context) {
	c.JSON(http.StatusOK, PipelineResponse{
		Buffer:     h.pipeline.BufferStats(),
		Dispatcher: h.pipeline.DispatcherStats(),
		Timestamp:  time.Now().Unix(),
	})
}

// GetStats godoc
// @Summary Get system stats
// @Description Go runtime statistics of the worker process
// @Tags system
// @Produce json
// @Success 200 {object} SystemResponse
// @Router /api/v1/system [get]
func (h *SystemHandler) GetStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, SystemResponse{
		Success: true,
		Stats: SystemStats{
			WorkerID:      h.WorkerID,
			UptimeSeconds: int64(time.Since(h.started).Seconds()),
			MemoryMB:      m.Alloc / 1024 / 1024,
			SysMemoryMB:   m.Sys / 1024 / 1024,
			NumGC:         m.NumGC,
			CPUCores:      runtime.NumCPU(),
			Goroutines:    runtime.NumGoroutine(),
			GoVersion:     runtime.Version(),
		},
		Timestamp: time.Now().Unix(),
	})
}
