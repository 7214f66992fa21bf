package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kepler-linecount-go/internal/logging"
	"kepler-linecount-go/internal/models"
)

// CameraSource is the read side of the camera manager
type CameraSource interface {
	ListCameras() []models.CameraResponse
	GetCamera(cameraID string) (models.CameraResponse, bool)
}

// MJPEGStreamer serves the overlay stream of one camera
type MJPEGStreamer interface {
	StreamMJPEGHTTP(w http.ResponseWriter, r *http.Request, cameraID string)
}

type CameraHandler struct {
	cameras CameraSource
	mjpeg   MJPEGStreamer
}

// NewCameraHandler creates the handler; mjpeg may be nil when the overlay is
// disabled.
func NewCameraHandler(cameras CameraSource, mjpeg MJPEGStreamer) *CameraHandler {
	return &CameraHandler{
		cameras: cameras,
		mjpeg:   mjpeg,
	}
}

type CameraListResponse struct {
	Cameras []models.CameraResponse `json:"cameras"`
	Count   int                     `json:"count"`
}

// ListCameras godoc
// @Summary List cameras
// @Description Ingestion state and frame counters of every configured camera
// @Tags cameras
// @Produce json
// @Success 200 {object} CameraListResponse
// @Router /api/v1/cameras [get]
func (h *CameraHandler) ListCameras(c *gin.Context) {
	cameras := h.cameras.ListCameras()
	for i := range cameras {
		h.decorate(&cameras[i])
	}
	c.JSON(http.StatusOK, CameraListResponse{Cameras: cameras, Count: len(cameras)})
}

// GetCamera godoc
// @Summary Get camera
// @Description Ingestion state and frame counters of one camera
// @Tags cameras
// @Produce json
// @Param id path string true "Camera ID"
// @Success 200 {object} models.CameraResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/cameras/{id} [get]
func (h *CameraHandler) GetCamera(c *gin.Context) {
	cam, ok := h.cameras.GetCamera(c.Param("id"))
	if !ok {
		abortWithError(c, http.StatusNotFound, "camera not found")
		return
	}
	h.decorate(&cam)
	c.JSON(http.StatusOK, cam)
}

// StreamMJPEG godoc
// @Summary Overlay stream
// @Description MJPEG stream of the processed frames with boxes, track ids, the counting line and the counters drawn on
// @Tags cameras
// @Produce multipart/x-mixed-replace
// @Param id path string true "Camera ID"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/cameras/{id}/mjpeg [get]
func (h *CameraHandler) StreamMJPEG(c *gin.Context) {
	cameraID := c.Param("id")
	if h.mjpeg == nil {
		abortWithError(c, http.StatusServiceUnavailable, "overlay disabled")
		return
	}
	if _, ok := h.cameras.GetCamera(cameraID); !ok {
		abortWithError(c, http.StatusNotFound, "camera not found")
		return
	}

	logging.Info(c).Msg("MJPEG viewer connected")
	h.mjpeg.StreamMJPEGHTTP(c.Writer, c.Request, cameraID)
	logging.Info(c).Msg("MJPEG viewer disconnected")
}

func (h *CameraHandler) decorate(cam *models.CameraResponse) {
	if h.mjpeg != nil {
		cam.MJPEGUrl = "/api/v1/cameras/" + cam.CameraID + "/mjpeg"
	}
}
