package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sentry-worker-go/internal/models"
	"sentry-worker-go/internal/services/liveview"
)

// StatusProvider reports the runtime state of every configured camera.
type StatusProvider interface {
	Snapshots() []models.CameraSnapshot
}

type CameraHandler struct {
	status StatusProvider
	live   *liveview.Publisher
}

func NewCameraHandler(status StatusProvider, live *liveview.Publisher) *CameraHandler {
	return &CameraHandler{status: status, live: live}
}

type CameraListResponse struct {
	Cameras []models.CameraSnapshot `json:"cameras"`
	Count   int                     `json:"count"`
}

func (h *CameraHandler) ListCameras(c *gin.Context) {
	snaps := h.status.Snapshots()
	c.JSON(http.StatusOK, CameraListResponse{Cameras: snaps, Count: len(snaps)})
}

func (h *CameraHandler) GetCameraStatus(c *gin.Context) {
	index, ok := h.cameraIndex(c)
	if !ok {
		return
	}
	for _, snap := range h.status.Snapshots() {
		if snap.Index == index {
			c.JSON(http.StatusOK, snap)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
}

// GetLatestFrame serves the most recent JPEG published for the camera. A
// camera that is configured but has no frame yet returns 404.
func (h *CameraHandler) GetLatestFrame(c *gin.Context) {
	index, ok := h.cameraIndex(c)
	if !ok {
		return
	}
	frame, ok := h.live.Latest(index)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame available"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", frame)
}

// StreamCamera serves a multipart MJPEG stream until the client disconnects.
func (h *CameraHandler) StreamCamera(c *gin.Context) {
	index, ok := h.cameraIndex(c)
	if !ok {
		return
	}
	if _, ok := h.live.Latest(index); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame available"})
		return
	}
	h.live.StreamMJPEG(c.Writer, c.Request, index)
}

func (h *CameraHandler) cameraIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("id"))
	if err != nil || index < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return 0, false
	}
	return index, true
}
