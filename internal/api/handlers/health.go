package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	WorkerID string
}

func NewHealthHandler(workerID string) *HealthHandler {
	return &HealthHandler{WorkerID: workerID}
}

type HealthResponse struct {
	Status   string `json:"status"`
	WorkerID string `json:"worker_id"`
}

type WorkerInfoResponse struct {
	WorkerID     string   `json:"worker_id"`
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		WorkerID: h.WorkerID,
	})
}

func (h *HealthHandler) WorkerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, WorkerInfoResponse{
		WorkerID: h.WorkerID,
		Status:   "running",
		Version:  "1.0.0",
		Capabilities: []string{
			"rtsp_processing",
			"person_detection",
			"identity_tracking",
			"alerting",
		},
	})
}
