package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sentry-worker-go/internal/models"
)

// NotificationStore is the read side of the persisted notification history.
type NotificationStore interface {
	ReadNotifications(limit int) ([]models.NotificationRecord, error)
	ImagePath(filename string) (string, error)
}

type AlertsHandler struct {
	store NotificationStore
}

func NewAlertsHandler(store NotificationStore) *AlertsHandler {
	return &AlertsHandler{store: store}
}

type NotificationListResponse struct {
	Notifications []models.NotificationRecord `json:"notifications"`
	Count         int                         `json:"count"`
}

// ListNotifications returns the notification history in chronological order.
// The optional limit query parameter keeps only the newest entries; 0 or
// absent means all.
func (h *AlertsHandler) ListNotifications(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	records, err := h.store.ReadNotifications(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read notifications"})
		return
	}
	c.JSON(http.StatusOK, NotificationListResponse{Notifications: records, Count: len(records)})
}

// GetDetectionImage serves a saved detection snapshot by filename.
func (h *AlertsHandler) GetDetectionImage(c *gin.Context) {
	path, err := h.store.ImagePath(c.Param("filename"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return
	}
	c.File(path)
}
