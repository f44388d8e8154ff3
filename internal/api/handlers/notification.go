package handlers

import (
	"net/http"
	"strconv"

	"exchange-service/internal/models"
	"exchange-service/internal/repositories/postgres"
	"exchange-service/internal/services"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	notifications *postgres.NotificationRepository
	counts        *services.CountsService
}

func NewNotificationHandler(notifications *postgres.NotificationRepository, counts *services.CountsService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, counts: counts}
}

// List godoc
// @Summary List the caller's notifications
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {array} models.Notification
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	notifications, err := h.notifications.ListByUser(c.Request.Context(), c.GetString("user_id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to list notifications",
		})
		return
	}
	c.JSON(http.StatusOK, notifications)
}

// MarkRead godoc
// @Summary Mark one notification as read
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 204 "Marked read"
// @Router /notifications/{id}/read [put]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := c.GetString("user_id")
	if err := h.notifications.MarkRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to mark notification read",
		})
		return
	}

	h.counts.Push(c.Request.Context(), userID)
	c.Status(http.StatusNoContent)
}

// Counts godoc
// @Summary Per-user badge counts
// @Description Active trades, unread messages and unread notifications for the caller.
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} realtime.Counts
// @Router /counts [get]
func (h *NotificationHandler) Counts(c *gin.Context) {
	counts, err := h.counts.Get(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to compute counts",
		})
		return
	}
	c.JSON(http.StatusOK, counts)
}
