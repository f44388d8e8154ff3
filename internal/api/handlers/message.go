package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"exchange-service/internal/models"
	"exchange-service/internal/services"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	messageService *services.MessageService
}

func NewMessageHandler(messageService *services.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

// History godoc
// @Summary Trade conversation history
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trade ID"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {array} models.TradeMessage
// @Failure 403 {object} models.ErrorResponse "Not a participant"
// @Router /trades/{id}/messages [get]
func (h *MessageHandler) History(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

	messages, err := h.messageService.History(c.Request.Context(), c.Param("id"), c.GetString("user_id"), limit, offset)
	if err != nil {
		h.writeError(c, err, "Failed to load history")
		return
	}
	c.JSON(http.StatusOK, messages)
}

// Send godoc
// @Summary Send a message into a trade conversation
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trade ID"
// @Param request body services.SendMessageRequest true "Message"
// @Success 201 {object} models.TradeMessage
// @Failure 403 {object} models.ErrorResponse "Not a participant"
// @Router /trades/{id}/messages [post]
func (h *MessageHandler) Send(c *gin.Context) {
	var req services.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "Invalid input data",
			Details: err.Error(),
		})
		return
	}

	message, err := h.messageService.Send(c.Request.Context(), c.Param("id"), c.GetString("user_id"), &req)
	if err != nil {
		h.writeError(c, err, "Failed to send message")
		return
	}
	c.JSON(http.StatusCreated, message)
}

// UploadReceipt godoc
// @Summary Upload a payment receipt image
// @Tags messages
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trade ID"
// @Param file formData file true "Receipt image"
// @Success 201 {object} map[string]string "url of stored receipt"
// @Failure 403 {object} models.ErrorResponse "Not a participant"
// @Router /trades/{id}/receipts [post]
func (h *MessageHandler) UploadReceipt(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "File is required",
		})
		return
	}

	url, err := h.messageService.UploadReceipt(c.Request.Context(), c.Param("id"), c.GetString("user_id"), file)
	if err != nil {
		h.writeError(c, err, "Failed to upload receipt")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

// MarkRead godoc
// @Summary Mark a trade conversation as read
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trade ID"
// @Success 204 "Marked read"
// @Failure 403 {object} models.ErrorResponse "Not a participant"
// @Router /trades/{id}/messages/read [put]
func (h *MessageHandler) MarkRead(c *gin.Context) {
	if err := h.messageService.MarkRead(c.Request.Context(), c.Param("id"), c.GetString("user_id")); err != nil {
		h.writeError(c, err, "Failed to mark read")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) writeError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, services.ErrNotParticipant) {
		c.JSON(http.StatusForbidden, models.ErrorResponse{
			Code:    http.StatusForbidden,
			Message: "Not a participant of this trade",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Code:    http.StatusInternalServerError,
		Message: fallback,
	})
}
