package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"exchange-service/internal/models"
	"exchange-service/internal/repositories/postgres"
	"exchange-service/internal/services"

	"github.com/gin-gonic/gin"
)

type TradeHandler struct {
	tradeService *services.TradeService
}

func NewTradeHandler(tradeService *services.TradeService) *TradeHandler {
	return &TradeHandler{tradeService: tradeService}
}

// Create godoc
// @Summary Create a trade offer
// @Tags trades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateTradeRequest true "Trade offer"
// @Success 201 {object} models.Trade
// @Failure 400 {object} models.ErrorResponse "Bad request"
// @Router /trades [post]
func (h *TradeHandler) Create(c *gin.Context) {
	var req services.CreateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "Invalid input data",
			Details: err.Error(),
		})
		return
	}

	trade, err := h.tradeService.Create(c.Request.Context(), c.GetString("user_id"), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to create trade",
		})
		return
	}

	c.JSON(http.StatusCreated, trade)
}

// ListOpen godoc
// @Summary List open trade offers
// @Tags trades
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {array} models.Trade
// @Router /trades [get]
func (h *TradeHandler) ListOpen(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	trades, err := h.tradeService.ListOpen(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to list trades",
		})
		return
	}
	c.JSON(http.StatusOK, trades)
}

// ListMine godoc
// @Summary List the caller's trades
// @Tags trades
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Trade
// @Router /trades/mine [get]
func (h *TradeHandler) ListMine(c *gin.Context) {
	trades, err := h.tradeService.ListMine(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to list trades",
		})
		return
	}
	c.JSON(http.StatusOK, trades)
}

// Get godoc
// @Summary Fetch one trade
// @Tags trades
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trade ID"
// @Success 200 {object} models.Trade
// @Failure 404 {object} models.ErrorResponse "Trade not found"
// @Router /trades/{id} [get]
func (h *TradeHandler) Get(c *gin.Context) {
	trade, err := h.tradeService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, postgres.ErrTradeNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Code:    http.StatusNotFound,
				Message: "Trade not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to fetch trade",
		})
		return
	}
	c.JSON(http.StatusOK, trade)
}

// Join godoc
// @Summary Join an open trade as buyer
// @Tags trades
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trade ID"
// @Success 200 {object} models.Trade
// @Failure 409 {object} models.ErrorResponse "Trade cannot be joined"
// @Router /trades/{id}/join [post]
func (h *TradeHandler) Join(c *gin.Context) {
	trade, err := h.tradeService.Join(c.Request.Context(), c.Param("id"), c.GetString("user_id"))
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrTradeNotFound):
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Code:    http.StatusNotFound,
				Message: "Trade not found",
			})
		case errors.Is(err, services.ErrTradeNotJoinable):
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Code:    http.StatusConflict,
				Message: "Trade cannot be joined",
			})
		default:
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Code:    http.StatusInternalServerError,
				Message: "Failed to join trade",
			})
		}
		return
	}
	c.JSON(http.StatusOK, trade)
}

type updateStatusRequest struct {
	Status models.TradeStatus `json:"status" binding:"required"`
}

// UpdateStatus godoc
// @Summary Move a trade along its lifecycle
// @Tags trades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trade ID"
// @Param request body updateStatusRequest true "Target status"
// @Success 200 {object} models.Trade
// @Failure 403 {object} models.ErrorResponse "Not a participant"
// @Failure 409 {object} models.ErrorResponse "Invalid transition"
// @Router /trades/{id}/status [put]
func (h *TradeHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "Invalid input data",
			Details: err.Error(),
		})
		return
	}

	trade, err := h.tradeService.UpdateStatus(c.Request.Context(), c.Param("id"), c.GetString("user_id"), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrTradeNotFound):
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Code:    http.StatusNotFound,
				Message: "Trade not found",
			})
		case errors.Is(err, services.ErrNotParticipant):
			c.JSON(http.StatusForbidden, models.ErrorResponse{
				Code:    http.StatusForbidden,
				Message: "Not a participant of this trade",
			})
		case errors.Is(err, services.ErrInvalidTransition):
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Code:    http.StatusConflict,
				Message: "Invalid status transition",
				Details: err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Code:    http.StatusInternalServerError,
				Message: "Failed to update trade",
			})
		}
		return
	}
	c.JSON(http.StatusOK, trade)
}
