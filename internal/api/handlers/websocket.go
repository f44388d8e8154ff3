package handlers

import (
	"exchange-service/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	dispatcher *realtime.Dispatcher
	upgrader   websocket.Upgrader
}

func NewWSHandler(dispatcher *realtime.Dispatcher, upgrader websocket.Upgrader) *WSHandler {
	return &WSHandler{dispatcher: dispatcher, upgrader: upgrader}
}

// HandleWebSocket godoc
// @Summary WebSocket connection
// @Description Establish a WebSocket connection for realtime trade messaging. Authenticate with ?token=<jwt>.
// @Tags websocket
// @Param token query string true "JWT token"
// @Success 101 "Switching Protocols - WebSocket connection established"
// @Failure 401 {object} models.ErrorResponse "Missing or invalid token"
// @Router /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")
	realtime.ServeWS(h.dispatcher, h.upgrader, c.Writer, c.Request, userID)
}
