package realtime

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Client is the server side of one live connection: it owns the websocket
// handle, pumps frames in both directions and forwards decoded events to the
// Dispatcher.
type Client struct {
	id         string
	userID     string
	conn       *websocket.Conn
	dispatcher *Dispatcher
	send       chan []byte
	quit       chan struct{}

	closed int32

	logger *slog.Logger
}

func NewClient(dispatcher *Dispatcher, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:         uuid.New().String(),
		userID:     userID,
		conn:       conn,
		dispatcher: dispatcher,
		send:       make(chan []byte, 256),
		quit:       make(chan struct{}),
		logger:     dispatcher.logger,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	return c.userID
}

// SendEvent queues an event for delivery. It never blocks: a full send
// buffer means the peer stopped draining, so the client is torn down.
func (c *Client) SendEvent(event *Event) error {
	if c.isClosed() {
		return ErrClientDisconnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.quit:
		return ErrClientDisconnected
	default:
		c.logger.Warn("Send buffer full, closing client", "connID", c.id, "userID", c.userID)
		c.close()
		return ErrClientDisconnected
	}
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.quit)
		c.conn.Close()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		c.dispatcher.Unregister(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "connID", c.id, "userID", c.userID, "error", err)
			} else {
				c.logger.Debug("WebSocket connection closed", "connID", c.id, "userID", c.userID, "error", err)
			}
			break
		}

		// cheap type peek before committing to a full decode
		if !gjson.ValidBytes(raw) || !EventType(gjson.GetBytes(raw, "type").String()).IsValid() {
			c.logger.Warn("Dropping malformed frame", "connID", c.id, "userID", c.userID)
			c.sendError("INVALID_EVENT", "malformed event")
			continue
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			c.logger.Warn("Failed to unmarshal event", "connID", c.id, "userID", c.userID, "error", err)
			c.sendError("INVALID_EVENT", "malformed event")
			continue
		}

		// never trust client-supplied identity or timestamps
		event.UserID = c.userID
		event.Timestamp = time.Now().Unix()
		if event.ID == "" {
			event.ID = uuid.New().String()
		}

		c.dispatcher.Dispatch(c, &event)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Write failed", "connID", c.id, "userID", c.userID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Ping failed", "connID", c.id, "userID", c.userID, "error", err)
				return
			}

		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) sendError(code, message string) {
	errEvent := NewErrorEvent(uuid.New().String(), c.userID, code, message)
	if err := c.SendEvent(errEvent); err != nil {
		c.logger.Debug("Failed to send error event", "connID", c.id, "error", err)
	}
}

// ServeWS upgrades the request and hands the connection to the dispatcher.
// The caller must have resolved the authenticated user id already; anonymous
// connections are rejected before any event processing begins.
func ServeWS(dispatcher *Dispatcher, upgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, userID string) {
	if userID == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		dispatcher.logger.Error("Failed to upgrade connection", "userID", userID, "error", err)
		return
	}

	client := NewClient(dispatcher, conn, userID)
	dispatcher.logger.Info("New connection established", "connID", client.id, "userID", userID)

	dispatcher.Register(client)

	go client.writePump()
	go client.readPump()
}
