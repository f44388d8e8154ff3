// Package wsclient implements the application-side connection manager for
// the exchange realtime endpoint. One Manager owns one underlying websocket
// for a logical session; every UI component shares it through the local
// listener registry instead of opening its own transport.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = fmt.Errorf("not connected")
	ErrNoTokenFunc  = fmt.Errorf("token provider is required")
)

// Event mirrors the wire shape of the server's realtime events.
type Event struct {
	ID        string         `json:"id,omitempty"`
	Type      string         `json:"type"`
	Room      string         `json:"room,omitempty"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
}

// Server event types the manager re-emits to listeners, plus local
// connection-lifecycle types it synthesizes itself.
const (
	EventConnected       = "client.connected"
	EventDisconnected    = "client.disconnected"
	EventReconnectFailed = "client.reconnect_failed"
)

// State is the manager's connection state machine.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Listener receives events re-emitted by the manager.
type Listener func(Event)

// Config configures a Manager.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host/api/v1/ws.
	URL string

	// TokenFn returns the auth token presented during the handshake.
	TokenFn func(userID string) (string, error)

	// Reconnect backoff: delay doubles per attempt starting at BaseDelay,
	// capped at MaxDelay, for at most MaxAttempts before the manager gives
	// up and surfaces a persistent failure.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

const (
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 30 * time.Second
	defaultMaxAttempts = 10
)

// Manager owns the single websocket for a logical session. All methods are
// safe for concurrent use by independently mounted components.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	userID     string
	conn       *websocket.Conn
	attempts   int
	connectErr error

	// gen invalidates superseded dial attempts, stale read loops and
	// pending reconnect timers.
	gen int

	// inflight is closed when the current connect/reconnect cycle settles,
	// letting concurrent Connect callers share one outcome.
	inflight chan struct{}

	// intent is the ordered set of rooms the application wants joined,
	// independent of current connection state.
	intent    []string
	intentSet map[string]struct{}

	writeMu sync.Mutex

	listenerMu sync.Mutex
	listeners  map[string]map[int]Listener
	nextID     int
}

func NewManager(cfg Config) *Manager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		intentSet: make(map[string]struct{}),
		listeners: make(map[string]map[int]Listener),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the authenticated connection for userID. It is
// idempotent: while a connect for the same user is in flight, concurrent
// callers wait for and share its outcome instead of opening a second
// transport. Connecting as a different user tears the old session down
// first.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	if m.cfg.TokenFn == nil {
		return ErrNoTokenFunc
	}

	m.mu.Lock()
	if m.userID == userID {
		switch m.state {
		case StateConnected:
			m.mu.Unlock()
			return nil
		case StateConnecting, StateReconnecting:
			wait := m.inflight
			m.mu.Unlock()
			if wait != nil {
				select {
				case <-wait:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			m.mu.Lock()
			err := m.connectErr
			m.mu.Unlock()
			return err
		}
	} else if m.conn != nil || m.state == StateConnecting || m.state == StateReconnecting {
		m.teardownLocked()
	}

	m.userID = userID
	m.attempts = 0
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	if m.inflight == nil {
		m.inflight = make(chan struct{})
	}
	m.mu.Unlock()

	return m.dial(ctx, gen)
}

// dial performs one handshake attempt for the given generation. Outcomes of
// superseded generations are ignored.
func (m *Manager) dial(ctx context.Context, gen int) error {
	m.mu.Lock()
	userID := m.userID
	m.mu.Unlock()

	token, err := m.cfg.TokenFn(userID)
	if err != nil {
		return m.dialFailed(gen, fmt.Errorf("token provider: %w", err))
	}

	endpoint := m.cfg.URL
	if token != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "token=" + url.QueryEscape(token)
	}

	conn, resp, err := m.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		// a newer connect or an explicit disconnect superseded this attempt
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		return m.dialFailed(gen, err)
	}

	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.settleLocked(nil)
	intent := append([]string(nil), m.intent...)
	m.mu.Unlock()

	go m.readLoop(conn, gen)

	m.logger.Info("Realtime connection established", "userID", userID)
	m.emit(Event{Type: EventConnected, UserID: userID})

	// replay subscription intent in original request order so reconnects
	// are transparent to already-subscribed components
	for _, room := range intent {
		if event, ok := joinEventFor(room); ok {
			if err := m.writeEvent(conn, event); err != nil {
				m.logger.Warn("Join replay failed", "room", room, "error", err)
				break
			}
		}
	}
	return nil
}

// dialFailed routes a handshake failure either back to the Connect caller
// (initial attempt) or into the next backoff step (reconnect cycle).
func (m *Manager) dialFailed(gen int, err error) error {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return nil
	}
	if m.state == StateReconnecting {
		m.mu.Unlock()
		m.logger.Warn("Reconnect attempt failed", "error", err)
		m.scheduleReconnect(gen)
		return err
	}
	m.state = StateDisconnected
	m.settleLocked(err)
	m.mu.Unlock()
	m.logger.Error("Connect failed", "error", err)
	return err
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.transportClosed(gen, err)
			return
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			m.logger.Warn("Dropping malformed server frame", "error", err)
			continue
		}
		m.emit(event)
	}
}

// transportClosed handles a close not caused by an explicit local
// disconnect: it enters the reconnect cycle.
func (m *Manager) transportClosed(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		// explicit disconnect or superseded session
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateReconnecting
	m.gen++
	next := m.gen
	if m.inflight == nil {
		m.inflight = make(chan struct{})
	}
	m.mu.Unlock()

	m.logger.Warn("Realtime connection lost", "error", cause)
	m.emit(Event{Type: EventDisconnected})

	m.scheduleReconnect(next)
}

// scheduleReconnect arms the next backoff timer, or gives up once the
// attempt budget is spent.
func (m *Manager) scheduleReconnect(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.attempts++
	if m.attempts > m.cfg.MaxAttempts {
		m.state = StateFailed
		m.settleLocked(fmt.Errorf("reconnect attempts exhausted after %d tries", m.cfg.MaxAttempts))
		m.mu.Unlock()
		m.logger.Error("Giving up on reconnect", "attempts", m.cfg.MaxAttempts)
		// no further automatic retry until an explicit Connect call
		m.emit(Event{Type: EventReconnectFailed})
		return
	}
	delay := m.backoffLocked()
	m.mu.Unlock()

	m.logger.Info("Scheduling reconnect", "attempt", m.attempts, "delay", delay)
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		stale := gen != m.gen
		m.mu.Unlock()
		if stale {
			return
		}
		m.dial(context.Background(), gen)
	})
}

// backoffLocked returns the delay for the current attempt: base doubling per
// attempt, capped.
func (m *Manager) backoffLocked() time.Duration {
	delay := m.cfg.BaseDelay << (m.attempts - 1)
	if delay > m.cfg.MaxDelay || delay <= 0 {
		delay = m.cfg.MaxDelay
	}
	return delay
}

// Disconnect closes the connection without triggering reconnect. The
// subscription intent set is kept so a later Connect replays it.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.settleLocked(ErrNotConnected)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
		m.emit(Event{Type: EventDisconnected})
	}
}

// Close tears the manager down entirely (logout): connection, subscription
// intent and listeners are all dropped.
func (m *Manager) Close() {
	m.Disconnect()

	m.mu.Lock()
	m.intent = nil
	m.intentSet = make(map[string]struct{})
	m.userID = ""
	m.mu.Unlock()

	m.listenerMu.Lock()
	m.listeners = make(map[string]map[int]Listener)
	m.listenerMu.Unlock()
}

// JoinRoom records the room in the subscription intent set immediately (so
// intent survives while disconnected) and, only if currently connected,
// also emits the join over the transport.
func (m *Manager) JoinRoom(roomKey string) error {
	m.mu.Lock()
	if _, ok := m.intentSet[roomKey]; !ok {
		m.intentSet[roomKey] = struct{}{}
		m.intent = append(m.intent, roomKey)
	}
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	event, ok := joinEventFor(roomKey)
	if !ok {
		return fmt.Errorf("unsupported room key: %q", roomKey)
	}
	return m.writeEvent(conn, event)
}

// LeaveRoom removes the room from the intent set and, if connected, emits
// the leave over the transport.
func (m *Manager) LeaveRoom(roomKey string) error {
	m.mu.Lock()
	if _, ok := m.intentSet[roomKey]; ok {
		delete(m.intentSet, roomKey)
		for i, key := range m.intent {
			if key == roomKey {
				m.intent = append(m.intent[:i], m.intent[i+1:]...)
				break
			}
		}
	}
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	event, ok := leaveEventFor(roomKey)
	if !ok {
		// personal rooms have no leave on the wire; the server cleans them
		// up on disconnect
		return nil
	}
	return m.writeEvent(conn, event)
}

// Rooms returns the current subscription intent, in join order.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.intent...)
}

// Send sends a message payload to a trade room. There is no outbound
// queueing: while disconnected the send is dropped with a logged warning and
// the caller decides whether to retry.
func (m *Manager) Send(roomKey string, payload map[string]any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		m.logger.Warn("Dropping send while disconnected", "room", roomKey)
		return ErrNotConnected
	}

	kind, id, ok := splitRoomKey(roomKey)
	if !ok || kind != "trade" {
		return fmt.Errorf("cannot send to room %q", roomKey)
	}

	data := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}
	data["trade_id"] = id
	return m.writeEvent(conn, Event{Type: "trade.message", Data: data})
}

// On registers a listener for an event type and returns its id for Off.
func (m *Manager) On(eventType string, fn Listener) int {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	if m.listeners[eventType] == nil {
		m.listeners[eventType] = make(map[int]Listener)
	}
	m.nextID++
	m.listeners[eventType][m.nextID] = fn
	return m.nextID
}

// Off removes specific listeners for an event type; with no ids it clears
// every listener registered for that type.
func (m *Manager) Off(eventType string, ids ...int) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	if len(ids) == 0 {
		delete(m.listeners, eventType)
		return
	}
	for _, id := range ids {
		delete(m.listeners[eventType], id)
	}
}

func (m *Manager) emit(event Event) {
	m.listenerMu.Lock()
	fns := make([]Listener, 0, len(m.listeners[event.Type]))
	for _, fn := range m.listeners[event.Type] {
		fns = append(fns, fn)
	}
	m.listenerMu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

func (m *Manager) writeEvent(conn *websocket.Conn, event Event) error {
	if event.Data == nil {
		event.Data = make(map[string]any)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(event)
}

// teardownLocked discards the current session when Connect is called with a
// different identity. Callers hold m.mu.
func (m *Manager) teardownLocked() {
	m.gen++
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
	m.settleLocked(ErrNotConnected)
}

// settleLocked resolves the shared in-flight outcome. Callers hold m.mu.
func (m *Manager) settleLocked(err error) {
	m.connectErr = err
	if m.inflight != nil {
		close(m.inflight)
		m.inflight = nil
	}
}

func splitRoomKey(roomKey string) (kind, id string, ok bool) {
	kind, id, ok = strings.Cut(roomKey, ":")
	if !ok || kind == "" || id == "" {
		return "", "", false
	}
	return kind, id, true
}

func joinEventFor(roomKey string) (Event, bool) {
	kind, id, ok := splitRoomKey(roomKey)
	if !ok {
		return Event{}, false
	}
	switch kind {
	case "trade":
		return Event{Type: "trade.join", Data: map[string]any{"trade_id": id}}, true
	case "user":
		return Event{Type: "notify.join", Data: map[string]any{}}, true
	default:
		return Event{}, false
	}
}

func leaveEventFor(roomKey string) (Event, bool) {
	kind, id, ok := splitRoomKey(roomKey)
	if !ok || kind != "trade" {
		return Event{}, false
	}
	return Event{Type: "trade.leave", Data: map[string]any{"trade_id": id}}, true
}
