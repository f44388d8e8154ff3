package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClientDisconnected = fmt.Errorf("client disconnected")
	ErrRoomNotJoined      = fmt.Errorf("room not joined")
)

// TradeDirectory is the external trade participant lookup used by join
// authorization. Participants returns the user ids authorized for a trade
// conversation (buyer and seller).
type TradeDirectory interface {
	Participants(ctx context.Context, tradeID string) ([]string, error)
}

// PresenceStore records which users currently hold at least one live
// connection. Implementations may be backed by Redis; a nil store disables
// the bookkeeping.
type PresenceStore interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
}

// RoomBus relays room broadcasts between horizontally scaled instances.
// The in-process Registry and Multiplexer are process-local; without a bus
// a broadcast only reaches members connected to this instance.
type RoomBus interface {
	PublishRoomEvent(ctx context.Context, roomKey string, payload []byte) error
	SubscribeRoomEvents(ctx context.Context, handler func(payload []byte)) error
}

// busEnvelope wraps events relayed over the RoomBus. Origin lets an instance
// ignore its own publications.
type busEnvelope struct {
	Origin string `json:"origin"`
	Room   string `json:"room"`
	Event  *Event `json:"event"`
}

type clientEvent struct {
	sess  session
	event *Event
}

type broadcastReq struct {
	room    string
	event   *Event
	exclude string
	// relay indicates the broadcast should also be published to the RoomBus
	relay bool
}

const (
	// authorization lookups are the only blocking work on the run loop
	authTimeout = 5 * time.Second

	// outbound queue between domain handlers / the bus and the run loop
	broadcastQueueSize = 256
)

// Dispatcher validates inbound client events, enforces room authorization
// and owns the Registry and Multiplexer. All subscription state is mutated
// from the single Run loop, one inbound event at a time, which is what makes
// per-room per-sender delivery ordering hold without locks. Construct it at
// startup and pass it by reference to whatever needs to emit events.
type Dispatcher struct {
	registry *Registry
	rooms    *Multiplexer

	trades   TradeDirectory
	presence PresenceStore
	bus      RoomBus

	register   chan session
	unregister chan session
	inbound    chan *clientEvent
	broadcasts chan *broadcastReq

	// distinguishes this instance's bus publications from remote ones
	instanceID string

	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

// Option configures optional Dispatcher collaborators.
type Option func(*Dispatcher)

// WithPresenceStore wires the online/offline bookkeeping store.
func WithPresenceStore(store PresenceStore) Option {
	return func(d *Dispatcher) { d.presence = store }
}

// WithRoomBus wires the cross-instance relay.
func WithRoomBus(bus RoomBus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

func NewDispatcher(trades TradeDirectory, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		registry:   NewRegistry(),
		rooms:      NewMultiplexer(logger),
		trades:     trades,
		register:   make(chan session),
		unregister: make(chan session),
		inbound:    make(chan *clientEvent),
		broadcasts: make(chan *broadcastReq, broadcastQueueSize),
		instanceID: uuid.New().String(),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run processes registration, inbound events and broadcast requests until
// Stop is called. It is the only goroutine that touches the Registry and
// Multiplexer.
func (d *Dispatcher) Run() {
	if d.bus != nil {
		go d.consumeBus()
	}

	for {
		select {
		case sess := <-d.register:
			d.handleRegister(sess)

		case sess := <-d.unregister:
			d.handleDisconnect(sess)

		case ce := <-d.inbound:
			d.handleInbound(ce.sess, ce.event)

		case req := <-d.broadcasts:
			d.handleBroadcast(req)

		case <-d.ctx.Done():
			d.logger.Info("Dispatcher shutting down")
			return
		}
	}
}

// Stop terminates the run loop.
func (d *Dispatcher) Stop() {
	d.cancel()
}

// Register hands a freshly upgraded connection to the run loop.
func (d *Dispatcher) Register(sess session) {
	select {
	case d.register <- sess:
	case <-d.ctx.Done():
	}
}

// Unregister triggers the disconnect path for a connection.
func (d *Dispatcher) Unregister(sess session) {
	select {
	case d.unregister <- sess:
	case <-d.ctx.Done():
	}
}

// Dispatch hands an inbound client event to the run loop.
func (d *Dispatcher) Dispatch(sess session, event *Event) {
	select {
	case d.inbound <- &clientEvent{sess: sess, event: event}:
	case <-time.After(authTimeout):
		d.logger.Warn("Timeout queueing inbound event", "connID", sess.ID(), "type", event.Type)
	case <-d.ctx.Done():
	}
}

// Publish requests a broadcast on behalf of a domain event source (message
// persisted, trade status changed, notification created). It never blocks
// the caller: if the queue is full the event is dropped and logged.
func (d *Dispatcher) Publish(roomKey string, event *Event) {
	select {
	case d.broadcasts <- &broadcastReq{room: roomKey, event: event, relay: true}:
	default:
		d.logger.Warn("Broadcast queue full, dropping event", "room", roomKey, "type", event.Type)
	}
}

func (d *Dispatcher) handleRegister(sess session) {
	if err := d.registry.Register(sess.ID(), sess.UserID()); err != nil {
		d.logger.Error("Rejecting connection", "connID", sess.ID(), "error", err)
		return
	}

	d.logger.Info("Connection registered", "connID", sess.ID(), "userID", sess.UserID())

	if d.presence != nil {
		if err := d.presence.SetUserOnline(d.ctx, sess.UserID()); err != nil {
			d.logger.Error("Failed to set user online", "userID", sess.UserID(), "error", err)
		}
	}

	ack := NewConnectionEstablishedEvent(uuid.New().String(), sess.ID(), sess.UserID())
	if err := sess.SendEvent(ack); err != nil {
		d.logger.Warn("Failed to send connection ack", "connID", sess.ID(), "error", err)
	}
}

// handleDisconnect purges the connection and emits presence.left to every
// room it was in. Presence leave notification is part of the disconnect
// path, not a separate periodic check.
func (d *Dispatcher) handleDisconnect(sess session) {
	if _, ok := d.registry.UserOf(sess.ID()); !ok {
		return
	}

	rooms := d.registry.Remove(sess.ID())
	for _, roomKey := range rooms {
		d.rooms.Leave(sess.ID(), roomKey)
		left := NewPresenceEvent(uuid.New().String(), EventPresenceLeft, roomKey, sess.UserID())
		d.broadcastLocalAndRelay(roomKey, left, sess.ID())
	}

	if d.presence != nil {
		if err := d.presence.SetUserOffline(d.ctx, sess.UserID()); err != nil {
			d.logger.Error("Failed to set user offline", "userID", sess.UserID(), "error", err)
		}
	}

	d.logger.Info("Connection removed", "connID", sess.ID(), "userID", sess.UserID(), "rooms", len(rooms))
}

// handleInbound validates a single client event. Dispatcher-level errors are
// answered with an error event to the sender only and never terminate the
// connection.
func (d *Dispatcher) handleInbound(sess session, event *Event) {
	if err := event.Validate(); err != nil {
		d.logger.Warn("Dropping malformed event", "connID", sess.ID(), "error", err)
		d.sendError(sess, "INVALID_EVENT", err.Error())
		return
	}
	if !event.Type.IsInbound() {
		d.logger.Warn("Dropping non-inbound event type", "connID", sess.ID(), "type", event.Type)
		d.sendError(sess, "INVALID_EVENT", fmt.Sprintf("clients may not send %s", event.Type))
		return
	}

	switch event.Type {
	case EventTradeJoin:
		d.handleJoin(sess, TradeRoom(dataString(event, "trade_id")))
	case EventTradeLeave:
		d.handleLeave(sess, TradeRoom(dataString(event, "trade_id")))
	case EventNotifyJoin:
		d.handleJoin(sess, UserRoom(sess.UserID()))
	case EventTradeMessage:
		d.handleSend(sess, TradeRoom(dataString(event, "trade_id")), event)
	}
}

// handleJoin enforces the room-kind-dependent authorization policy, then
// records the membership on both sides of the index. Unauthorized joins are
// rejected with an error event back to the sender only.
func (d *Dispatcher) handleJoin(sess session, roomKey string) {
	kind, entityID, err := SplitRoomKey(roomKey)
	if err != nil {
		d.sendError(sess, "INVALID_ROOM", err.Error())
		return
	}

	switch kind {
	case RoomKindTrade:
		ctx, cancel := context.WithTimeout(d.ctx, authTimeout)
		authorized, err := d.isTradeParticipant(ctx, entityID, sess.UserID())
		cancel()
		if err != nil {
			d.logger.Warn("Trade lookup failed", "tradeID", entityID, "error", err)
			d.sendError(sess, "JOIN_REJECTED", "trade not found")
			return
		}
		if !authorized {
			d.logger.Warn("Unauthorized trade join", "connID", sess.ID(), "userID", sess.UserID(), "tradeID", entityID)
			d.sendError(sess, "JOIN_REJECTED", "not a participant of this trade")
			return
		}
	case RoomKindUser:
		if entityID != sess.UserID() {
			d.logger.Warn("Unauthorized personal room join", "connID", sess.ID(), "userID", sess.UserID(), "room", roomKey)
			d.sendError(sess, "JOIN_REJECTED", "personal rooms are private")
			return
		}
	default:
		d.sendError(sess, "INVALID_ROOM", fmt.Sprintf("unknown room kind: %s", kind))
		return
	}

	d.registry.RecordJoin(sess.ID(), roomKey)
	d.rooms.Join(sess, roomKey)

	joined := NewPresenceEvent(uuid.New().String(), EventPresenceJoined, roomKey, sess.UserID())
	d.broadcastLocalAndRelay(roomKey, joined, sess.ID())
}

func (d *Dispatcher) handleLeave(sess session, roomKey string) {
	if !d.registry.HasJoined(sess.ID(), roomKey) {
		return
	}
	d.registry.RecordLeave(sess.ID(), roomKey)
	d.rooms.Leave(sess.ID(), roomKey)

	left := NewPresenceEvent(uuid.New().String(), EventPresenceLeft, roomKey, sess.UserID())
	d.broadcastLocalAndRelay(roomKey, left, sess.ID())
}

// handleSend rejects sends to rooms the connection never joined, which
// prevents spoofed broadcasts. Accepted payloads are re-timestamped server
// side and fanned out to every other member.
func (d *Dispatcher) handleSend(sess session, roomKey string, event *Event) {
	if !d.registry.HasJoined(sess.ID(), roomKey) {
		d.logger.Warn("Send to non-joined room", "connID", sess.ID(), "room", roomKey)
		d.sendError(sess, "NOT_JOINED", "join the room before sending")
		return
	}

	id := event.ID
	if id == "" {
		id = uuid.New().String()
	}
	out := NewMessageEvent(id, roomKey, sess.UserID(), event.Data)
	out.Timestamp = time.Now().Unix()

	d.broadcastLocalAndRelay(roomKey, out, sess.ID())
}

func (d *Dispatcher) handleBroadcast(req *broadcastReq) {
	req.event.Room = req.room
	if req.relay {
		d.broadcastLocalAndRelay(req.room, req.event, req.exclude)
		return
	}
	delivered := d.rooms.Broadcast(req.room, req.event, req.exclude)
	d.logger.Debug("Relayed remote event", "room", req.room, "type", req.event.Type, "delivered", delivered)
}

// broadcastLocalAndRelay fans out to local members and, when a RoomBus is
// wired, republishes so members on other instances receive the event too.
func (d *Dispatcher) broadcastLocalAndRelay(roomKey string, event *Event, excludeConnID string) {
	event.Room = roomKey
	delivered := d.rooms.Broadcast(roomKey, event, excludeConnID)
	d.logger.Debug("Broadcast", "room", roomKey, "type", event.Type, "delivered", delivered)

	if d.bus == nil {
		return
	}
	payload, err := json.Marshal(busEnvelope{Origin: d.instanceID, Room: roomKey, Event: event})
	if err != nil {
		d.logger.Error("Failed to marshal bus envelope", "room", roomKey, "error", err)
		return
	}
	if err := d.bus.PublishRoomEvent(d.ctx, roomKey, payload); err != nil {
		d.logger.Error("Failed to publish to room bus", "room", roomKey, "error", err)
	}
}

// consumeBus feeds remote publications back into the run loop, skipping the
// ones this instance originated.
func (d *Dispatcher) consumeBus() {
	err := d.bus.SubscribeRoomEvents(d.ctx, func(payload []byte) {
		var env busEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			d.logger.Warn("Dropping malformed bus payload", "error", err)
			return
		}
		if env.Origin == d.instanceID || env.Event == nil {
			return
		}
		select {
		case d.broadcasts <- &broadcastReq{room: env.Room, event: env.Event}:
		default:
			d.logger.Warn("Broadcast queue full, dropping relayed event", "room", env.Room)
		}
	})
	if err != nil && d.ctx.Err() == nil {
		d.logger.Error("Room bus subscription ended", "error", err)
	}
}

func (d *Dispatcher) isTradeParticipant(ctx context.Context, tradeID, userID string) (bool, error) {
	participants, err := d.trades.Participants(ctx, tradeID)
	if err != nil {
		return false, err
	}
	for _, id := range participants {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (d *Dispatcher) sendError(sess session, code, message string) {
	errEvent := NewErrorEvent(uuid.New().String(), sess.UserID(), code, message)
	if err := sess.SendEvent(errEvent); err != nil {
		d.logger.Debug("Failed to send error event", "connID", sess.ID(), "error", err)
	}
}

// RoomCount exposes the multiplexer index size for introspection.
func (d *Dispatcher) RoomCount() int {
	return d.rooms.RoomCount()
}

// ConnectionCount exposes the registry size for introspection.
func (d *Dispatcher) ConnectionCount() int {
	return d.registry.Len()
}

func dataString(event *Event, key string) string {
	value, _ := event.Data[key].(string)
	return value
}
