package realtime

import (
	"testing"
)

func joinTrade(d *Dispatcher, s *fakeSession, tradeID string) {
	d.handleInbound(s, &Event{Type: EventTradeJoin, Data: map[string]any{"trade_id": tradeID}})
}

func sendTradeMessage(d *Dispatcher, s *fakeSession, tradeID, text string) {
	d.handleInbound(s, &Event{Type: EventTradeMessage, Data: map[string]any{
		"trade_id": tradeID,
		"text":     text,
	}})
}

func TestDispatcherRegisterAck(t *testing.T) {
	d := newTestDispatcher(nil)
	s := newFakeSession("c1", "u1")

	d.handleRegister(s)

	acks := s.receivedOfType(EventConnectionEstablished)
	if len(acks) != 1 {
		t.Fatalf("Expected 1 connection ack, got %d", len(acks))
	}
	if acks[0].Data["connection_id"] != "c1" {
		t.Errorf("Ack carries wrong connection id: %v", acks[0].Data["connection_id"])
	}
	if acks[0].Timestamp == 0 {
		t.Error("Ack missing server timestamp")
	}
	if d.ConnectionCount() != 1 {
		t.Errorf("Expected 1 registered connection, got %d", d.ConnectionCount())
	}
}

func TestDispatcherTradeJoinAuthorization(t *testing.T) {
	d := newTestDispatcher(map[string][]string{"t1": {"buyer", "seller"}})

	t.Run("ParticipantAllowed", func(t *testing.T) {
		s := newFakeSession("c1", "buyer")
		d.handleRegister(s)
		joinTrade(d, s, "t1")

		if !d.registry.HasJoined("c1", "trade:t1") {
			t.Error("Participant join not recorded")
		}
		if errs := s.receivedOfType(EventError); len(errs) != 0 {
			t.Errorf("Unexpected error events: %v", errs)
		}
	})

	t.Run("OutsiderRejected", func(t *testing.T) {
		s := newFakeSession("c2", "stranger")
		d.handleRegister(s)
		joinTrade(d, s, "t1")

		if d.registry.HasJoined("c2", "trade:t1") {
			t.Error("Outsider appears in room registry")
		}
		if d.rooms.MemberCount("trade:t1") != 1 {
			t.Errorf("Outsider appears in member set, members=%d", d.rooms.MemberCount("trade:t1"))
		}
		errs := s.receivedOfType(EventError)
		if len(errs) != 1 || errs[0].Data["code"] != "JOIN_REJECTED" {
			t.Errorf("Expected one JOIN_REJECTED error, got %v", errs)
		}
	})

	t.Run("UnknownTradeRejected", func(t *testing.T) {
		s := newFakeSession("c3", "buyer")
		d.handleRegister(s)
		joinTrade(d, s, "missing")

		if d.registry.HasJoined("c3", "trade:missing") {
			t.Error("Join recorded for missing trade")
		}
		if errs := s.receivedOfType(EventError); len(errs) != 1 {
			t.Errorf("Expected one error event, got %d", len(errs))
		}
	})
}

func TestDispatcherPersonalRoomJoin(t *testing.T) {
	d := newTestDispatcher(nil)
	s := newFakeSession("c1", "u1")
	d.handleRegister(s)

	d.handleInbound(s, &Event{Type: EventNotifyJoin, Data: map[string]any{}})

	if !d.registry.HasJoined("c1", "user:u1") {
		t.Error("Personal room join not recorded")
	}
	// the joined room is always derived from the connection's own identity,
	// so a stranger's personal room is unreachable by construction
	if d.rooms.MemberCount("user:u1") != 1 {
		t.Errorf("Expected 1 member in personal room, got %d", d.rooms.MemberCount("user:u1"))
	}
}

func TestDispatcherSendWithoutJoinRejected(t *testing.T) {
	d := newTestDispatcher(map[string][]string{"t1": {"u1", "u2"}})
	member := newFakeSession("c1", "u1")
	lurker := newFakeSession("c2", "u2")
	d.handleRegister(member)
	d.handleRegister(lurker)
	joinTrade(d, member, "t1")

	// lurker is a participant but never joined the room over this connection
	sendTradeMessage(d, lurker, "t1", "spoofed")

	errs := lurker.receivedOfType(EventError)
	if len(errs) != 1 || errs[0].Data["code"] != "NOT_JOINED" {
		t.Fatalf("Expected NOT_JOINED error, got %v", errs)
	}
	if got := member.receivedOfType(EventMessageNew); len(got) != 0 {
		t.Errorf("Broadcast happened despite rejection: %v", got)
	}
	if d.rooms.MemberCount("trade:t1") != 1 {
		t.Errorf("Member set changed by rejected send, members=%d", d.rooms.MemberCount("trade:t1"))
	}
}

func TestDispatcherMessageScenario(t *testing.T) {
	d := newTestDispatcher(map[string][]string{"t1": {"u1", "u2"}})
	u1 := newFakeSession("c1", "u1")
	u2 := newFakeSession("c2", "u2")
	d.handleRegister(u1)
	d.handleRegister(u2)
	joinTrade(d, u1, "t1")
	joinTrade(d, u2, "t1")

	// u1 saw u2 arrive
	if got := u1.receivedOfType(EventPresenceJoined); len(got) != 1 {
		t.Errorf("Expected 1 presence.joined at u1, got %d", len(got))
	}

	sendTradeMessage(d, u1, "t1", "hello")

	delivered := u2.receivedOfType(EventMessageNew)
	if len(delivered) != 1 {
		t.Fatalf("Expected 1 message at u2, got %d", len(delivered))
	}
	if delivered[0].Data["text"] != "hello" {
		t.Errorf("Wrong payload: %v", delivered[0].Data)
	}
	if delivered[0].Timestamp == 0 {
		t.Error("Delivered message missing server timestamp")
	}
	if delivered[0].UserID != "u1" {
		t.Errorf("Wrong sender attribution: %s", delivered[0].UserID)
	}

	// sender is excluded from its own broadcast
	if got := u1.receivedOfType(EventMessageNew); len(got) != 0 {
		t.Errorf("Sender received its own message back: %v", got)
	}
}

func TestDispatcherOrderingPerSender(t *testing.T) {
	d := newTestDispatcher(map[string][]string{"t1": {"u1", "u2"}})
	u1 := newFakeSession("c1", "u1")
	u2 := newFakeSession("c2", "u2")
	d.handleRegister(u1)
	d.handleRegister(u2)
	joinTrade(d, u1, "t1")
	joinTrade(d, u2, "t1")

	for _, text := range []string{"one", "two", "three"} {
		sendTradeMessage(d, u1, "t1", text)
	}

	delivered := u2.receivedOfType(EventMessageNew)
	if len(delivered) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(delivered))
	}
	for i, want := range []string{"one", "two", "three"} {
		if delivered[i].Data["text"] != want {
			t.Errorf("Message %d out of order: got %v want %s", i, delivered[i].Data["text"], want)
		}
	}
}

func TestDispatcherDisconnectCleanup(t *testing.T) {
	d := newTestDispatcher(map[string][]string{"t1": {"u1", "u2"}})
	u1 := newFakeSession("c1", "u1")
	u2 := newFakeSession("c2", "u2")
	d.handleRegister(u1)
	d.handleRegister(u2)
	joinTrade(d, u1, "t1")
	joinTrade(d, u2, "t1")

	d.handleDisconnect(u1)

	if got := u2.receivedOfType(EventPresenceLeft); len(got) != 1 {
		t.Errorf("Expected 1 presence.left at peer, got %d", len(got))
	}
	if d.ConnectionCount() != 1 {
		t.Errorf("Expected 1 remaining connection, got %d", d.ConnectionCount())
	}
	if d.rooms.MemberCount("trade:t1") != 1 {
		t.Errorf("Expected 1 remaining member, got %d", d.rooms.MemberCount("trade:t1"))
	}

	// last member leaving garbage-collects the room
	d.handleDisconnect(u2)
	if d.RoomCount() != 0 {
		t.Errorf("Expected empty room index, got %d", d.RoomCount())
	}

	// disconnecting an unknown session is harmless
	d.handleDisconnect(u1)
}

func TestDispatcherMalformedEventsDropped(t *testing.T) {
	d := newTestDispatcher(nil)
	s := newFakeSession("c1", "u1")
	d.handleRegister(s)

	d.handleInbound(s, &Event{Type: "bogus.type"})
	d.handleInbound(s, &Event{Type: EventMessageNew}) // outbound-only type

	errs := s.receivedOfType(EventError)
	if len(errs) != 2 {
		t.Fatalf("Expected 2 error events, got %d", len(errs))
	}
	if d.ConnectionCount() != 1 {
		t.Error("Malformed event terminated the connection")
	}
}
