package realtime

import (
	"testing"
)

func TestMultiplexerJoinIdempotence(t *testing.T) {
	m := NewMultiplexer(discardLogger())
	s := newFakeSession("c1", "u1")

	m.Join(s, "trade:t1")
	m.Join(s, "trade:t1")

	if count := m.MemberCount("trade:t1"); count != 1 {
		t.Errorf("Expected 1 member after double join, got %d", count)
	}
}

func TestMultiplexerRoomCleanup(t *testing.T) {
	m := NewMultiplexer(discardLogger())
	s1 := newFakeSession("c1", "u1")
	s2 := newFakeSession("c2", "u2")

	m.Join(s1, "trade:t1")
	m.Join(s2, "trade:t1")
	if m.RoomCount() != 1 {
		t.Fatalf("Expected 1 room, got %d", m.RoomCount())
	}

	m.Leave("c1", "trade:t1")
	if m.RoomCount() != 1 {
		t.Errorf("Room deleted while still populated")
	}

	// last member leaving deletes the room entry outright
	m.Leave("c2", "trade:t1")
	if m.RoomCount() != 0 {
		t.Errorf("Expected empty index after last leave, got %d rooms", m.RoomCount())
	}

	// leaving an unknown room is a no-op
	m.Leave("c2", "trade:t1")
}

func TestMultiplexerBroadcastExcludesSender(t *testing.T) {
	m := NewMultiplexer(discardLogger())
	sender := newFakeSession("c1", "u1")
	peer := newFakeSession("c2", "u2")
	m.Join(sender, "trade:t1")
	m.Join(peer, "trade:t1")

	event := NewMessageEvent("m1", "trade:t1", "u1", map[string]any{"text": "hello"})
	delivered := m.Broadcast("trade:t1", event, "c1")

	if delivered != 1 {
		t.Errorf("Expected 1 delivery, got %d", delivered)
	}
	if len(sender.received()) != 0 {
		t.Error("Sender received its own broadcast")
	}
	if len(peer.received()) != 1 {
		t.Fatalf("Peer expected 1 event, got %d", len(peer.received()))
	}
}

func TestMultiplexerBroadcastIsolation(t *testing.T) {
	m := NewMultiplexer(discardLogger())
	s1 := newFakeSession("c1", "u1")
	s2 := newFakeSession("c2", "u2")
	s3 := newFakeSession("c3", "u3")
	s2.failSend = true

	m.Join(s1, "trade:t1")
	m.Join(s2, "trade:t1")
	m.Join(s3, "trade:t1")

	event := NewMessageEvent("m1", "trade:t1", "u9", map[string]any{"text": "hi"})
	delivered := m.Broadcast("trade:t1", event, "")

	// one unreachable connection must not block delivery to the rest
	if delivered != 2 {
		t.Errorf("Expected 2 deliveries with one faulting member, got %d", delivered)
	}
	if len(s1.received()) != 1 || len(s3.received()) != 1 {
		t.Error("Healthy members missed the broadcast")
	}
	// the faulting member keeps its membership until the transport reports close
	if m.MemberCount("trade:t1") != 3 {
		t.Errorf("Faulting member evicted by broadcast, members=%d", m.MemberCount("trade:t1"))
	}
}

func TestMultiplexerBroadcastToEmptyRoom(t *testing.T) {
	m := NewMultiplexer(discardLogger())
	event := NewMessageEvent("m1", "trade:none", "u1", nil)
	if delivered := m.Broadcast("trade:none", event, ""); delivered != 0 {
		t.Errorf("Expected 0 deliveries to empty room, got %d", delivered)
	}
}
