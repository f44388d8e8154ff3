package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// fakeSession implements the session interface for tests.
type fakeSession struct {
	id     string
	userID string

	mu       sync.Mutex
	events   []*Event
	failSend bool
}

func newFakeSession(id, userID string) *fakeSession {
	return &fakeSession{id: id, userID: userID}
}

func (s *fakeSession) ID() string     { return s.id }
func (s *fakeSession) UserID() string { return s.userID }

func (s *fakeSession) SendEvent(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend {
		return errors.New("transport write refused")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSession) received() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *fakeSession) receivedOfType(eventType EventType) []*Event {
	var out []*Event
	for _, event := range s.received() {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// fakeDirectory is an in-memory TradeDirectory.
type fakeDirectory struct {
	trades map[string][]string
}

func (d *fakeDirectory) Participants(_ context.Context, tradeID string) ([]string, error) {
	participants, ok := d.trades[tradeID]
	if !ok {
		return nil, fmt.Errorf("trade %s not found", tradeID)
	}
	return participants, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(trades map[string][]string) *Dispatcher {
	return NewDispatcher(&fakeDirectory{trades: trades}, discardLogger())
}
