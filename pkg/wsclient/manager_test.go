package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receivedEvent struct {
	connIdx int
	event   Event
}

// testServer is a minimal realtime endpoint: it records every inbound event
// and lets tests kill individual connections to simulate transport loss.
type testServer struct {
	srv      *httptest.Server
	upgrades int32
	inbox    chan receivedEvent
	closed   chan int

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		inbox:  make(chan receivedEvent, 64),
		closed: make(chan int, 8),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		idx := int(atomic.AddInt32(&ts.upgrades, 1))
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		defer func() { ts.closed <- idx }()

		for {
			var event Event
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			ts.inbox <- receivedEvent{connIdx: idx, event: event}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) upgradeCount() int {
	return int(atomic.LoadInt32(&ts.upgrades))
}

func (ts *testServer) killConn(idx int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.conns[idx-1].Close()
}

func (ts *testServer) nextEvent(t *testing.T) receivedEvent {
	t.Helper()
	select {
	case ev := <-ts.inbox:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for event at test server")
		return receivedEvent{}
	}
}

func newTestManager(ts *testServer) *Manager {
	return NewManager(Config{
		URL:         ts.wsURL(),
		TokenFn:     func(userID string) (string, error) { return "token-" + userID, nil },
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		MaxAttempts: 5,
	})
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Manager never reached state %s (stuck at %s)", want, m.State())
}

func waitForUpgrades(t *testing.T, ts *testServer, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ts.upgradeCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Server never saw upgrade %d (saw %d)", want, ts.upgradeCount())
}

func TestManagerConnectIdempotent(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts)
	defer m.Close()

	// simulate several UI components mounting at once
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Connect(context.Background(), "u1")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, ts.upgradeCount(), "concurrent Connect calls must share one transport")

	// a repeat call on an open session is a no-op
	require.NoError(t, m.Connect(context.Background(), "u1"))
	assert.Equal(t, 1, ts.upgradeCount())
}

func TestManagerReconnectReplaysIntent(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background(), "u1"))
	require.NoError(t, m.JoinRoom("trade:A"))
	require.NoError(t, m.JoinRoom("user:u1"))

	first := ts.nextEvent(t)
	assert.Equal(t, "trade.join", first.event.Type)
	second := ts.nextEvent(t)
	assert.Equal(t, "notify.join", second.event.Type)

	// kill the transport; the manager must reconnect and replay both joins
	// in their original request order. Wait for the second handshake rather
	// than the state: the manager only notices the loss once its read fails.
	ts.killConn(1)
	waitForUpgrades(t, ts, 2)
	waitForState(t, m, StateConnected)
	require.Equal(t, 2, ts.upgradeCount())

	replayed := []receivedEvent{ts.nextEvent(t), ts.nextEvent(t)}
	assert.Equal(t, 2, replayed[0].connIdx)
	assert.Equal(t, "trade.join", replayed[0].event.Type)
	assert.Equal(t, "A", replayed[0].event.Data["trade_id"])
	assert.Equal(t, "notify.join", replayed[1].event.Type)

	select {
	case ev := <-ts.inbox:
		t.Fatalf("Unexpected extra event after replay: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManagerConnectSwitchesUser(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background(), "u1"))
	require.NoError(t, m.JoinRoom("trade:A"))
	first := ts.nextEvent(t)
	assert.Equal(t, 1, first.connIdx)

	// connecting as a different user replaces the session: old transport
	// closed, exactly one fresh handshake, intent replayed on the new
	// connection
	require.NoError(t, m.Connect(context.Background(), "u2"))

	select {
	case idx := <-ts.closed:
		assert.Equal(t, 1, idx)
	case <-time.After(3 * time.Second):
		t.Fatal("Old transport never closed after user switch")
	}

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 2, ts.upgradeCount())

	replayed := ts.nextEvent(t)
	assert.Equal(t, 2, replayed.connIdx)
	assert.Equal(t, "trade.join", replayed.event.Type)
	assert.Equal(t, "A", replayed.event.Data["trade_id"])

	// the superseded transport's read loop dies with a stale generation;
	// that loss must not schedule a reconnect or another handshake
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, ts.upgradeCount())
	assert.Equal(t, StateConnected, m.State())
}

func TestManagerExplicitDisconnectDoesNotReconnect(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts)

	require.NoError(t, m.Connect(context.Background(), "u1"))
	m.Disconnect()

	// long enough for several backoff steps if one were scheduled
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, ts.upgradeCount(), "explicit disconnect must not trigger reconnect")
}

func TestManagerReconnectExhaustion(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(Config{
		URL:         ts.wsURL(),
		TokenFn:     func(string) (string, error) { return "tok", nil },
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		MaxAttempts: 3,
	})

	failed := make(chan Event, 1)
	m.On(EventReconnectFailed, func(ev Event) { failed <- ev })

	require.NoError(t, m.Connect(context.Background(), "u1"))

	// take the endpoint away so every redial is refused, then sever the
	// live transport; the listener alone is not enough because the
	// established connection is hijacked and outlives it
	ts.srv.Listener.Close()
	ts.killConn(1)

	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("Reconnect exhaustion never surfaced")
	}
	assert.Equal(t, StateFailed, m.State())

	// no further automatic retries after giving up
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateFailed, m.State())
}

func TestManagerSendWhileDisconnected(t *testing.T) {
	m := NewManager(Config{
		URL:     "ws://127.0.0.1:0/ws",
		TokenFn: func(string) (string, error) { return "tok", nil },
	})

	err := m.Send("trade:A", map[string]any{"text": "hello"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManagerIntentSurvivesWhileDisconnected(t *testing.T) {
	m := NewManager(Config{
		URL:     "ws://127.0.0.1:0/ws",
		TokenFn: func(string) (string, error) { return "tok", nil },
	})

	require.NoError(t, m.JoinRoom("trade:A"))
	require.NoError(t, m.JoinRoom("trade:B"))
	require.NoError(t, m.JoinRoom("trade:A")) // duplicate intent is a no-op
	assert.Equal(t, []string{"trade:A", "trade:B"}, m.Rooms())

	require.NoError(t, m.LeaveRoom("trade:A"))
	assert.Equal(t, []string{"trade:B"}, m.Rooms())

	// teardown clears intent entirely
	m.Close()
	assert.Empty(t, m.Rooms())
}

func TestManagerListeners(t *testing.T) {
	m := NewManager(Config{
		URL:     "ws://127.0.0.1:0/ws",
		TokenFn: func(string) (string, error) { return "tok", nil },
	})

	var calls int32
	id := m.On("message.new", func(Event) { atomic.AddInt32(&calls, 1) })
	m.On("message.new", func(Event) { atomic.AddInt32(&calls, 1) })

	m.emit(Event{Type: "message.new"})
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	m.Off("message.new", id)
	m.emit(Event{Type: "message.new"})
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// Off with no ids clears all listeners for the type
	m.Off("message.new")
	m.emit(Event{Type: "message.new"})
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
