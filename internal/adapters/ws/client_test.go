package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dkeye/fleetcall/internal/core"
	"github.com/gorilla/websocket"
)

// fakeHub accepts connections and records what clients send.
type fakeHub struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received chan core.Envelope
	auth     []string
	rooms    []string
}

func newFakeHub(t *testing.T) *fakeHub {
	h := &fakeHub{t: t, received: make(chan core.Envelope, 16)}
	h.srv = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/ws/signal"
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.auth = append(h.auth, r.Header.Get("Authorization"))
	h.rooms = append(h.rooms, r.URL.Query().Get("room"))
	h.mu.Unlock()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env core.Envelope
		if json.Unmarshal(data, &env) == nil {
			h.received <- env
		}
	}
}

// conn waits for the i-th accepted connection.
func (h *fakeHub) conn(i int) *websocket.Conn {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		if i < len(h.conns) {
			c := h.conns[i]
			h.mu.Unlock()
			return c
		}
		h.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("connection %d never arrived", i)
	return nil
}

func (h *fakeHub) push(t *testing.T, i int, event string, payload any) {
	t.Helper()
	frame, _ := core.Encode(event, payload)
	if err := h.conn(i).WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(20 * time.Millisecond)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestConnectSendReceive(t *testing.T) {
	hub := newFakeHub(t)
	c := New(hub.url(), WithBackOff(fastBackOff))
	defer c.Disconnect()

	connected := make(chan struct{}, 4)
	c.On(core.EventConnected, func(json.RawMessage) { connected <- struct{}{} })

	var order []int
	got := make(chan struct{}, 1)
	c.On(core.EventRoomCount, func(p json.RawMessage) {
		var rc core.RoomCountPayload
		_ = json.Unmarshal(p, &rc)
		order = append(order, rc.Count)
		if len(order) == 3 {
			got <- struct{}{}
		}
	})

	if err := c.Send(core.EventPing, nil); err != ErrNotConnected {
		t.Fatalf("send before connect: %v", err)
	}
	if err := c.Connect(context.Background(), "wo-7", "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, connected, "connect event")

	if err := c.Send(core.EventRoomJoin, core.RoomPayload{RoomKey: "wo-7"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case env := <-hub.received:
		if env.Type != core.EventRoomJoin {
			t.Fatalf("hub got %s", env.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("hub received nothing")
	}
	hub.mu.Lock()
	if hub.auth[0] != "Bearer tok" || hub.rooms[0] != "wo-7" {
		t.Errorf("auth=%q room=%q", hub.auth[0], hub.rooms[0])
	}
	hub.mu.Unlock()

	for i := 1; i <= 3; i++ {
		hub.push(t, 0, core.EventRoomCount, core.RoomCountPayload{Count: i})
	}
	waitFor(t, got, "three events")
	for i, n := range order {
		if n != i+1 {
			t.Fatalf("handler order = %v", order)
		}
	}
}

func TestReconnectDispatchesConnect(t *testing.T) {
	hub := newFakeHub(t)
	c := New(hub.url(), WithBackOff(fastBackOff))
	defer c.Disconnect()

	connected := make(chan struct{}, 4)
	c.On(core.EventConnected, func(json.RawMessage) { connected <- struct{}{} })

	if err := c.Connect(context.Background(), "wo-1", "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, connected, "first connect")

	_ = hub.conn(0).Close()
	waitFor(t, connected, "reconnect")
	hub.conn(1)
}

func TestReconnectOutlivesConnectContext(t *testing.T) {
	hub := newFakeHub(t)
	c := New(hub.url(), WithBackOff(fastBackOff))
	defer c.Disconnect()

	connected := make(chan struct{}, 4)
	c.On(core.EventConnected, func(json.RawMessage) { connected <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Connect(ctx, "wo-1", "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, connected, "first connect")
	cancel()

	_ = hub.conn(0).Close()
	waitFor(t, connected, "reconnect after ctx cancel")
	hub.conn(1)
}

func TestDisconnectFlushesQueue(t *testing.T) {
	hub := newFakeHub(t)
	c := New(hub.url(), WithBackOff(fastBackOff))
	connected := make(chan struct{}, 1)
	c.On(core.EventConnected, func(json.RawMessage) { connected <- struct{}{} })
	if err := c.Connect(context.Background(), "wo-3", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, connected, "connect")

	for i := 0; i < 5; i++ {
		if err := c.Send(core.EventRoomStatus, core.RoomPayload{RoomKey: "wo-3"}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if err := c.Send(core.EventRoomLeave, core.RoomPayload{RoomKey: "wo-3"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	c.Disconnect()

	for {
		select {
		case env := <-hub.received:
			if env.Type == core.EventRoomLeave {
				return
			}
		case <-time.After(3 * time.Second):
			t.Fatal("room:leave queued before Disconnect never reached the hub")
		}
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	hub := newFakeHub(t)
	c := New(hub.url(), WithBackOff(fastBackOff))
	connected := make(chan struct{}, 1)
	c.On(core.EventConnected, func(json.RawMessage) { connected <- struct{}{} })
	if err := c.Connect(context.Background(), "", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, connected, "connect")

	c.Disconnect()
	c.Disconnect()

	if err := c.Send(core.EventPing, nil); err != ErrClosed {
		t.Fatalf("send after disconnect: %v", err)
	}
	if err := c.Connect(context.Background(), "", ""); err != ErrClosed {
		t.Fatalf("connect after disconnect: %v", err)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	hub := newFakeHub(t)
	c := New(hub.url(), WithBackOff(fastBackOff))
	defer c.Disconnect()

	after := make(chan struct{}, 1)
	c.On(core.EventError, func(json.RawMessage) { panic("boom") })
	c.On(core.EventPong, func(json.RawMessage) { after <- struct{}{} })
	connected := make(chan struct{}, 1)
	c.On(core.EventConnected, func(json.RawMessage) { connected <- struct{}{} })

	if err := c.Connect(context.Background(), "", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, connected, "connect")
	hub.push(t, 0, core.EventError, core.ErrorPayload{Error: "x"})
	hub.push(t, 0, core.EventPong, struct{}{})
	waitFor(t, after, "event after panic")
}

func TestConnectFailure(t *testing.T) {
	c := New("ws://127.0.0.1:1/none")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx, "", ""); err == nil {
		t.Fatal("expected dial error")
	}
}
