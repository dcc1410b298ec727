// Package ws is the client side of the signaling channel: a gorilla
// WebSocket that redials with exponential backoff and fans inbound
// events out to registered handlers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrClosed       = errors.New("transport closed")
)

type Option func(*Client)

// WithBackOff replaces the reconnect policy.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Client implements core.Transport.
type Client struct {
	hubURL     string
	dialer     *websocket.Dialer
	newBackOff func() backoff.BackOff

	mu        sync.RWMutex
	handlers  map[string][]core.Handler
	conn      *websocket.Conn
	connected bool
	room      domain.RoomKey
	token     string

	out       chan core.Frame
	// life outlives any single Connect call and ends with Disconnect.
	life      context.Context
	stop      context.CancelFunc
	closeOnce sync.Once
	closed    bool
}

var _ core.Transport = (*Client)(nil)

func New(hubURL string, opts ...Option) *Client {
	life, stop := context.WithCancel(context.Background())
	c := &Client{
		hubURL:     hubURL,
		dialer:     websocket.DefaultDialer,
		newBackOff: defaultBackOff,
		handlers:   make(map[string][]core.Handler),
		out:        make(chan core.Frame, sendBuffer),
		life:       life,
		stop:       stop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers h for event. Several handlers per event run in
// registration order.
func (c *Client) On(event string, h core.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Connect dials the hub once and returns its error. ctx bounds that
// first dial only; afterwards the connection is redialed until
// Disconnect.
func (c *Client) Connect(ctx context.Context, room domain.RoomKey, token string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.room, c.token = room, token
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	go c.run(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.RLock()
	room, token := c.room, c.token
	c.mu.RUnlock()

	u, err := url.Parse(c.hubURL)
	if err != nil {
		return nil, fmt.Errorf("invalid hub URL: %w", err)
	}
	if room != "" {
		q := u.Query()
		q.Set("room", string(room))
		u.RawQuery = q.Encode()
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// run serves conn and redials whenever it drops.
func (c *Client) run(conn *websocket.Conn) {
	for {
		c.serve(conn)
		if c.isClosed() {
			return
		}
		log.Warn().Str("module", "ws").Msg("signaling connection lost, reconnecting")

		conn = c.redial()
		if conn == nil {
			return
		}
	}
}

func (c *Client) redial() *websocket.Conn {
	b := c.newBackOff()
	b.Reset()
	for {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			log.Error().Str("module", "ws").Msg("giving up reconnecting")
			return nil
		}
		select {
		case <-c.life.Done():
			return nil
		case <-time.After(wait):
		}
		conn, err := c.dial(c.life)
		if err == nil {
			return conn
		}
		log.Debug().Err(err).Str("module", "ws").Dur("wait", wait).Msg("redial failed")
	}
}

// serve blocks until conn fails or the client is closed.
func (c *Client) serve(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.drain()
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(conn, done)
	}()

	c.dispatch(core.EventConnected, nil)
	c.readPump(conn)

	close(done)
	_ = conn.Close()
	<-writerDone

	c.mu.Lock()
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
}

// drain drops frames queued for a previous connection. They carry
// addressing the hub no longer recognizes.
func (c *Client) drain() {
	for {
		select {
		case <-c.out:
		default:
			return
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				log.Debug().Err(err).Str("module", "ws").Msg("read")
			}
			return
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "ws").Msg("bad envelope")
			continue
		}
		c.dispatch(env.Type, env.Payload)
	}
}

func (c *Client) writePump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("module", "ws").Msg("write")
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			return
		case <-c.life.Done():
			c.flush(conn)
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			return
		}
	}
}

// flush writes whatever is still queued, so a room:leave sent right
// before Disconnect reaches the hub.
func (c *Client) flush(conn *websocket.Conn) {
	for {
		select {
		case frame := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) dispatch(event string, payload json.RawMessage) {
	c.mu.RLock()
	hs := append([]core.Handler(nil), c.handlers[event]...)
	c.mu.RUnlock()
	if len(hs) == 0 {
		log.Debug().Str("module", "ws").Str("event", event).Msg("no handler")
		return
	}
	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("module", "ws").Str("event", event).Interface("panic", r).Msg("handler panicked")
				}
			}()
			h(payload)
		}()
	}
}

// Send queues one event. It never blocks; a full queue returns
// core.ErrBackpressure.
func (c *Client) Send(event string, payload any) error {
	c.mu.RLock()
	closed, connected := c.closed, c.connected
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !connected {
		return ErrNotConnected
	}
	frame, err := core.Encode(event, payload)
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		// writePump flushes, sends the close frame and closes the socket.
		c.stop()
		log.Info().Str("module", "ws").Msg("disconnected")
	})
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
