package core

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/fleetcall/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Handler receives the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

// Transport is the client side of the signaling channel.
// Handlers are invoked one at a time, in arrival order.
type Transport interface {
	// Connect's ctx covers the initial dial; the connection lives until
	// Disconnect.
	Connect(ctx context.Context, room domain.RoomKey, token string) error
	Send(event string, payload any) error
	On(event string, h Handler)
	// Disconnect must be safe to call more than once.
	Disconnect()
}
