package peer

import (
	"errors"
	"fmt"

	"github.com/dkeye/fleetcall/internal/domain"
)

var (
	ErrSessionClosed = errors.New("peer session closed")
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrWrongState    = errors.New("wrong negotiation state")
	ErrOrphanLimit   = errors.New("too many candidates for unknown peers")
)

// OpError is a failed negotiation step. Callers log it and move on.
type OpError struct {
	Op   string
	Peer domain.ConnectionID
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("peer %s: %s: %v", e.Peer, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op string, peer domain.ConnectionID, err error) error {
	return &OpError{Op: op, Peer: peer, Err: err}
}
