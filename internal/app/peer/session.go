package peer

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// RemoteStream collects the tracks a peer sends. Append only.
type RemoteStream struct {
	mu     sync.RWMutex
	tracks []core.RemoteTrack
	feed   core.FrameSource
}

func (r *RemoteStream) Tracks() []core.RemoteTrack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.RemoteTrack(nil), r.tracks...)
}

// Feed is the decoder of the first remote video track, nil until one arrives.
func (r *RemoteStream) Feed() core.FrameSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feed
}

// Session is the negotiation with one remote participant.
type Session struct {
	peer        domain.ConnectionID
	userID      domain.UserID
	displayName string

	// mu serializes negotiation steps.
	mu         sync.Mutex
	state      State
	conn       core.PeerConnection
	pendingICE []webrtc.ICECandidateInit

	closed atomic.Bool
	remote RemoteStream
}

func (s *Session) Peer() domain.ConnectionID { return s.peer }

func (s *Session) State() State {
	if s.closed.Load() {
		return StateClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Remote() *RemoteStream { return &s.remote }

// PendingICE is the number of buffered candidates.
func (s *Session) PendingICE() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingICE)
}

// DisplayName is known once the peer's offer or a roster entry named it.
func (s *Session) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

func (s *Session) setMeta(userID domain.UserID, name string) {
	if userID != "" {
		s.userID = userID
	}
	if name != "" {
		s.displayName = name
	}
}

// flushICE applies buffered candidates in arrival order. The queue is
// emptied before the first one is applied; failures do not stop the rest.
// Caller holds mu.
func (s *Session) flushICE() []error {
	pending := s.pendingICE
	s.pendingICE = nil
	var errs []error
	for _, c := range pending {
		if s.closed.Load() {
			return errs
		}
		if err := s.conn.AddICECandidate(c); err != nil {
			errs = append(errs, opErr("add buffered ice", s.peer, err))
		}
	}
	return errs
}

// close marks the session closed first so in-flight steps stop applying
// results, then releases the connection.
func (s *Session) close() {
	if s.closed.Swap(true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.pendingICE = nil
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
