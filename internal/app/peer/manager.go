// Package peer runs one offer/answer state machine per remote participant
// and carries ICE candidates between them over the signaling transport.
package peer

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Sender is the outbound half of core.Transport.
type Sender interface {
	Send(event string, payload any) error
}

// ConnFactory opens a fresh peer connection.
type ConnFactory func() (core.PeerConnection, error)

// FeedFactory starts decoding a remote video track.
type FeedFactory func(core.RemoteTrack) core.FrameSource

// TrackSource yields the local tracks every new connection starts with.
type TrackSource interface {
	Tracks() []core.LocalTrack
}

// Limits on candidates held for connection ids without a session. A
// peer that never shows up in the roster cannot grow them further.
const (
	maxOrphanPeers      = 16
	maxOrphanCandidates = 32
)

type Manager struct {
	send  Sender
	newPC ConnFactory
	feeds FeedFactory
	local TrackSource

	mu       sync.RWMutex
	sessions map[domain.ConnectionID]*Session
	orphans  map[domain.ConnectionID][]webrtc.ICECandidateInit

	onTrack func(domain.ConnectionID, core.RemoteTrack)
}

func NewManager(send Sender, newPC ConnFactory, local TrackSource, feeds FeedFactory) *Manager {
	return &Manager{
		send:     send,
		newPC:    newPC,
		feeds:    feeds,
		local:    local,
		sessions: make(map[domain.ConnectionID]*Session),
		orphans:  make(map[domain.ConnectionID][]webrtc.ICECandidateInit),
	}
}

// OnRemoteTrack sets a callback for every remote track of every peer.
func (m *Manager) OnRemoteTrack(f func(domain.ConnectionID, core.RemoteTrack)) {
	m.mu.Lock()
	m.onTrack = f
	m.mu.Unlock()
}

// Register subscribes the manager to the signal:* events of t.
func (m *Manager) Register(t core.Transport) {
	t.On(core.EventSignalOffer, func(raw json.RawMessage) {
		var p core.OfferPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("bad offer payload")
			return
		}
		m.logStep(m.HandleOffer(p.FromConnectionID, p.UserID, p.DisplayName, p.Offer))
	})
	t.On(core.EventSignalAnswer, func(raw json.RawMessage) {
		var p core.AnswerPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("bad answer payload")
			return
		}
		m.logStep(m.HandleAnswer(p.FromConnectionID, p.Answer))
	})
	t.On(core.EventSignalICE, func(raw json.RawMessage) {
		var p core.ICECandidatePayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Candidate == nil {
			log.Warn().Err(err).Str("module", "peer").Msg("bad candidate payload")
			return
		}
		m.logStep(m.HandleICE(p.FromConnectionID, *p.Candidate))
	})
}

func (m *Manager) logStep(err error) {
	if err == nil {
		return
	}
	log.Debug().Err(err).Str("module", "peer").Msg("negotiation step failed")
}

// Session returns the live session for peer.
func (m *Manager) Session(peer domain.ConnectionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[peer]
	return s, ok
}

// Peers lists remote connection ids with a live session, sorted.
func (m *Manager) Peers() []domain.ConnectionID {
	m.mu.RLock()
	out := make([]domain.ConnectionID, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Feed is the decoded video of peer, nil when none.
func (m *Manager) Feed(peer domain.ConnectionID) core.FrameSource {
	if s, ok := m.Session(peer); ok {
		return s.remote.Feed()
	}
	return nil
}

// Ensure returns the session for p, creating a passive one in New.
func (m *Manager) Ensure(p domain.Participant) (*Session, error) {
	if p.ConnectionID == "" {
		return nil, ErrUnknownPeer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[p.ConnectionID]; ok {
		s.mu.Lock()
		s.setMeta(p.UserID, p.DisplayName)
		s.mu.Unlock()
		return s, nil
	}

	s := &Session{peer: p.ConnectionID, state: StateNew}
	s.setMeta(p.UserID, p.DisplayName)
	conn, err := m.openConn(s)
	if err != nil {
		return nil, opErr("open connection", p.ConnectionID, err)
	}
	s.conn = conn
	if queued, ok := m.orphans[p.ConnectionID]; ok {
		s.pendingICE = queued
		delete(m.orphans, p.ConnectionID)
	}
	m.sessions[p.ConnectionID] = s
	log.Info().Str("module", "peer").Str("peer", string(p.ConnectionID)).Str("user", string(p.UserID)).Msg("session created")
	return s, nil
}

// openConn builds a connection carrying every local track and wires its
// callbacks to s.
func (m *Manager) openConn(s *Session) (core.PeerConnection, error) {
	conn, err := m.newPC()
	if err != nil {
		return nil, err
	}
	if m.local != nil {
		for _, t := range m.local.Tracks() {
			if _, err := conn.AddTrack(t); err != nil {
				log.Warn().Err(err).Str("module", "peer").Str("peer", string(s.peer)).Str("track", t.ID()).Msg("add local track")
			}
		}
	}
	peer := s.peer
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if s.closed.Load() {
			return
		}
		err := m.send.Send(core.EventSignalICE, core.ICECandidatePayload{
			Addressing: core.Addressing{TargetConnectionID: peer},
			Candidate:  &c,
		})
		if err != nil {
			log.Debug().Err(err).Str("module", "peer").Str("peer", string(peer)).Msg("send ice")
		}
	})
	conn.OnTrack(func(t core.RemoteTrack) {
		m.addRemoteTrack(s, t)
	})
	return conn, nil
}

func (m *Manager) addRemoteTrack(s *Session, t core.RemoteTrack) {
	if s.closed.Load() {
		return
	}
	s.remote.mu.Lock()
	s.remote.tracks = append(s.remote.tracks, t)
	if t.Kind() == webrtc.RTPCodecTypeVideo && s.remote.feed == nil && m.feeds != nil {
		s.remote.feed = m.feeds(t)
	}
	s.remote.mu.Unlock()
	log.Info().Str("module", "peer").Str("peer", string(s.peer)).Str("kind", t.Kind().String()).Msg("remote track")

	m.mu.RLock()
	cb := m.onTrack
	m.mu.RUnlock()
	if cb != nil {
		cb(s.peer, t)
	}
}

// Initiate sends an offer to p. Only a session in New initiates.
func (m *Manager) Initiate(p domain.Participant) error {
	s, err := m.Ensure(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNew {
		return opErr("initiate", s.peer, ErrWrongState)
	}
	return m.offer(s)
}

// offer runs create offer, set local, send. Caller holds s.mu.
func (m *Manager) offer(s *Session) error {
	offer, err := s.conn.CreateOffer()
	if err != nil {
		return opErr("create offer", s.peer, err)
	}
	if s.closed.Load() {
		return opErr("create offer", s.peer, ErrSessionClosed)
	}
	if err := s.conn.SetLocalDescription(offer); err != nil {
		return opErr("set local offer", s.peer, err)
	}
	if s.closed.Load() {
		return opErr("set local offer", s.peer, ErrSessionClosed)
	}
	s.state = StateHaveLocalOffer
	return m.send.Send(core.EventSignalOffer, core.OfferPayload{
		Addressing: core.Addressing{TargetConnectionID: s.peer},
		Offer:      offer,
	})
}

// HandleOffer answers a remote offer. A pending local offer is always
// rolled back in favor of the incoming one.
func (m *Manager) HandleOffer(from domain.ConnectionID, userID domain.UserID, name string, offer webrtc.SessionDescription) error {
	s, err := m.Ensure(domain.Participant{ConnectionID: from, UserID: userID, DisplayName: name})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return opErr("offer", from, ErrSessionClosed)
	}

	if s.state == StateHaveLocalOffer {
		log.Debug().Str("module", "peer").Str("peer", string(from)).Msg("glare, rolling back local offer")
		if err := s.conn.Rollback(); err != nil {
			log.Debug().Err(err).Str("module", "peer").Str("peer", string(from)).Msg("rollback refused, replacing connection")
			if err := m.replaceConn(s); err != nil {
				return opErr("replace connection", from, err)
			}
		}
		s.state = StateNew
	}

	if err := s.conn.SetRemoteDescription(offer); err != nil {
		return opErr("set remote offer", from, err)
	}
	if s.closed.Load() {
		return opErr("set remote offer", from, ErrSessionClosed)
	}
	s.state = StateHaveRemoteOffer
	for _, e := range s.flushICE() {
		m.logStep(e)
	}

	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return opErr("create answer", from, err)
	}
	if s.closed.Load() {
		return opErr("create answer", from, ErrSessionClosed)
	}
	if err := s.conn.SetLocalDescription(answer); err != nil {
		return opErr("set local answer", from, err)
	}
	if s.closed.Load() {
		return opErr("set local answer", from, ErrSessionClosed)
	}
	s.state = StateStable
	return m.send.Send(core.EventSignalAnswer, core.AnswerPayload{
		Addressing: core.Addressing{TargetConnectionID: from},
		Answer:     answer,
	})
}

// replaceConn swaps in a fresh connection. Caller holds s.mu.
func (m *Manager) replaceConn(s *Session) error {
	conn, err := m.openConn(s)
	if err != nil {
		return err
	}
	old := s.conn
	s.conn = conn
	s.remote.mu.Lock()
	s.remote.feed = nil
	s.remote.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// HandleAnswer applies an answer to our pending offer. Answers in any
// other state are stale and ignored.
func (m *Manager) HandleAnswer(from domain.ConnectionID, answer webrtc.SessionDescription) error {
	s, ok := m.Session(from)
	if !ok {
		return opErr("answer", from, ErrUnknownPeer)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return opErr("answer", from, ErrSessionClosed)
	}
	if s.state != StateHaveLocalOffer {
		return opErr("answer", from, ErrWrongState)
	}
	if err := s.conn.SetRemoteDescription(answer); err != nil {
		return opErr("set remote answer", from, err)
	}
	if s.closed.Load() {
		return opErr("set remote answer", from, ErrSessionClosed)
	}
	s.state = StateStable
	for _, e := range s.flushICE() {
		m.logStep(e)
	}
	return nil
}

// HandleICE applies c once the remote description is set, buffers it
// before that. Candidates for a peer without a session wait in an orphan
// queue until the session is created, up to maxOrphanCandidates per peer
// and maxOrphanPeers peers.
func (m *Manager) HandleICE(from domain.ConnectionID, c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	s, ok := m.sessions[from]
	if !ok {
		defer m.mu.Unlock()
		if from == "" {
			return nil
		}
		queued, known := m.orphans[from]
		if (!known && len(m.orphans) >= maxOrphanPeers) || len(queued) >= maxOrphanCandidates {
			return opErr("ice", from, ErrOrphanLimit)
		}
		m.orphans[from] = append(queued, c)
		return nil
	}
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return opErr("ice", from, ErrSessionClosed)
	}
	if s.conn.RemoteDescription() == nil {
		s.pendingICE = append(s.pendingICE, c)
		return nil
	}
	if err := s.conn.AddICECandidate(c); err != nil {
		return opErr("add ice", from, err)
	}
	return nil
}

// ReplaceOrAddVideoTrack puts t on every connection. A connection with a
// video sender swaps it in place with no renegotiation; one without gets
// the track added and exactly one new offer.
func (m *Manager) ReplaceOrAddVideoTrack(t core.LocalTrack) error {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var errs []error
	for _, s := range sessions {
		if err := m.replaceOrAdd(s, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) replaceOrAdd(s *Session, t core.LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil
	}
	for _, sender := range s.conn.Senders() {
		if sender.Kind() == webrtc.RTPCodecTypeVideo {
			if err := sender.ReplaceTrack(t); err != nil {
				return opErr("replace track", s.peer, err)
			}
			return nil
		}
	}
	if _, err := s.conn.AddTrack(t); err != nil {
		return opErr("add track", s.peer, err)
	}
	return m.offer(s)
}

// Close tears down the session with peer and forgets any candidates
// still queued for it.
func (m *Manager) Close(peer domain.ConnectionID) {
	m.mu.Lock()
	s, ok := m.sessions[peer]
	delete(m.sessions, peer)
	delete(m.orphans, peer)
	m.mu.Unlock()
	if ok {
		s.close()
		log.Info().Str("module", "peer").Str("peer", string(peer)).Msg("session closed")
	}
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[domain.ConnectionID]*Session)
	m.orphans = make(map[domain.ConnectionID][]webrtc.ICECandidateInit)
	m.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
	if len(sessions) > 0 {
		log.Info().Str("module", "peer").Int("count", len(sessions)).Msg("all sessions closed")
	}
}
