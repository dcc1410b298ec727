// Package rtc adapts pion/webrtc to the core.PeerConnection surface.
package rtc

import (
	"errors"
	"io"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoTrackLocal = errors.New("local track has no pion binding")

type Connection struct {
	pc *webrtc.PeerConnection
}

var _ core.PeerConnection = (*Connection)(nil)

func newConnection(pc *webrtc.PeerConnection) *Connection {
	c := &Connection{pc: pc}
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("Peer state")
	})
	return c
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sd)
}

func (c *Connection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

func (c *Connection) RemoteDescription() *webrtc.SessionDescription {
	return c.pc.RemoteDescription()
}

// Rollback drops the pending local offer and returns to stable.
func (c *Connection) Rollback() error {
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) AddTrack(t core.LocalTrack) (core.RTPSender, error) {
	tl := t.TrackLocal()
	if tl == nil {
		return nil, ErrNoTrackLocal
	}
	s, err := c.pc.AddTrack(tl)
	if err != nil {
		return nil, err
	}
	go drainRTCP(s)
	return &sender{s: s}, nil
}

// drainRTCP keeps interceptors fed until the sender stops.
func drainRTCP(s *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) Senders() []core.RTPSender {
	ss := c.pc.GetSenders()
	out := make([]core.RTPSender, 0, len(ss))
	for _, s := range ss {
		out = append(out, &sender{s: s})
	}
	return out
}

func (c *Connection) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks end of gathering
		if cand != nil {
			f(cand.ToJSON())
		}
	})
}

func (c *Connection) OnTrack(f func(core.RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		f(&remoteTrack{t: track})
	})
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close error")
		return err
	}
	return nil
}

type sender struct {
	s *webrtc.RTPSender
}

func (s *sender) Kind() webrtc.RTPCodecType {
	if t := s.s.Track(); t != nil {
		return t.Kind()
	}
	return 0
}

func (s *sender) ReplaceTrack(t core.LocalTrack) error {
	if t == nil {
		return s.s.ReplaceTrack(nil)
	}
	tl := t.TrackLocal()
	if tl == nil {
		return ErrNoTrackLocal
	}
	return s.s.ReplaceTrack(tl)
}

type remoteTrack struct {
	t *webrtc.TrackRemote
}

func (r *remoteTrack) ID() string                { return r.t.ID() }
func (r *remoteTrack) StreamID() string          { return r.t.StreamID() }
func (r *remoteTrack) Kind() webrtc.RTPCodecType { return r.t.Kind() }
func (r *remoteTrack) MimeType() string          { return r.t.Codec().MimeType }

func (r *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	if err != nil && !errors.Is(err, io.EOF) {
		log.Debug().Err(err).Str("module", "rtc").Str("track_id", r.t.ID()).Msg("read rtp")
	}
	return pkt, err
}
