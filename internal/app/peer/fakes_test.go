package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type sent struct {
	event   string
	payload any
}

type fakeTransport struct {
	mu       sync.Mutex
	sent     []sent
	handlers map[string][]core.Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]core.Handler)}
}

func (f *fakeTransport) Connect(context.Context, domain.RoomKey, string) error { return nil }
func (f *fakeTransport) Disconnect()                                          {}

func (f *fakeTransport) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{event, payload})
	return nil
}

func (f *fakeTransport) On(event string, h core.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
}

func (f *fakeTransport) deliver(event string, payload any) {
	raw, _ := json.Marshal(payload)
	f.mu.Lock()
	hs := append([]core.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(raw)
	}
}

func (f *fakeTransport) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.event == event {
			n++
		}
	}
	return n
}

func (f *fakeTransport) sentOf(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, s := range f.sent {
		if s.event == event {
			out = append(out, s.payload)
		}
	}
	return out
}

type fakeSender struct {
	mu       sync.Mutex
	track    core.LocalTrack
	replaced int
}

func (s *fakeSender) Kind() webrtc.RTPCodecType {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return 0
	}
	return s.track.Kind()
}

func (s *fakeSender) ReplaceTrack(t core.LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	s.replaced++
	return nil
}

// fakePC records every call. Hooks run inside the named step.
type fakePC struct {
	mu      sync.Mutex
	id      int
	calls   []string
	local   *webrtc.SessionDescription
	remote  *webrtc.SessionDescription
	applied []string
	senders []*fakeSender
	closed  bool
	offers  int
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)

	rollbackErr    error
	iceErr         func(webrtc.ICECandidateInit) error
	onCreateAnswer func()
}

func (p *fakePC) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.offers++
	n := p.offers
	p.calls = append(p.calls, "create-offer")
	p.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", p.id, n)}, nil
}

func (p *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	p.record("create-answer")
	if p.onCreateAnswer != nil {
		p.onCreateAnswer()
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.id)}, nil
}

func (p *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "set-local-"+d.Type.String())
	p.local = &d
	return nil
}

func (p *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "set-remote-"+d.Type.String())
	p.remote = &d
	return nil
}

func (p *fakePC) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePC) Rollback() error {
	p.record("rollback")
	if p.rollbackErr != nil {
		return p.rollbackErr
	}
	p.mu.Lock()
	p.local = nil
	p.mu.Unlock()
	return nil
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	if p.iceErr != nil {
		if err := p.iceErr(c); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, c.Candidate)
	return nil
}

func (p *fakePC) AddTrack(t core.LocalTrack) (core.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{track: t}
	p.senders = append(p.senders, s)
	p.calls = append(p.calls, "add-track-"+t.Kind().String())
	return s, nil
}

func (p *fakePC) Senders() []core.RTPSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.RTPSender, 0, len(p.senders))
	for _, s := range p.senders {
		out = append(out, s)
	}
	return out
}

func (p *fakePC) OnICECandidate(f func(webrtc.ICECandidateInit)) { p.onICE = f }
func (p *fakePC) OnTrack(f func(core.RemoteTrack))               { p.onTrack = f }

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePC) appliedICE() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

func (p *fakePC) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePC) called(call string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

type pcFactory struct {
	mu    sync.Mutex
	made  []*fakePC
	setup func(*fakePC)
	err   error
}

func (f *pcFactory) New() (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pc := &fakePC{id: len(f.made) + 1}
	if f.setup != nil {
		f.setup(pc)
	}
	f.made = append(f.made, pc)
	return pc, nil
}

func (f *pcFactory) last() *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[len(f.made)-1]
}

func (f *pcFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

type fakeTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	enabled bool
}

func (t *fakeTrack) ID() string                    { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType     { return t.kind }
func (t *fakeTrack) Enabled() bool                 { return t.enabled }
func (t *fakeTrack) SetEnabled(v bool)             { t.enabled = v }
func (t *fakeTrack) Stop()                         {}
func (t *fakeTrack) OnEnded(func())                {}
func (t *fakeTrack) TrackLocal() webrtc.TrackLocal { return nil }

type trackList []core.LocalTrack

func (l trackList) Tracks() []core.LocalTrack { return l }

type fakeRemote struct {
	id   string
	kind webrtc.RTPCodecType
}

func (r *fakeRemote) ID() string                { return r.id }
func (r *fakeRemote) StreamID() string          { return "stream-" + r.id }
func (r *fakeRemote) Kind() webrtc.RTPCodecType { return r.kind }
func (r *fakeRemote) MimeType() string          { return webrtc.MimeTypeVP8 }
func (r *fakeRemote) ReadRTP() (*rtp.Packet, error) {
	return nil, errors.New("eof")
}

type staticFeed struct{}

func (staticFeed) LatestFrame() image.Image { return nil }
