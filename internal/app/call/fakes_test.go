package call

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/pion/webrtc/v4"
)

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    webrtc.RTPCodecType
	enabled bool
	stopped bool
	ended   func()
	frame   image.Image
}

func (t *fakeTrack) ID() string                    { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType     { return t.kind }
func (t *fakeTrack) TrackLocal() webrtc.TrackLocal { return nil }
func (t *fakeTrack) LatestFrame() image.Image      { return t.frame }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTrack) OnEnded(f func()) {
	t.mu.Lock()
	t.ended = f
	t.mu.Unlock()
}

func (t *fakeTrack) end() {
	t.mu.Lock()
	f := t.ended
	t.mu.Unlock()
	if f != nil {
		f()
	}
}

func frame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Gray{Y: 128})
		}
	}
	return img
}

type fakeDevices struct {
	mu       sync.Mutex
	noCamera bool
	opened   []*fakeTrack
}

func (d *fakeDevices) open(id string, kind webrtc.RTPCodecType) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind, enabled: true}
	if kind == webrtc.RTPCodecTypeVideo {
		t.frame = frame(64, 48)
	}
	d.mu.Lock()
	d.opened = append(d.opened, t)
	d.mu.Unlock()
	return t
}

func (d *fakeDevices) GetUserMedia(_ context.Context, c core.MediaConstraints) ([]core.LocalTrack, error) {
	if d.noCamera {
		return nil, errors.New("NotFoundError")
	}
	var out []core.LocalTrack
	if c.Video != nil {
		out = append(out, d.open("cam", webrtc.RTPCodecTypeVideo))
	}
	if c.Audio != nil {
		out = append(out, d.open("mic", webrtc.RTPCodecTypeAudio))
	}
	return out, nil
}

func (d *fakeDevices) GetDisplayMedia(context.Context, core.DisplayConstraints) ([]core.LocalTrack, error) {
	return []core.LocalTrack{d.open("screen", webrtc.RTPCodecTypeVideo)}, nil
}

func (d *fakeDevices) tracks() []*fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTrack(nil), d.opened...)
}

type fakeSender struct {
	mu    sync.Mutex
	track core.LocalTrack
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
	s.track = t
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) current() core.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// fakePC negotiates with itself: any offer is answerable, nothing flows.
type fakePC struct {
	mu      sync.Mutex
	local   *webrtc.SessionDescription
	remote  *webrtc.SessionDescription
	senders []*fakeSender
	closed  bool
}

func (p *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil || p.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePC) SetLocalDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	p.local = &sd
	p.mu.Unlock()
	return nil
}

func (p *fakePC) SetRemoteDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	p.remote = &sd
	p.mu.Unlock()
	return nil
}

func (p *fakePC) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePC) Rollback() error {
	p.mu.Lock()
	p.local = nil
	p.mu.Unlock()
	return nil
}

func (p *fakePC) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (p *fakePC) AddTrack(t core.LocalTrack) (core.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{track: t}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePC) Senders() []core.RTPSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.RTPSender, len(p.senders))
	for i, s := range p.senders {
		out[i] = s
	}
	return out
}

func (p *fakePC) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (p *fakePC) OnTrack(func(core.RemoteTrack))               {}

func (p *fakePC) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

type pcs struct {
	mu  sync.Mutex
	all []*fakePC
}

func (f *pcs) New() (core.PeerConnection, error) {
	pc := &fakePC{}
	f.mu.Lock()
	f.all = append(f.all, pc)
	f.mu.Unlock()
	return pc, nil
}

func (f *pcs) list() []*fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePC(nil), f.all...)
}
