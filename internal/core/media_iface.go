package core

import (
	"context"
	"image"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the capability surface the session manager needs from a
// WebRTC stack. The adapter owns the underlying connection.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// RemoteDescription is nil until a remote offer or answer was applied.
	RemoteDescription() *webrtc.SessionDescription
	// Rollback vacates a pending local offer.
	Rollback() error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(LocalTrack) (RTPSender, error)
	Senders() []RTPSender
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked once per arriving remote track.
	OnTrack(func(RemoteTrack))
	Close() error
}

// RTPSender is one outgoing slot on a connection.
type RTPSender interface {
	// Kind of the track currently attached; zero when none.
	Kind() webrtc.RTPCodecType
	ReplaceTrack(LocalTrack) error
}

// LocalTrack is a captured track owned by the media controller.
// Peer connections attach it by reference and never stop it.
type LocalTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	// SetEnabled mutes without renegotiation.
	SetEnabled(bool)
	Stop()
	// OnEnded fires once when the track terminates on its own
	// (device unplugged, user stopped a display capture).
	OnEnded(func())
	// TrackLocal is what gets bound to a pion connection. May be nil in tests.
	TrackLocal() webrtc.TrackLocal
}

// RemoteTrack is a track received from a peer.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	MimeType() string
	ReadRTP() (*rtp.Packet, error)
}

// FrameSource is any feed that decodes video. LatestFrame returns nil until
// at least one frame was decoded.
type FrameSource interface {
	LatestFrame() image.Image
}

type IntRange struct {
	Min   int `mapstructure:"min"`
	Ideal int `mapstructure:"ideal"`
	Max   int `mapstructure:"max"`
}

type FloatRange struct {
	Min   float32 `mapstructure:"min"`
	Ideal float32 `mapstructure:"ideal"`
	Max   float32 `mapstructure:"max"`
}

type VideoConstraints struct {
	Width     IntRange   `mapstructure:"width"`
	Height    IntRange   `mapstructure:"height"`
	FrameRate FloatRange `mapstructure:"frame_rate"`
}

type AudioConstraints struct {
	EchoCancellation bool `mapstructure:"echo_cancellation"`
	NoiseSuppression bool `mapstructure:"noise_suppression"`
	AutoGainControl  bool `mapstructure:"auto_gain_control"`
}

// MediaConstraints selects which kinds to capture. A nil field means "do not capture".
type MediaConstraints struct {
	Video *VideoConstraints
	Audio *AudioConstraints
}

type DisplayConstraints struct {
	FrameRate FloatRange `mapstructure:"frame_rate"`
}

// MediaDevices opens capture hardware. Either call fails as a unit.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c MediaConstraints) ([]LocalTrack, error)
	GetDisplayMedia(ctx context.Context, c DisplayConstraints) ([]LocalTrack, error)
}
