// Package call ties the transport, membership, peer sessions, local
// media and frame capture into one joinable call.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/fleetcall/internal/app/capture"
	"github.com/dkeye/fleetcall/internal/app/media"
	"github.com/dkeye/fleetcall/internal/app/membership"
	"github.com/dkeye/fleetcall/internal/app/peer"
	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyJoined = errors.New("call already joined")
	ErrNotJoined     = errors.New("call not joined")
)

// Deps are the platform pieces a call runs on.
type Deps struct {
	Devices core.MediaDevices
	// NewTransport returns an unconnected transport; one per join.
	NewTransport func() core.Transport
	NewConn      peer.ConnFactory
	Feeds        peer.FeedFactory
}

type Options struct {
	Constraints media.Constraints
	Capture     capture.Options
}

// live is everything that exists only between join and leave.
type live struct {
	room      domain.RoomKey
	transport core.Transport
	peers     *peer.Manager
	tracker   *membership.Tracker
}

type Call struct {
	deps    Deps
	ctx     *SessionContext
	media   *media.Controller
	capture *capture.Service

	mu     sync.Mutex
	active *live
}

func New(deps Deps, opts Options) (*Call, error) {
	if deps.Devices == nil || deps.NewTransport == nil || deps.NewConn == nil {
		return nil, errors.New("call: missing dependency")
	}
	c := &Call{
		deps:  deps,
		ctx:   &SessionContext{},
		media: media.NewController(deps.Devices, opts.Constraints),
	}
	svc, err := capture.NewService(c, c, c.ctx, opts.Capture)
	if err != nil {
		return nil, err
	}
	c.capture = svc
	c.media.OnDisplayEnded(func() {
		// off the track's goroutine; Leave stops that track
		go func() {
			if err := c.Leave(); err != nil && !errors.Is(err, ErrNotJoined) {
				log.Warn().Err(err).Str("module", "call").Msg("leave after display ended")
			}
		}()
	})
	return c, nil
}

func (c *Call) Context() *SessionContext { return c.ctx }

// Media is the local stream, nil when not joined.
func (c *Call) Media() *media.Session { return c.media.Session() }

// Join acquires camera and microphone and enters room. When no device
// can be opened it returns media.ErrNoCaptureDevice and the host may
// offer JoinDisplay instead.
func (c *Call) Join(ctx context.Context, room domain.RoomKey, token string) error {
	return c.join(ctx, room, token, c.media.Acquire)
}

// JoinDisplay enters room sharing a display capture.
func (c *Call) JoinDisplay(ctx context.Context, room domain.RoomKey, token string) error {
	return c.join(ctx, room, token, c.media.AcquireDisplay)
}

func (c *Call) join(ctx context.Context, room domain.RoomKey, token string, acquire func(context.Context) (*media.Session, error)) error {
	if err := room.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return ErrAlreadyJoined
	}

	if _, err := acquire(ctx); err != nil {
		return err
	}

	l, err := c.connect(ctx, room, token)
	if err != nil {
		c.media.Release()
		return err
	}
	c.active = l
	log.Info().Str("module", "call").Str("room", string(room)).Msg("joined")
	return nil
}

func (c *Call) connect(ctx context.Context, room domain.RoomKey, token string) (*live, error) {
	t := c.deps.NewTransport()
	mgr := peer.NewManager(t, c.deps.NewConn, c.media, c.deps.Feeds)
	mgr.Register(t)
	tr := membership.New(t, mgr)
	tr.OnPeerLeft(c.ctx.unfocus)

	connected := make(chan struct{})
	var once sync.Once
	t.On(core.EventConnected, func(json.RawMessage) { once.Do(func() { close(connected) }) })

	if err := t.Connect(ctx, room, token); err != nil {
		t.Disconnect()
		return nil, fmt.Errorf("connect: %w", err)
	}
	select {
	case <-connected:
	case <-ctx.Done():
		t.Disconnect()
		return nil, ctx.Err()
	}
	if err := tr.Join(room); err != nil {
		t.Disconnect()
		return nil, fmt.Errorf("announce: %w", err)
	}
	return &live{room: room, transport: t, peers: mgr, tracker: tr}, nil
}

// Leave closes every peer session, tells the hub, disconnects and
// releases local media. Safe to call more than once.
func (c *Call) Leave() error {
	c.mu.Lock()
	l := c.active
	c.active = nil
	c.mu.Unlock()
	if l == nil {
		return ErrNotJoined
	}

	err := l.tracker.Leave(l.room)
	l.transport.Disconnect()
	c.media.Release()
	c.ctx.unfocus("")
	log.Info().Str("module", "call").Str("room", string(l.room)).Msg("left")
	return err
}

func (c *Call) current() *live {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Call) Joined() bool { return c.current() != nil }

func (c *Call) ToggleVideo() bool { return c.media.ToggleVideo() }

func (c *Call) ToggleAudio() bool { return c.media.ToggleAudio() }

// ToggleScreenShare swaps the outgoing video between camera and display
// capture on every connection.
func (c *Call) ToggleScreenShare(ctx context.Context) error {
	l := c.current()
	s := c.media.Session()
	if l == nil || s == nil {
		return ErrNotJoined
	}

	sharing := s.ScreenSharing()
	var (
		next core.LocalTrack
		err  error
	)
	if sharing {
		next, err = c.media.OpenCamera(ctx)
	} else {
		next, err = c.media.OpenDisplay(ctx)
	}
	if err != nil {
		return err
	}

	if err := l.peers.ReplaceOrAddVideoTrack(next); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("video swap incomplete on some peers")
	}
	return c.media.SwapVideo(next, !sharing)
}

// Capture grabs a frame of the focused peer, or of local video when
// nothing is focused, and hands it to the context's capture callback.
func (c *Call) Capture() (*capture.CapturedImage, error) {
	target := capture.TargetLocal
	if peer := c.ctx.FocusedPeer(); peer != "" {
		target = string(peer)
	}
	img, err := c.capture.CaptureFrom(target)
	if err != nil || img == nil {
		return img, err
	}
	if cb := c.ctx.captureCallback(); cb != nil {
		cb(img)
	}
	return img, nil
}

func (c *Call) CaptureFrom(target string) (*capture.CapturedImage, error) {
	return c.capture.CaptureFrom(target)
}

// Feed is the decoded video of a remote peer.
func (c *Call) Feed(peer domain.ConnectionID) core.FrameSource {
	if l := c.current(); l != nil {
		return l.peers.Feed(peer)
	}
	return nil
}

// LocalFeeds are the local video tracks that decode their own frames.
func (c *Call) LocalFeeds() []core.FrameSource {
	var out []core.FrameSource
	for _, t := range c.media.Tracks() {
		if t.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		if fs, ok := t.(core.FrameSource); ok {
			out = append(out, fs)
		}
	}
	return out
}

// Participants are the other members of the room.
func (c *Call) Participants() []domain.Participant {
	if l := c.current(); l != nil {
		return l.tracker.Participants()
	}
	return nil
}

func (c *Call) Room() domain.Room {
	if l := c.current(); l != nil {
		return l.tracker.Room()
	}
	return domain.Room{}
}

func (c *Call) Self() domain.ConnectionID {
	if l := c.current(); l != nil {
		return l.tracker.Self()
	}
	return ""
}

// PeerState reports the negotiation state with a peer; Closed when
// there is no session.
func (c *Call) PeerState(id domain.ConnectionID) peer.State {
	if l := c.current(); l != nil {
		if s, ok := l.peers.Session(id); ok {
			return s.State()
		}
	}
	return peer.StateClosed
}
