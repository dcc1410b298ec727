// Package media owns the local capture stream: acquisition with a
// fallback ladder, cheap mute, camera/display swaps and release.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoCaptureDevice  = errors.New("no capture device available")
	ErrAlreadyAcquired  = errors.New("local media already acquired")
	ErrNotAcquired      = errors.New("local media not acquired")
	ErrDisplayCancelled = errors.New("display capture cancelled")
)

type Constraints struct {
	Video   core.VideoConstraints
	Audio   core.AudioConstraints
	Display core.DisplayConstraints
}

type Controller struct {
	devices core.MediaDevices
	cons    Constraints

	mu             sync.Mutex
	session        *Session
	onDisplayEnded func()
}

func NewController(devices core.MediaDevices, cons Constraints) *Controller {
	return &Controller{devices: devices, cons: cons}
}

// OnDisplayEnded sets the callback for a display track that terminated
// on its own while it was the stream's video.
func (c *Controller) OnDisplayEnded(f func()) {
	c.mu.Lock()
	c.onDisplayEnded = f
	c.mu.Unlock()
}

// Acquire opens camera and microphone, falling back to camera only and
// then microphone only. ErrNoCaptureDevice when every rung fails.
func (c *Controller) Acquire(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil, ErrAlreadyAcquired
	}

	video, audio := c.cons.Video, c.cons.Audio
	ladder := []core.MediaConstraints{
		{Video: &video, Audio: &audio},
		{Video: &video},
		{Audio: &audio},
	}
	var lastErr error
	for i, rung := range ladder {
		tracks, err := c.devices.GetUserMedia(ctx, rung)
		if err == nil && len(tracks) > 0 {
			c.session = newSession(tracks)
			log.Info().Str("module", "media").Int("rung", i).Bool("video", c.session.video != nil).Bool("audio", c.session.audio != nil).Msg("local media acquired")
			return c.session, nil
		}
		if err == nil {
			err = errors.New("no tracks returned")
		}
		lastErr = err
		log.Debug().Err(err).Str("module", "media").Int("rung", i).Msg("capture attempt failed")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoCaptureDevice, lastErr)
}

// AcquireDisplay joins with a display capture plus, when available, a
// separate microphone.
func (c *Controller) AcquireDisplay(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyAcquired
	}

	display, err := c.openDisplay(ctx)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	tracks := []core.LocalTrack{display}

	audio := c.cons.Audio
	if mic, err := c.devices.GetUserMedia(ctx, core.MediaConstraints{Audio: &audio}); err != nil {
		log.Debug().Err(err).Str("module", "media").Msg("no microphone for display join")
	} else {
		tracks = append(tracks, mic...)
	}

	session := newSession(tracks)
	session.screenSharing = true
	c.session = session
	c.mu.Unlock()

	c.watchDisplay(session, display)
	log.Info().Str("module", "media").Bool("audio", session.AudioTrack() != nil).Msg("display media acquired")
	return session, nil
}

func (c *Controller) openDisplay(ctx context.Context) (core.LocalTrack, error) {
	tracks, err := c.devices.GetDisplayMedia(ctx, c.cons.Display)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisplayCancelled, err)
	}
	var display core.LocalTrack
	for _, t := range tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo && display == nil {
			display = t
			continue
		}
		t.Stop()
	}
	if display == nil {
		return nil, fmt.Errorf("%w: no video track", ErrDisplayCancelled)
	}
	return display, nil
}

// watchDisplay fires onDisplayEnded only while t is still the live video
// of session. Must be called without mu held.
func (c *Controller) watchDisplay(session *Session, t core.LocalTrack) {
	t.OnEnded(func() {
		c.mu.Lock()
		current := c.session == session && session.VideoTrack() == t
		cb := c.onDisplayEnded
		c.mu.Unlock()
		if !current {
			return
		}
		log.Info().Str("module", "media").Msg("display capture ended")
		if cb != nil {
			cb()
		}
	})
}

// OpenDisplay captures a display track for a mid-call switch. It is not
// part of the stream until SwapVideo.
func (c *Controller) OpenDisplay(ctx context.Context) (core.LocalTrack, error) {
	if c.Session() == nil {
		return nil, ErrNotAcquired
	}
	return c.openDisplay(ctx)
}

// OpenCamera captures a camera video track for switching back from a
// display capture. It is not part of the stream until SwapVideo.
func (c *Controller) OpenCamera(ctx context.Context) (core.LocalTrack, error) {
	if c.Session() == nil {
		return nil, ErrNotAcquired
	}
	video := c.cons.Video
	tracks, err := c.devices.GetUserMedia(ctx, core.MediaConstraints{Video: &video})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCaptureDevice, err)
	}
	var cam core.LocalTrack
	for _, t := range tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo && cam == nil {
			cam = t
			continue
		}
		t.Stop()
	}
	if cam == nil {
		return nil, ErrNoCaptureDevice
	}
	return cam, nil
}

// SwapVideo installs t as the stream's video track and stops the one it
// replaces. screen marks t as a display capture.
func (c *Controller) SwapVideo(t core.LocalTrack, screen bool) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		t.Stop()
		return ErrNotAcquired
	}
	s.mu.Lock()
	old := s.video
	s.video = t
	s.screenSharing = screen
	s.mu.Unlock()
	if old != nil && old != t {
		old.Stop()
	}
	if screen {
		c.watchDisplay(s, t)
	}
	log.Info().Str("module", "media").Bool("screen", screen).Msg("video swapped")
	return nil
}

func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Tracks is the current local stream, empty when nothing is acquired.
func (c *Controller) Tracks() []core.LocalTrack {
	if s := c.Session(); s != nil {
		return s.Tracks()
	}
	return nil
}

// ToggleVideo flips the video track's enabled flag and returns the new
// value. No-op returning false without a video track.
func (c *Controller) ToggleVideo() bool {
	s := c.Session()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return toggle(s.video)
}

func (c *Controller) ToggleAudio() bool {
	s := c.Session()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return toggle(s.audio)
}

// Release stops every owned track. Safe to call more than once.
func (c *Controller) Release() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	tracks := []core.LocalTrack{s.video, s.audio}
	s.released = true
	s.mu.Unlock()
	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
	log.Info().Str("module", "media").Msg("local media released")
}
