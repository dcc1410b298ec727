package media

import (
	"sync"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/pion/webrtc/v4"
)

// Session is the local stream of one call. Peer connections share its
// tracks by reference; only the Controller stops them.
type Session struct {
	mu            sync.RWMutex
	video         core.LocalTrack
	audio         core.LocalTrack
	screenSharing bool
	released      bool
}

func newSession(tracks []core.LocalTrack) *Session {
	s := &Session{}
	for _, t := range tracks {
		switch t.Kind() {
		case webrtc.RTPCodecTypeVideo:
			if s.video == nil {
				s.video = t
				continue
			}
		case webrtc.RTPCodecTypeAudio:
			if s.audio == nil {
				s.audio = t
				continue
			}
		}
		// one track per kind
		t.Stop()
	}
	return s
}

// Tracks returns video first, then audio.
func (s *Session) Tracks() []core.LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.LocalTrack, 0, 2)
	if s.video != nil {
		out = append(out, s.video)
	}
	if s.audio != nil {
		out = append(out, s.audio)
	}
	return out
}

func (s *Session) VideoTrack() core.LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

func (s *Session) AudioTrack() core.LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

func (s *Session) VideoEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video != nil && s.video.Enabled()
}

func (s *Session) AudioEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio != nil && s.audio.Enabled()
}

func (s *Session) ScreenSharing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.screenSharing
}

func (s *Session) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}

func toggle(t core.LocalTrack) bool {
	if t == nil {
		return false
	}
	t.SetEnabled(!t.Enabled())
	return t.Enabled()
}
