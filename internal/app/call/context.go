package call

import (
	"sync"

	"github.com/dkeye/fleetcall/internal/app/capture"
	"github.com/dkeye/fleetcall/internal/domain"
)

// SessionContext is host-facing state of the current call: which peer
// is shown as the primary stream and where captured frames go.
type SessionContext struct {
	mu        sync.RWMutex
	focused   domain.ConnectionID
	onCapture func(*capture.CapturedImage)
}

// Focus makes peer the primary stream. Empty means local.
func (s *SessionContext) Focus(peer domain.ConnectionID) {
	s.mu.Lock()
	s.focused = peer
	s.mu.Unlock()
}

func (s *SessionContext) FocusedPeer() domain.ConnectionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focused
}

// OnCapture sets where Capture delivers images.
func (s *SessionContext) OnCapture(f func(*capture.CapturedImage)) {
	s.mu.Lock()
	s.onCapture = f
	s.mu.Unlock()
}

func (s *SessionContext) captureCallback() func(*capture.CapturedImage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onCapture
}

func (s *SessionContext) unfocus(peer domain.ConnectionID) {
	s.mu.Lock()
	if peer == "" || s.focused == peer {
		s.focused = ""
	}
	s.mu.Unlock()
}
