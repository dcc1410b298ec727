package call

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	hubhttp "github.com/dkeye/fleetcall/internal/adapters/http"
	"github.com/dkeye/fleetcall/internal/adapters/ws"
	"github.com/dkeye/fleetcall/internal/app"
	"github.com/dkeye/fleetcall/internal/app/capture"
	"github.com/dkeye/fleetcall/internal/app/media"
	"github.com/dkeye/fleetcall/internal/app/orch"
	"github.com/dkeye/fleetcall/internal/app/peer"
	"github.com/dkeye/fleetcall/internal/auth"
	"github.com/dkeye/fleetcall/internal/config"
	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

const room = domain.RoomKey("wo-4711")

type hub struct {
	url    string
	issuer *auth.Issuer
	orch   *orch.Orchestrator
}

func newHub(t *testing.T) *hub {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:             "test",
		ReadLimit:        65536,
		PingPeriod:       time.Minute,
		Secret:           "call-test-secret",
		JoinRateLimit:    20,
		JoinRateInterval: time.Second,
		TokenTTL:         time.Hour,
	}
	issuer, err := auth.NewIssuer(cfg.Secret, cfg.TokenTTL)
	if err != nil {
		t.Fatal(err)
	}
	o := orch.New(app.NewRegistry(), app.NewRoomManager(), app.KickPolicy{})
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(hubhttp.SetupRouter(ctx, cfg, o, issuer))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &hub{
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal",
		issuer: issuer,
		orch:   o,
	}
}

func (h *hub) token(t *testing.T, uid string) string {
	t.Helper()
	id, err := domain.NewIdentity(domain.UserID(uid), strings.ToUpper(uid))
	if err != nil {
		t.Fatal(err)
	}
	tok, err := h.issuer.Issue(id)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

type member struct {
	call    *Call
	devices *fakeDevices
	pcs     *pcs
	token   string
}

func (h *hub) member(t *testing.T, uid string) *member {
	t.Helper()
	m := &member{devices: &fakeDevices{}, pcs: &pcs{}, token: h.token(t, uid)}
	c, err := New(Deps{
		Devices:      m.devices,
		NewTransport: func() core.Transport { return ws.New(h.url) },
		NewConn:      m.pcs.New,
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	m.call = c
	t.Cleanup(func() { _ = c.Leave() })
	return m
}

func (m *member) join(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.call.Join(ctx, room, m.token); err != nil {
		t.Fatalf("join: %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// meshed reports whether every member holds a stable session with every
// other member.
func meshed(members ...*member) bool {
	for _, a := range members {
		for _, b := range members {
			if a == b {
				continue
			}
			self := b.call.Self()
			if self == "" || a.call.PeerState(self) != peer.StateStable {
				return false
			}
		}
	}
	return true
}

func TestThreePartyMesh(t *testing.T) {
	h := newHub(t)
	alice, bob, carol := h.member(t, "alice"), h.member(t, "bob"), h.member(t, "carol")

	alice.join(t)
	bob.join(t)
	carol.join(t)
	eventually(t, "full mesh", func() bool { return meshed(alice, bob, carol) })

	if n := len(alice.call.Participants()); n != 2 {
		t.Fatalf("alice sees %d participants", n)
	}
	if got := h.orch.RoomInfo(room); got.Count != 3 || !got.CallActive {
		t.Fatalf("hub room = %+v", got)
	}

	gone := carol.call.Self()
	if err := carol.call.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	eventually(t, "carol dropped", func() bool {
		return alice.call.PeerState(gone) == peer.StateClosed &&
			bob.call.PeerState(gone) == peer.StateClosed &&
			len(alice.call.Participants()) == 1
	})
	for _, tr := range carol.devices.tracks() {
		if !tr.isStopped() {
			t.Fatalf("carol's %s still running", tr.id)
		}
	}

	// a rejoin is a new participant with fresh sessions
	carol.join(t)
	if carol.call.Self() == gone {
		t.Fatal("rejoin reused connection id")
	}
	eventually(t, "mesh after rejoin", func() bool { return meshed(alice, bob, carol) })
}

func TestReconnectsAfterJoinContextEnds(t *testing.T) {
	h := newHub(t)
	alice, bob := h.member(t, "alice"), h.member(t, "bob")
	alice.join(t)
	bob.join(t)
	eventually(t, "initial mesh", func() bool { return meshed(alice, bob) })

	// join's context is already cancelled here; the transport must still redial.
	old := alice.call.Self()
	h.orch.KickBySID(old)

	eventually(t, "new connection id", func() bool {
		self := alice.call.Self()
		return self != "" && self != old
	})
	eventually(t, "mesh after reconnect", func() bool { return meshed(alice, bob) })
	if !alice.call.Joined() {
		t.Fatal("alice should still be joined")
	}
	if st := bob.call.PeerState(old); st != peer.StateClosed {
		t.Errorf("bob still holds the dropped session: %v", st)
	}
}

func TestJoinTwice(t *testing.T) {
	h := newHub(t)
	m := h.member(t, "dana")
	m.join(t)
	if err := m.call.Join(context.Background(), room, m.token); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("err = %v", err)
	}
}

func TestJoinWithoutDevices(t *testing.T) {
	h := newHub(t)
	m := h.member(t, "erin")
	m.devices.noCamera = true
	err := m.call.Join(context.Background(), room, m.token)
	if !errors.Is(err, media.ErrNoCaptureDevice) {
		t.Fatalf("err = %v", err)
	}
	if m.call.Joined() {
		t.Fatal("joined without media")
	}
}

func TestJoinUnreachableHubReleasesMedia(t *testing.T) {
	m := &member{devices: &fakeDevices{}, pcs: &pcs{}}
	c, err := New(Deps{
		Devices:      m.devices,
		NewTransport: func() core.Transport { return ws.New("ws://127.0.0.1:1/api/ws/signal") },
		NewConn:      m.pcs.New,
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Join(ctx, room, "tok"); err == nil {
		t.Fatal("join against closed port succeeded")
	}
	for _, tr := range m.devices.tracks() {
		if !tr.isStopped() {
			t.Fatalf("%s left running", tr.id)
		}
	}
	if c.Media() != nil {
		t.Fatal("media session kept")
	}
}

func TestDisplayEndedLeaves(t *testing.T) {
	h := newHub(t)
	m := h.member(t, "fay")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.call.JoinDisplay(ctx, room, m.token); err != nil {
		t.Fatal(err)
	}
	if !m.call.Media().ScreenSharing() {
		t.Fatal("not screen sharing")
	}
	var screen *fakeTrack
	for _, tr := range m.devices.tracks() {
		if tr.id == "screen" {
			screen = tr
		}
	}
	screen.end()
	eventually(t, "leave after display ended", func() bool { return !m.call.Joined() })
	eventually(t, "hub roster emptied", func() bool { return h.orch.RoomInfo(room).Count == 0 })
}

func TestToggleScreenShare(t *testing.T) {
	h := newHub(t)
	alice, bob := h.member(t, "alice"), h.member(t, "bob")
	alice.join(t)
	bob.join(t)
	eventually(t, "mesh", func() bool { return meshed(alice, bob) })

	ctx := context.Background()
	if err := alice.call.ToggleScreenShare(ctx); err != nil {
		t.Fatal(err)
	}
	s := alice.call.Media()
	if !s.ScreenSharing() || s.VideoTrack().ID() != "screen" || s.AudioTrack() == nil {
		t.Fatalf("stream after share: %v", s.Tracks())
	}
	for _, pc := range alice.pcs.list() {
		for _, snd := range pc.Senders() {
			if snd.Kind() == webrtc.RTPCodecTypeVideo && snd.(*fakeSender).current() != s.VideoTrack() {
				t.Fatal("sender not switched to display")
			}
		}
	}

	if err := alice.call.ToggleScreenShare(ctx); err != nil {
		t.Fatal(err)
	}
	if s.ScreenSharing() || s.VideoTrack().ID() != "cam" {
		t.Fatal("not back on camera")
	}
	if !meshed(alice, bob) {
		t.Fatal("mesh lost across screen share")
	}
}

func TestToggleScreenShareNotJoined(t *testing.T) {
	h := newHub(t)
	m := h.member(t, "gus")
	if err := m.call.ToggleScreenShare(context.Background()); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("err = %v", err)
	}
}

func TestCaptureLocal(t *testing.T) {
	h := newHub(t)
	m := h.member(t, "hal")
	if img, err := m.call.Capture(); img != nil || err != nil {
		t.Fatalf("capture before join: %v %v", img, err)
	}
	m.join(t)

	var got *capture.CapturedImage
	m.call.Context().OnCapture(func(img *capture.CapturedImage) { got = img })
	img, err := m.call.Capture()
	if err != nil || img == nil {
		t.Fatalf("capture: %v %v", img, err)
	}
	if got != img || img.Width != 64 || img.Height != 48 {
		t.Fatalf("callback got %v, image %dx%d", got, img.Width, img.Height)
	}

	// focused peer without a decoded feed falls back to local
	m.call.Context().Focus("someone")
	if img, _ := m.call.Capture(); img == nil {
		t.Fatal("no fallback to local")
	}
}

func TestToggles(t *testing.T) {
	h := newHub(t)
	m := h.member(t, "ivy")
	m.join(t)
	if m.call.ToggleVideo() || m.call.Media().VideoEnabled() {
		t.Fatal("video still on")
	}
	if m.call.ToggleAudio() || m.call.Media().AudioEnabled() {
		t.Fatal("audio still on")
	}
	if !m.call.ToggleAudio() {
		t.Fatal("audio not back on")
	}
}
