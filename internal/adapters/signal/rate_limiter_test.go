package signal

import (
	"testing"
	"time"

	"github.com/dkeye/fleetcall/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimiterWindow(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	rl := NewRoomRateLimiter(2, 10*time.Second)
	rl.now = c.now

	if !rl.Allow("u") || !rl.Allow("u") {
		t.Fatal("first two joins denied")
	}
	if rl.Allow("u") {
		t.Fatal("third join in window allowed")
	}
	if !rl.Allow("other") {
		t.Fatal("limit shared across users")
	}

	c.advance(10 * time.Second)
	if !rl.Allow("u") {
		t.Fatal("join after window denied")
	}
}

func TestRateLimiterDeniedNotRecorded(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	rl := NewRoomRateLimiter(1, 10*time.Second)
	rl.now = c.now

	rl.Allow("u")
	c.advance(5 * time.Second)
	if rl.Allow("u") {
		t.Fatal("second join allowed")
	}
	// the denied attempt at +5s must not extend the block
	c.advance(5 * time.Second)
	if !rl.Allow("u") {
		t.Fatal("denied attempt extended the window")
	}
}

func TestRateLimiterSweep(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	rl := NewRoomRateLimiter(5, time.Second)
	rl.now = c.now

	for _, u := range []string{"a", "b", "c"} {
		rl.Allow(domain.UserID(u))
	}
	if rl.Tracked() != 3 {
		t.Fatalf("tracked = %d", rl.Tracked())
	}
	c.advance(3 * time.Second)
	rl.Allow("d")
	if rl.Tracked() != 1 {
		t.Fatalf("tracked after sweep = %d, want 1", rl.Tracked())
	}
}
