package signal

import (
	"sync"
	"time"

	"github.com/dkeye/fleetcall/internal/domain"
)

// RoomRateLimiter caps room joins per user within a sliding window.
// Users idle for a whole window are swept so the map does not grow
// with every user ever seen.
type RoomRateLimiter struct {
	mu       sync.Mutex
	joins    map[domain.UserID][]time.Time
	limit    int
	window   time.Duration
	nextScan time.Time
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, window time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		joins:  make(map[domain.UserID][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a join attempt by uid and reports whether it is within
// the limit. Denied attempts are not recorded.
func (rl *RoomRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	if now.After(rl.nextScan) {
		rl.sweep(cutoff)
		rl.nextScan = now.Add(rl.window)
	}

	recent := trim(rl.joins[uid], cutoff)
	if len(recent) >= rl.limit {
		rl.joins[uid] = recent
		return false
	}
	rl.joins[uid] = append(recent, now)
	return true
}

// Tracked is the number of users with attempts on record.
func (rl *RoomRateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.joins)
}

func (rl *RoomRateLimiter) sweep(cutoff time.Time) {
	for uid, ts := range rl.joins {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(rl.joins, uid)
		}
	}
}

// trim drops attempts at or before cutoff. ts is ascending.
func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
