package app

import (
	"fmt"
	"sync"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
)

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose outbound queue is full.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// KickPolicy disconnects on the first overflow. The client reconnects
// and gets a fresh roster.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return KickMember
}

// DropPolicy loses the frame and keeps the member.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return DropFrame
}

// StrikePolicy drops frames until a member overflowed Max times, then kicks.
type StrikePolicy struct {
	Max int

	mu      sync.Mutex
	strikes map[domain.ConnectionID]int
}

func NewStrikePolicy(max int) *StrikePolicy {
	return &StrikePolicy{Max: max, strikes: make(map[domain.ConnectionID]int)}
}

func (p *StrikePolicy) OnBackPressure(_ core.RoomService, member core.MemberSession) BackpressureAction {
	id := member.Meta().ConnectionID
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strikes[id]++
	if p.strikes[id] >= p.Max {
		delete(p.strikes, id)
		return KickMember
	}
	return DropFrame
}

// Forget clears the count of a connection that went away.
func (p *StrikePolicy) Forget(id domain.ConnectionID) {
	p.mu.Lock()
	delete(p.strikes, id)
	p.mu.Unlock()
}

// PolicyByName maps the backpressure config value to a Policy.
func PolicyByName(name string, strikes int) (Policy, error) {
	switch name {
	case "", "kick":
		return KickPolicy{}, nil
	case "drop":
		return DropPolicy{}, nil
	case "strike":
		if strikes < 1 {
			return nil, fmt.Errorf("strike policy needs a positive limit, got %d", strikes)
		}
		return NewStrikePolicy(strikes), nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
