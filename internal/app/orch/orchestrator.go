package orch

import (
	"errors"
	"sync"

	"github.com/dkeye/fleetcall/internal/app"
	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrUnknownSession = errors.New("unknown session")

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy

	// mu serializes membership changes so a room is never stopped
	// while a join is adding to it.
	mu sync.Mutex
}

func New(reg *app.Registry, rooms core.RoomManager, policy app.Policy) *Orchestrator {
	return &Orchestrator{Registry: reg, Rooms: rooms, Policy: policy}
}

// Connect registers a fresh signaling session. It is not in any room yet.
func (o *Orchestrator) Connect(sess core.MemberSession, cancel func()) {
	o.Registry.BindSignal(sess, cancel)
}

// Disconnect leaves the current room, if any, and forgets the session.
// Safe to call more than once.
func (o *Orchestrator) Disconnect(id domain.ConnectionID) {
	o.Leave(id)
	o.Registry.Unbind(id)
	if f, ok := o.Policy.(interface{ Forget(domain.ConnectionID) }); ok {
		f.Forget(id)
	}
}

// broadcast sends to every room member except from and applies the
// backpressure policy to members whose queue is full.
func (o *Orchestrator) broadcast(room core.RoomService, from domain.ConnectionID, event string, payload any) {
	frame, err := core.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode")
		return
	}
	res := room.Broadcast(from, frame)
	o.applyPolicy(room, res.Dropped)
}

func (o *Orchestrator) applyPolicy(room core.RoomService, dropped []core.MemberSession) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			go o.KickBySID(slow.Meta().ConnectionID)
		case app.DropFrame:
			log.Warn().Str("module", "orch").Str("conn", string(slow.Meta().ConnectionID)).Msg("frame dropped")
		}
	}
}

func (o *Orchestrator) sendTo(sess core.MemberSession, event string, payload any) error {
	frame, err := core.Encode(event, payload)
	if err != nil {
		return err
	}
	return sess.Signal().TrySend(frame)
}

// publishCount pushes room:count to members and to watchers of the room.
func (o *Orchestrator) publishCount(key domain.RoomKey, count int) {
	payload := core.RoomCountPayload{Count: count}
	if room, ok := o.Rooms.Get(key); ok {
		o.broadcast(room, "", core.EventRoomCount, payload)
	}
	for _, w := range o.Registry.WatchersOf(key) {
		if err := o.sendTo(w.Session, core.EventRoomCount, payload); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("conn", string(w.ID)).Msg("watcher count dropped")
		}
	}
}
