package orch

import (
	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join moves the session into room key. The joiner receives room:state
// before existing members see peer:joined, so any offer they send in
// response arrives after the snapshot.
func (o *Orchestrator) Join(id domain.ConnectionID, key domain.RoomKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.Registry.GetSession(id)
	if !ok {
		return ErrUnknownSession
	}
	if current, _, ok := o.Registry.RoomOf(id); ok {
		if current == key {
			room := o.Rooms.GetOrCreate(key)
			return o.sendTo(sess, core.EventRoomState, core.RoomStatePayload{Participants: room.MembersSnapshot(), SelfConnectionID: id})
		}
		o.leaveLocked(id)
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("from_room", string(current)).Msg("left previous room")
	}

	room := o.Rooms.GetOrCreate(key)
	room.AddMember(sess)
	o.Registry.UpdateRoom(id, key)
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(key)).Msg("added to room")

	state := core.RoomStatePayload{Participants: room.MembersSnapshot(), SelfConnectionID: id}
	if err := o.sendTo(sess, core.EventRoomState, state); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("room state dropped")
	}
	o.broadcast(room, id, core.EventPeerJoined, sess.Meta())
	o.publishCount(key, room.MemberCount())
	return nil
}

// Leave removes the session from its room. Remaining members get
// peer:left; the room is stopped when it empties.
func (o *Orchestrator) Leave(id domain.ConnectionID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.leaveLocked(id)
}

func (o *Orchestrator) leaveLocked(id domain.ConnectionID) bool {
	key, _, ok := o.Registry.RoomOf(id)
	if !ok {
		return false
	}
	o.Registry.RemoveRoom(id)
	room, ok := o.Rooms.Get(key)
	if !ok || !room.RemoveMember(id) {
		return false
	}

	o.broadcast(room, id, core.EventPeerLeft, core.PeerLeftPayload{ConnectionID: id})
	count := room.MemberCount()
	if count == 0 {
		o.Rooms.StopRoom(key)
		log.Info().Str("module", "orch").Str("room", string(key)).Msg("room stopped")
	}
	o.publishCount(key, count)
	return true
}

// Status subscribes the session to room:count for key and returns the
// current occupancy.
func (o *Orchestrator) Status(id domain.ConnectionID, key domain.RoomKey) (core.RoomStatusPayload, error) {
	if err := key.Validate(); err != nil {
		return core.RoomStatusPayload{}, err
	}
	o.Registry.Watch(id, key)
	r := o.RoomInfo(key)
	return core.RoomStatusPayload{Count: r.Count, IsActive: r.CallActive}, nil
}

func (o *Orchestrator) RoomInfo(key domain.RoomKey) domain.Room {
	if room, ok := o.Rooms.Get(key); ok {
		return room.Room()
	}
	return domain.NewRoom(key, 0)
}

// KickBySID drops the session from its room and closes its transport.
// The adapter's read loop then runs Disconnect.
func (o *Orchestrator) KickBySID(id domain.ConnectionID) {
	o.Leave(id)
	if sess, ok := o.Registry.GetSession(id); ok {
		sess.Signal().Close()
	}
	o.Registry.Cancel(id)
}

func (o *Orchestrator) EvictRoom(key domain.RoomKey) {
	for _, snap := range o.Registry.MembersOfRoom(key) {
		o.KickBySID(snap.ID)
	}
	o.Rooms.StopRoom(key)
}
