// Package membership follows who is in the room and tells the peer
// manager which sessions to open, initiate and close.
package membership

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/fleetcall/internal/app/peer"
	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNotJoined = errors.New("not joined")

// Peers is the part of the peer manager the tracker drives.
type Peers interface {
	Ensure(domain.Participant) (*peer.Session, error)
	Initiate(domain.Participant) error
	Close(domain.ConnectionID)
	CloseAll()
	Peers() []domain.ConnectionID
}

type Tracker struct {
	transport core.Transport
	peers     Peers

	mu           sync.RWMutex
	room         domain.RoomKey
	joined       bool
	self         domain.ConnectionID
	participants []domain.Participant
	count        int
	active       bool

	onPeerLeft func(domain.ConnectionID)
}

// New registers the tracker's handlers on t.
func New(t core.Transport, peers Peers) *Tracker {
	tr := &Tracker{transport: t, peers: peers}
	t.On(core.EventConnected, func(json.RawMessage) { tr.onConnected() })
	t.On(core.EventRoomState, tr.onRoomState)
	t.On(core.EventPeerJoined, tr.onPeerJoined)
	t.On(core.EventPeerLeft, tr.onPeerLeftEvent)
	t.On(core.EventRoomStatus, tr.onRoomStatus)
	t.On(core.EventRoomCount, tr.onRoomCount)
	t.On(core.EventError, func(raw json.RawMessage) {
		var p core.ErrorPayload
		_ = json.Unmarshal(raw, &p)
		log.Warn().Str("module", "membership").Str("error", p.Error).Msg("hub error")
	})
	return tr
}

// OnPeerLeft sets a callback run after a peer's session is closed.
func (tr *Tracker) OnPeerLeft(f func(domain.ConnectionID)) {
	tr.mu.Lock()
	tr.onPeerLeft = f
	tr.mu.Unlock()
}

// Join announces presence in room and asks for its occupancy.
func (tr *Tracker) Join(room domain.RoomKey) error {
	if err := room.Validate(); err != nil {
		return err
	}
	tr.mu.Lock()
	tr.room = room
	tr.joined = true
	tr.participants = nil
	tr.mu.Unlock()
	return tr.announce(room)
}

func (tr *Tracker) announce(room domain.RoomKey) error {
	p := core.RoomPayload{RoomKey: room}
	if err := tr.transport.Send(core.EventRoomJoin, p); err != nil {
		return err
	}
	return tr.transport.Send(core.EventRoomStatus, p)
}

// Leave withdraws from room and closes every peer session.
func (tr *Tracker) Leave(room domain.RoomKey) error {
	tr.mu.Lock()
	if !tr.joined || tr.room != room {
		tr.mu.Unlock()
		return ErrNotJoined
	}
	tr.joined = false
	tr.participants = nil
	tr.self = ""
	tr.mu.Unlock()

	tr.peers.CloseAll()
	return tr.transport.Send(core.EventRoomLeave, core.RoomPayload{RoomKey: room})
}

// onConnected runs after every (re)connect. A reconnect gets a new
// connection id from the hub, so the old mesh is useless.
func (tr *Tracker) onConnected() {
	tr.mu.Lock()
	joined, room := tr.joined, tr.room
	if joined {
		tr.participants = nil
		tr.self = ""
	}
	tr.mu.Unlock()
	if !joined {
		return
	}
	log.Info().Str("module", "membership").Str("room", string(room)).Msg("reconnected, rejoining")
	tr.peers.CloseAll()
	if err := tr.announce(room); err != nil {
		log.Warn().Err(err).Str("module", "membership").Msg("rejoin")
	}
}

func (tr *Tracker) onRoomState(raw json.RawMessage) {
	var p core.RoomStatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Str("module", "membership").Msg("bad room state")
		return
	}
	tr.mu.Lock()
	if !tr.joined {
		tr.mu.Unlock()
		return
	}
	tr.self = p.SelfConnectionID
	others := make([]domain.Participant, 0, len(p.Participants))
	for _, m := range p.Participants {
		if m.ConnectionID == "" || m.ConnectionID == p.SelfConnectionID {
			continue
		}
		others = append(others, m)
	}
	tr.participants = others
	tr.count = len(p.Participants)
	tr.active = tr.count > 0
	tr.mu.Unlock()

	keep := make(map[domain.ConnectionID]bool, len(others))
	for _, m := range others {
		keep[m.ConnectionID] = true
		if _, err := tr.peers.Ensure(m); err != nil {
			log.Warn().Err(err).Str("module", "membership").Str("peer", string(m.ConnectionID)).Msg("open session")
		}
	}
	for _, id := range tr.peers.Peers() {
		if !keep[id] {
			tr.peers.Close(id)
		}
	}
	log.Info().Str("module", "membership").Int("participants", len(p.Participants)).Str("self", string(p.SelfConnectionID)).Msg("room state")
}

func (tr *Tracker) onPeerJoined(raw json.RawMessage) {
	var p domain.Participant
	if err := json.Unmarshal(raw, &p); err != nil || p.ConnectionID == "" {
		log.Warn().Err(err).Str("module", "membership").Msg("bad peer joined")
		return
	}
	tr.mu.Lock()
	if !tr.joined || p.ConnectionID == tr.self {
		tr.mu.Unlock()
		return
	}
	tr.participants = upsert(tr.participants, p)
	tr.mu.Unlock()

	if err := tr.peers.Initiate(p); err != nil {
		log.Debug().Err(err).Str("module", "membership").Str("peer", string(p.ConnectionID)).Msg("initiate")
	}
}

func (tr *Tracker) onPeerLeftEvent(raw json.RawMessage) {
	var p core.PeerLeftPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConnectionID == "" {
		log.Warn().Err(err).Str("module", "membership").Msg("bad peer left")
		return
	}
	tr.mu.Lock()
	tr.participants = remove(tr.participants, p.ConnectionID)
	cb := tr.onPeerLeft
	tr.mu.Unlock()

	tr.peers.Close(p.ConnectionID)
	if cb != nil {
		cb(p.ConnectionID)
	}
}

func (tr *Tracker) onRoomStatus(raw json.RawMessage) {
	var p core.RoomStatusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	tr.mu.Lock()
	tr.count, tr.active = p.Count, p.IsActive
	tr.mu.Unlock()
}

func (tr *Tracker) onRoomCount(raw json.RawMessage) {
	var p core.RoomCountPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	tr.mu.Lock()
	tr.count, tr.active = p.Count, p.Count > 0
	tr.mu.Unlock()
}

// Participants are the other members, in roster order.
func (tr *Tracker) Participants() []domain.Participant {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return append([]domain.Participant(nil), tr.participants...)
}

func (tr *Tracker) Room() domain.Room {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return domain.Room{Key: tr.room, Count: tr.count, CallActive: tr.active}
}

func (tr *Tracker) Self() domain.ConnectionID {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.self
}

func (tr *Tracker) Joined() bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.joined
}

func upsert(list []domain.Participant, p domain.Participant) []domain.Participant {
	for i := range list {
		if list[i].ConnectionID == p.ConnectionID {
			list[i] = p
			return list
		}
	}
	return append(list, p)
}

func remove(list []domain.Participant, id domain.ConnectionID) []domain.Participant {
	out := list[:0]
	for _, p := range list {
		if p.ConnectionID != id {
			out = append(out, p)
		}
	}
	return out
}
