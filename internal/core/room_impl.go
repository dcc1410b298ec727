package core

import (
	"sort"
	"sync"

	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomMember struct {
	session MemberSession
	seq     uint64
}

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	key     domain.RoomKey
	mu      sync.RWMutex
	seq     uint64
	members map[domain.ConnectionID]roomMember
}

func NewRoomService(key domain.RoomKey) RoomService {
	return &roomImpl{
		key:     key,
		members: make(map[domain.ConnectionID]roomMember),
	}
}

func (r *roomImpl) Key() domain.RoomKey { return r.key }

func (r *roomImpl) Room() domain.Room {
	return domain.NewRoom(r.key, r.MemberCount())
}

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) Has(id domain.ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

func (r *roomImpl) AddMember(ms MemberSession) {
	meta := ms.Meta()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[meta.ConnectionID]; ok {
		return
	}
	r.seq++
	r.members[meta.ConnectionID] = roomMember{session: ms, seq: r.seq}
	log.Info().Str("module", "core.room").Str("room", string(r.key)).Str("conn", string(meta.ConnectionID)).Str("user", string(meta.UserID)).Msg("member added")
}

func (r *roomImpl) RemoveMember(id domain.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	log.Info().Str("module", "core.room").Str("room", string(r.key)).Str("conn", string(id)).Msg("member removed")
	return true
}

func (r *roomImpl) SendTo(target domain.ConnectionID, data Frame) error {
	r.mu.RLock()
	m, ok := r.members[target]
	r.mu.RUnlock()
	if !ok {
		return ErrNotInRoom
	}
	return m.session.Signal().TrySend(data)
}

func (r *roomImpl) Broadcast(from domain.ConnectionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, m := range r.members {
		if id == from {
			continue
		}
		if err := m.session.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m.session)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []domain.Participant {
	r.mu.RLock()
	ordered := make([]roomMember, 0, len(r.members))
	for _, m := range r.members {
		ordered = append(ordered, m)
	}
	r.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	out := make([]domain.Participant, 0, len(ordered))
	for _, m := range ordered {
		out = append(out, m.session.Meta())
	}
	return out
}
