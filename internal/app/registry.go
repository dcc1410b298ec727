package app

import (
	"context"
	"sync"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Room     domain.RoomKey
	Watching domain.RoomKey
	Session  core.MemberSession
	Cancel   context.CancelFunc
}

// Registry tracks every connected signaling session on the hub,
// in a room or not.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ConnectionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.ConnectionID]*sessionEntry),
	}
}

func (r *Registry) BindSignal(sess core.MemberSession, cancel context.CancelFunc) {
	id := sess.Meta().ConnectionID
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(sess.Meta().UserID)).Msg("bound signal")
}

func (r *Registry) GetSession(id domain.ConnectionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind session")
}

func (r *Registry) RoomOf(id domain.ConnectionID) (domain.RoomKey, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[id]
	if !ok || entry.Room == "" {
		return "", nil, false
	}
	return entry.Room, entry.Session, true
}

func (r *Registry) UpdateRoom(id domain.ConnectionID, room domain.RoomKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return false
	}
	entry.Room = room
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(room)).Msg("updated room")
	return true
}

func (r *Registry) RemoveRoom(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[id]; ok {
		entry.Room = ""
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("removed room association")
}

// Watch subscribes a session to occupancy updates of a room
// without joining it. One watched room per session.
func (r *Registry) Watch(id domain.ConnectionID, room domain.RoomKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return false
	}
	entry.Watching = room
	return true
}

type regSnap struct {
	ID      domain.ConnectionID
	Session core.MemberSession
}

// WatchersOf returns sessions that asked for occupancy of room
// but are not members of it.
func (r *Registry) WatchersOf(room domain.RoomKey) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []regSnap
	for id, e := range r.sessions {
		if e.Watching == room && e.Room != room {
			out = append(out, regSnap{ID: id, Session: e.Session})
		}
	}
	return out
}

func (r *Registry) MembersOfRoom(room domain.RoomKey) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.sessions))
	for id, e := range r.sessions {
		if e.Room == room {
			out = append(out, regSnap{ID: id, Session: e.Session})
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(id domain.ConnectionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled session")
	return true
}
