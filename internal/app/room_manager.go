package app

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/rs/zerolog/log"
)

type openRoom struct {
	svc    core.RoomService
	opened time.Time
}

// RoomManagerImpl keeps the rooms that currently have a call. A room
// exists from its first join until StopRoom.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]openRoom
	now   func() time.Time
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{rooms: make(map[domain.RoomKey]openRoom), now: time.Now}
}

func (f *RoomManagerImpl) GetOrCreate(key domain.RoomKey) core.RoomService {
	if room, ok := f.Get(key); ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rooms[key]; ok {
		return r.svc
	}
	r := openRoom{svc: core.NewRoomService(key), opened: f.now()}
	f.rooms[key] = r
	log.Info().Str("module", "rooms").Str("room", string(key)).Int("open", len(f.rooms)).Msg("call started")
	return r.svc
}

func (f *RoomManagerImpl) Get(key domain.RoomKey) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rooms[key]
	return r.svc, ok
}

// List is sorted by key.
func (f *RoomManagerImpl) List() []domain.Room {
	f.mu.RLock()
	out := make([]domain.Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, r.svc.Room())
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (f *RoomManagerImpl) StopRoom(key domain.RoomKey) {
	f.mu.Lock()
	r, ok := f.rooms[key]
	delete(f.rooms, key)
	f.mu.Unlock()
	if ok {
		log.Info().Str("module", "rooms").Str("room", string(key)).Dur("duration", f.now().Sub(r.opened)).Msg("call ended")
	}
}
