package core

import (
	"errors"

	"github.com/dkeye/fleetcall/internal/domain"
)

var ErrNotInRoom = errors.New("target not in room")

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Key() domain.RoomKey
	Room() domain.Room
	MemberCount() int
	// MembersSnapshot lists participants in join order.
	MembersSnapshot() []domain.Participant
	Has(id domain.ConnectionID) bool

	AddMember(ms MemberSession)
	// RemoveMember reports whether id was a member.
	RemoveMember(id domain.ConnectionID) bool
	// SendTo delivers to a single member. ErrNotInRoom if the target is unknown.
	SendTo(target domain.ConnectionID, data Frame) error
	Broadcast(from domain.ConnectionID, data Frame) PublishResult
}

type RoomManager interface {
	GetOrCreate(key domain.RoomKey) RoomService
	Get(key domain.RoomKey) (RoomService, bool)
	List() []domain.Room
	StopRoom(key domain.RoomKey)
}
