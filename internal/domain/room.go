package domain

import "errors"

const MaxRoomKeyLen = 64

var ErrRoomKeyInvalid = errors.New("room key invalid")

// RoomKey is the work-order identifier a call room is scoped to.
type RoomKey string

func (k RoomKey) Validate() error {
	if len(k) == 0 || len(k) > MaxRoomKeyLen {
		return ErrRoomKeyInvalid
	}
	return nil
}

// Room occupancy as seen by clients. CallActive is true iff Count > 0.
type Room struct {
	Key        RoomKey `json:"roomKey"`
	Count      int     `json:"count"`
	CallActive bool    `json:"isActive"`
}

func NewRoom(key RoomKey, count int) Room {
	return Room{Key: key, Count: count, CallActive: count > 0}
}
