package core

import (
	"encoding/json"

	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Wire event names shared by the hub and the client.
const (
	EventRoomJoin   = "room:join"
	EventRoomLeave  = "room:leave"
	EventRoomStatus = "room:status"
	EventRoomState  = "room:state"
	EventRoomCount  = "room:count"

	EventPeerJoined = "peer:joined"
	EventPeerLeft   = "peer:left"

	EventSignalOffer  = "signal:offer"
	EventSignalAnswer = "signal:answer"
	EventSignalICE    = "signal:ice-candidate"

	EventPing  = "ping"
	EventPong  = "pong"
	EventError = "error"

	// EventConnected is never on the wire. Transports dispatch it locally
	// after every successful (re)connect.
	EventConnected = "connect"
)

// Envelope is the framing of every message on the signaling socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Encode(event string, payload any) (Frame, error) {
	env := Envelope{Type: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

type RoomPayload struct {
	RoomKey domain.RoomKey `json:"roomKey"`
}

type RoomStatePayload struct {
	Participants     []domain.Participant `json:"participants"`
	SelfConnectionID domain.ConnectionID  `json:"selfConnectionId,omitempty"`
}

type RoomStatusPayload struct {
	Count    int  `json:"count"`
	IsActive bool `json:"isActive"`
}

type RoomCountPayload struct {
	Count int `json:"count"`
}

type PeerLeftPayload struct {
	ConnectionID domain.ConnectionID `json:"connectionId"`
}

// Addressing is shared by the signal:* payloads. Clients fill Target,
// the hub replaces it with From before delivery.
type Addressing struct {
	TargetConnectionID domain.ConnectionID `json:"targetConnectionId,omitempty"`
	FromConnectionID   domain.ConnectionID `json:"fromConnectionId,omitempty"`
}

type OfferPayload struct {
	Addressing
	UserID      domain.UserID             `json:"userId,omitempty"`
	DisplayName string                    `json:"displayName,omitempty"`
	Offer       webrtc.SessionDescription `json:"offer"`
}

type AnswerPayload struct {
	Addressing
	Answer webrtc.SessionDescription `json:"answer"`
}

type ICECandidatePayload struct {
	Addressing
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
