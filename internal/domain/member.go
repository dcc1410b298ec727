package domain

// ConnectionID is assigned by the hub per connected client instance.
// A user may hold several at once (tabs, devices).
type ConnectionID string

// Participant is one connected client inside a room.
// No transport or lifecycle logic here.
type Participant struct {
	ConnectionID ConnectionID `json:"connectionId"`
	UserID       UserID       `json:"userId"`
	DisplayName  string       `json:"displayName"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(conn ConnectionID, id *Identity) Participant {
	return Participant{ConnectionID: conn, UserID: id.UserID, DisplayName: id.DisplayName}
}
