package orch

import (
	"errors"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Relay forwards a signal:* event from one member to another member of
// the same room. The payload must already carry the sender's stamp.
func (o *Orchestrator) Relay(from, target domain.ConnectionID, event string, payload any) error {
	key, _, ok := o.Registry.RoomOf(from)
	if !ok {
		return core.ErrNotInRoom
	}
	room, ok := o.Rooms.Get(key)
	if !ok || !room.Has(target) {
		return core.ErrNotInRoom
	}
	frame, err := core.Encode(event, payload)
	if err != nil {
		return err
	}
	if err := room.SendTo(target, frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("event", event).Str("from", string(from)).Str("to", string(target)).Msg("relay failed")
		if sess, ok := o.Registry.GetSession(target); ok && errors.Is(err, core.ErrBackpressure) {
			o.applyPolicy(room, []core.MemberSession{sess})
		}
		return err
	}
	log.Debug().Str("module", "orch").Str("event", event).Str("from", string(from)).Str("to", string(target)).Msg("relayed")
	return nil
}
