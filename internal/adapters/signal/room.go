package signal

import (
	"encoding/json"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(sess core.MemberSession, conn *WsSignalConn, data json.RawMessage) {
	meta := sess.Meta()
	var p core.RoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(meta.UserID) {
		log.Warn().Str("module", "signal").Str("user", string(meta.UserID)).Msg("join rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(meta.ConnectionID)).Str("room", string(p.RoomKey)).Msg("join")
	if err := ctl.Orch.Join(meta.ConnectionID, p.RoomKey); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(meta.ConnectionID)).Msg("join failed")
		ctl.sendError(conn, err.Error())
	}
}

// handleLeave exits the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(sess core.MemberSession, _ *WsSignalConn) {
	id := sess.Meta().ConnectionID
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("leave")
	ctl.Orch.Leave(id)
}

func (ctl *SignalWSController) handleStatus(sess core.MemberSession, conn *WsSignalConn, data json.RawMessage) {
	var p core.RoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	st, err := ctl.Orch.Status(sess.Meta().ConnectionID, p.RoomKey)
	if err != nil {
		ctl.sendError(conn, err.Error())
		return
	}
	ctl.send(conn, core.EventRoomStatus, st)
}
