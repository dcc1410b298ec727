package signal

import (
	"encoding/json"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/rs/zerolog/log"
)

// stamp replaces client supplied addressing with the authenticated sender.
func stamp(a *core.Addressing, sess core.MemberSession) {
	a.FromConnectionID = sess.Meta().ConnectionID
	a.TargetConnectionID = ""
}

func (ctl *SignalWSController) relay(sess core.MemberSession, conn *WsSignalConn, event string, target core.Addressing, payload any) {
	if target.TargetConnectionID == "" {
		ctl.sendError(conn, "missing_target")
		return
	}
	if err := ctl.Orch.Relay(sess.Meta().ConnectionID, target.TargetConnectionID, event, payload); err != nil {
		ctl.sendError(conn, err.Error())
	}
}

func (ctl *SignalWSController) handleOffer(sess core.MemberSession, conn *WsSignalConn, data json.RawMessage) {
	var p core.OfferPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	target := p.Addressing
	stamp(&p.Addressing, sess)
	meta := sess.Meta()
	p.UserID = meta.UserID
	p.DisplayName = meta.DisplayName
	ctl.relay(sess, conn, core.EventSignalOffer, target, p)
}

func (ctl *SignalWSController) handleAnswer(sess core.MemberSession, conn *WsSignalConn, data json.RawMessage) {
	var p core.AnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad answer payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	target := p.Addressing
	stamp(&p.Addressing, sess)
	ctl.relay(sess, conn, core.EventSignalAnswer, target, p)
}

func (ctl *SignalWSController) handleCandidate(sess core.MemberSession, conn *WsSignalConn, data json.RawMessage) {
	var p core.ICECandidatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Candidate == nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	target := p.Addressing
	stamp(&p.Addressing, sess)
	ctl.relay(sess, conn, core.EventSignalICE, target, p)
}
