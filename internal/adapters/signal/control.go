package signal

import "github.com/dkeye/fleetcall/internal/core"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.send(conn, core.EventPong, struct{}{})
}
