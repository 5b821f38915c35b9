package signal

import "github.com/dkeye/VoiceRelay/internal/core"

// sendError reports transport-level problems that never reach the manager.
func (ctl *SignalWSController) sendError(conn *WsSignalConn, message string) {
	ctl.sendJSON(conn, core.ErrorMessage{Type: core.MsgError, Message: message})
}
