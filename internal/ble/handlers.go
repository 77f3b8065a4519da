package ble

import (
	"fmt"
	"log/slog"

	"github.com/chaz8081/g1link/internal/ble/protocol"
)

func (s *Session) defaultHandlers() map[protocol.Command]Handler {
	return map[protocol.Command]Handler{
		protocol.CmdHeartbeat:         s.handleHeartbeat,
		protocol.CmdSendResult:        s.handleSendResult,
		protocol.CmdStartAI:           s.handleDeviceOrder,
		protocol.CmdMicData:           s.handleMicData,
		protocol.CmdOpenMic:           s.handleStatusResponse,
		protocol.CmdInit:              s.handleStatusResponse,
		protocol.CmdBrightness:        s.handleStatusResponse,
		protocol.CmdSilentMode:        s.handleStatusResponse,
		protocol.CmdHeadUpAngle:       s.handleStatusResponse,
		protocol.CmdNotification:      s.handleStatusResponse,
		protocol.CmdNote:              s.handleStatusResponse,
		protocol.CmdQuickNote:         s.handleInfo,
		protocol.CmdDashboard:         s.handleInfo,
		protocol.CmdDashboardPosition: s.handleStatusResponse,
	}
}

func (s *Session) handleHeartbeat(r Receive) {
	s.signalAck(ackHeartbeat)
	slog.Debug("[BLE] heartbeat ack", "side", r.Side)
}

// handleSendResult acknowledges a text chunk unless the firmware reports failure.
func (s *Session) handleSendResult(r Receive) {
	if len(r.Payload) > 0 && protocol.ResponseStatus(r.Payload[0]) == protocol.ResponseFailure {
		slog.Warn("[BLE] display rejected text packet", "side", r.Side, "name", s.name)
		return
	}
	s.signalAck(ackDisplay)
}

func (s *Session) handleDeviceOrder(r Receive) {
	if len(r.Payload) == 0 {
		slog.Warn("[BLE] device order without payload", "side", r.Side)
		return
	}
	order := protocol.DeviceOrder(r.Payload[0])
	s.mu.Lock()
	s.lastOrder = order
	s.mu.Unlock()

	if order == protocol.OrderDisplayComplete {
		s.signalAck(ackDisplay)
	}
	slog.Info("[BLE] device order", "side", r.Side, "order", order)
}

// handleMicData feeds LC3 audio into the session's buffer. The first
// payload byte is the audio sequence number.
func (s *Session) handleMicData(r Receive) {
	if len(r.Payload) < 2 {
		return
	}
	s.mic.Append(r.Payload[0], r.Payload[1:])
}

func (s *Session) handleStatusResponse(r Receive) {
	if len(r.Payload) == 0 {
		slog.Debug("[BLE] response", "side", r.Side, "command", r.Command)
		return
	}
	switch protocol.ResponseStatus(r.Payload[0]) {
	case protocol.ResponseSuccess:
		slog.Debug("[BLE] command succeeded", "side", r.Side, "command", r.Command)
	case protocol.ResponseFailure:
		slog.Warn("[BLE] command failed", "side", r.Side, "command", r.Command)
	default:
		s.handleInfo(r)
	}
}

func (s *Session) handleInfo(r Receive) {
	slog.Info("[BLE] received", "side", r.Side, "command", r.Command, "payload", fmt.Sprintf("%x", r.Payload))
}
