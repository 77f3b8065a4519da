// Package protocol implements the binary frame format spoken by the G1
// glasses firmware over the UART characteristic pair.
package protocol

import "fmt"

// Command is the first byte of every frame.
type Command byte

const (
	CmdBrightness        Command = 0x01
	CmdSilentMode        Command = 0x03
	CmdHeadUpAngle       Command = 0x0B
	CmdOpenMic           Command = 0x0E // also the inbound mic response
	CmdNote              Command = 0x1E
	CmdQuickNote         Command = 0x21
	CmdDashboard         Command = 0x22
	CmdHeartbeat         Command = 0x25
	CmdDashboardPosition Command = 0x26
	CmdNotification      Command = 0x4B
	CmdInit              Command = 0x4D
	CmdSendResult        Command = 0x4E
	CmdMicData           Command = 0xF1
	CmdStartAI           Command = 0xF5 // inbound: device order
)

var commandNames = map[Command]string{
	CmdBrightness:        "BRIGHTNESS",
	CmdSilentMode:        "SILENT_MODE",
	CmdHeadUpAngle:       "HEADUP_ANGLE",
	CmdOpenMic:           "OPEN_MIC",
	CmdNote:              "NOTE",
	CmdQuickNote:         "QUICK_NOTE",
	CmdDashboard:         "DASHBOARD",
	CmdHeartbeat:         "HEARTBEAT",
	CmdDashboardPosition: "DASHBOARD_POSITION",
	CmdNotification:      "NOTIFICATION",
	CmdInit:              "INIT",
	CmdSendResult:        "SEND_RESULT",
	CmdMicData:           "MIC_DATA",
	CmdStartAI:           "START_AI",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(c))
}

// SubCommand is the second byte of a START_AI frame.
type SubCommand byte

const (
	SubCmdExit        SubCommand = 0x00 // exit to dashboard (double tap)
	SubCmdPageControl SubCommand = 0x01 // page up/down in manual mode
	SubCmdStart       SubCommand = 0x17
	SubCmdStop        SubCommand = 0x18
)

// DeviceOrder is the single payload byte of an inbound START_AI frame.
type DeviceOrder byte

const (
	OrderDisplayReady            DeviceOrder = 0x00
	OrderTriggerChangePage       DeviceOrder = 0x01
	OrderG1IsReady               DeviceOrder = 0x09
	OrderDisplayUpdate           DeviceOrder = 0x0F
	OrderDisplayComplete         DeviceOrder = 0x10
	OrderDisplayBusy             DeviceOrder = 0x11
	OrderTriggerForAI            DeviceOrder = 0x17
	OrderTriggerForStopRecording DeviceOrder = 0x18
)

func (o DeviceOrder) String() string {
	switch o {
	case OrderDisplayReady:
		return "DISPLAY_READY"
	case OrderTriggerChangePage:
		return "TRIGGER_CHANGE_PAGE"
	case OrderG1IsReady:
		return "G1_IS_READY"
	case OrderDisplayUpdate:
		return "DISPLAY_UPDATE"
	case OrderDisplayComplete:
		return "DISPLAY_COMPLETE"
	case OrderDisplayBusy:
		return "DISPLAY_BUSY"
	case OrderTriggerForAI:
		return "TRIGGER_FOR_AI"
	case OrderTriggerForStopRecording:
		return "TRIGGER_FOR_STOP_RECORDING"
	default:
		return fmt.Sprintf("ORDER(0x%02X)", byte(o))
	}
}

// ResponseStatus is the status byte the firmware puts in command responses.
type ResponseStatus byte

const (
	ResponseSuccess ResponseStatus = 0xC9
	ResponseFailure ResponseStatus = 0xCA
)

// ScreenAction is the low nibble of a screen status byte.
type ScreenAction byte

const ScreenNewContent ScreenAction = 0x01

// AIStatus is the high nibble of a screen status byte.
type AIStatus byte

const (
	AIDisplaying      AIStatus = 0x30 // automatic mode, more to come
	AIDisplayComplete AIStatus = 0x40 // last page of automatic mode
	AIManualMode      AIStatus = 0x50
	AINetworkError    AIStatus = 0x60
)

// Text display phases map onto AI status values.
const (
	StatusNormal = AIDisplaying
	StatusFinal  = AIDisplayComplete
)

func (s AIStatus) String() string {
	switch s {
	case AIDisplaying:
		return "Displaying"
	case AIDisplayComplete:
		return "Complete"
	case AIManualMode:
		return "Manual"
	case AINetworkError:
		return "NetworkError"
	default:
		return fmt.Sprintf("AIStatus(0x%02X)", byte(s))
	}
}

// ScreenStatus packs an action and an AI status into one byte.
func ScreenStatus(action ScreenAction, status AIStatus) byte {
	return byte(action)&0x0F | byte(status)&0xF0
}

// ParseScreenStatus splits a screen status byte into its two nibbles.
func ParseScreenStatus(b byte) (ScreenAction, AIStatus) {
	return ScreenAction(b & 0x0F), AIStatus(b & 0xF0)
}
