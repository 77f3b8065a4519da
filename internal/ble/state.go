package ble

import "strings"

// Side identifies which lens a session drives.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Label returns the capitalized side for log lines.
func (s Side) Label() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// State is the connection status of a session as seen by observers.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// Unreachable is reported after reconnection attempts are exhausted.
	Unreachable
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Unreachable:
		return "Unreachable"
	default:
		return "Unknown"
	}
}

// StatusFunc observes status changes of a device address.
type StatusFunc func(address string, status State)
