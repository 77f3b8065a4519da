package ble

import "errors"

var (
	// ErrTransport wraps radio and write failures. The session drops the
	// link and the reconnection supervisor takes over.
	ErrTransport = errors.New("ble: transport error")
	// ErrServiceNotFound means the UART service or one of its
	// characteristics is missing on the peripheral.
	ErrServiceNotFound = errors.New("ble: service not found")
	// ErrAckTimeout means an expected acknowledgment did not arrive in time.
	ErrAckTimeout = errors.New("ble: acknowledgment timeout")
	// ErrUnreachableDevice means reconnection attempts are exhausted.
	ErrUnreachableDevice = errors.New("ble: device unreachable")
	// ErrNotConnected is returned by sends on a session that is not
	// connected, and by ack waits whose link dropped.
	ErrNotConnected = errors.New("ble: not connected")
	// ErrHeartbeatLost is the cause recorded when consecutive heartbeat
	// acks go missing.
	ErrHeartbeatLost = errors.New("ble: heartbeat lost")
)
