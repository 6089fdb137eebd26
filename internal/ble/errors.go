package ble

import "errors"

// Common BLE transport errors.
var (
	// ErrNotConnected indicates no central is connected.
	ErrNotConnected = errors.New("ble: no central connected")

	// ErrMessageTooLarge indicates a message exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("ble: message too large")

	// ErrClosed indicates the transport has been closed.
	ErrClosed = errors.New("ble: transport closed")
)
