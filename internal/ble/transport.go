package ble

import (
	"context"
	"fmt"

	"github.com/plantform/plantnode/internal/infrastructure/config"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
)

// Transport limits.
const (
	// MaxMessageSize is the largest accepted message in either direction.
	MaxMessageSize = 512

	// DefaultQueueSize is the inbound queue depth.
	DefaultQueueSize = 5

	// DefaultMTU is the outbound chunk size. Matches the default BLE
	// ATT payload the companion app negotiates.
	DefaultMTU = 20

	// Control lines from the co-processor.
	eventConnected    = "+CONNECTED"
	eventDisconnected = "+DISCONNECTED"

	// Control commands to the co-processor.
	cmdAdvertise = "+ADV"
	cmdStop      = "+STOP"
)

// Transport is a BLE link to the companion app.
//
// Implementations deliver inbound messages through Receive's bounded
// queue and write outbound messages in MTU-sized chunks. All methods are
// safe for concurrent use.
type Transport interface {
	// StartAdvertising makes the device discoverable. Idempotent.
	StartAdvertising(ctx context.Context) error

	// StopAdvertising stops advertising and drops any central. Idempotent.
	StopAdvertising(ctx context.Context) error

	// Connected reports whether a central is currently connected.
	Connected() bool

	// Receive returns the next queued inbound message without blocking.
	// ok is false when the queue is empty.
	Receive() (msg []byte, ok bool)

	// Send writes one message to the connected central.
	// Returns ErrNotConnected when no central is attached and
	// ErrMessageTooLarge when the message exceeds MaxMessageSize.
	Send(msg []byte) error

	// Close tears down the link. The transport is unusable afterwards.
	Close() error
}

// New builds the transport selected by cfg.Transport.
func New(cfg config.BLEConfig, logger *logging.Logger) (Transport, error) {
	switch cfg.Transport {
	case "ws":
		return NewWSBridge(cfg, logger)
	case "serial", "":
		return NewSerial(cfg, logger)
	default:
		return nil, fmt.Errorf("ble: unknown transport %q", cfg.Transport)
	}
}
