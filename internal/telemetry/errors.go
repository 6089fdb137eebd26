package telemetry

import "errors"

// Common telemetry errors.
var (
	// ErrProbeFailed indicates the pre-session TLS probe failed.
	ErrProbeFailed = errors.New("telemetry: tls probe failed")

	// ErrConnectionFailed indicates the MQTT session could not be
	// established.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrNotConnected indicates a publish was attempted without a session.
	ErrNotConnected = errors.New("telemetry: not connected")

	// ErrPublishFailed indicates the broker did not accept a publish.
	ErrPublishFailed = errors.New("telemetry: publish failed")
)
