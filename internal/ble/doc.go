// Package ble carries the provisioning protocol between the daemon and
// the companion app.
//
// The daemon does not own a radio. A BLE co-processor hangs off a UART
// and bridges GATT writes/notifications to newline-framed lines; this
// package speaks that framing over a serial port. For development without
// the co-processor, a WebSocket bridge accepts the same line protocol
// from a desktop simulator.
//
// # Line Protocol
//
// Lines starting with '+' are control events from the co-processor:
//
//	+CONNECTED      central subscribed
//	+DISCONNECTED   central went away
//
// Everything else is message payload, one JSON message per line. Outbound
// payloads are written in MTU-sized chunks; the co-processor forwards
// each chunk as one notification and the app reassembles on '\n'.
//
// # Flow Control
//
// Inbound messages land in a small bounded queue. The orchestrator drains
// it one message per tick; when the app floods faster than that, the
// newest messages are dropped rather than growing the queue. Messages over
// MaxMessageSize are rejected outright.
package ble
