// Package telemetry publishes device readings to the platform broker.
//
// The broker is always reached over TLS. Initialize runs a bare TLS
// probe before creating the MQTT session: a raw handshake fails fast
// with a certificate or reachability error, where the MQTT client would
// wrap the same failure in retry noise. Only after the probe succeeds is
// the paho session created.
//
// An optional local InfluxDB mirror records every published reading, so
// a greenhouse without reliable uplink still accumulates history.
package telemetry
