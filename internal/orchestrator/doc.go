// Package orchestrator runs the connectivity state machine.
//
// One goroutine ticks the FSM on a fixed interval. Each tick dispatches
// to the current state's handler, which does a bounded amount of work
// and returns the next state. Long-running operations (credential tests,
// network joins) run in the background and are polled; the two
// exceptions are the MQTT session setup and the blocking scan inside
// wifi_scan, which hold the tick briefly.
//
// # Provisioning Flow
//
//	BOOT ── configured ──────────────────▶ WIFI_CONN ──▶ MQTT_OP
//	  │                                        ▲
//	  └─▶ BLE_ADV ⇄ BLE_CFG ─▶ BLE_TEST_WIFI ──┘
//
// Credentials received over BLE are never persisted as-given: a test
// join must succeed first. A failed or timed-out test clears the
// candidate and drops back to BLE_CFG, so the store only ever holds
// credentials that worked at least once.
//
// Retry pacing uses exponential backoff with a deadline stamp instead of
// sleeping, keeping the tick loop responsive to shutdown.
package orchestrator
