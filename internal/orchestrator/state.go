package orchestrator

// State is the connectivity FSM state.
type State int

// FSM states. The names in String are a wire contract: the companion app
// and the diagnostics endpoint both display them.
const (
	// StateBoot decides between provisioning and normal operation.
	StateBoot State = iota

	// StateBleAdvertising waits for the companion app to connect.
	StateBleAdvertising

	// StateBleConfiguring services provisioning commands.
	StateBleConfiguring

	// StateBleTestingWifi runs a credential test while reporting progress.
	StateBleTestingWifi

	// StateWifiConnecting joins the stored network.
	StateWifiConnecting

	// StateMqttOperating holds the broker session and publishes telemetry.
	StateMqttOperating

	// StateError recovers from a fault by rebooting the FSM.
	StateError
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "BOOT"
	case StateBleAdvertising:
		return "BLE_ADV"
	case StateBleConfiguring:
		return "BLE_CFG"
	case StateBleTestingWifi:
		return "BLE_TEST_WIFI"
	case StateWifiConnecting:
		return "WIFI_CONN"
	case StateMqttOperating:
		return "MQTT_OP"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
