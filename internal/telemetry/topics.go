package telemetry

import "fmt"

// topicPrefix roots every device topic on the platform broker.
const topicPrefix = "plantform"

// TelemetryTopic returns the publish topic for a device.
//
// Device ids are zero-padded to three digits so broker-side dashboards
// sort lexically: plantform/esp32_007/telemetry.
func TelemetryTopic(deviceID int) string {
	return fmt.Sprintf("%s/esp32_%03d/telemetry", topicPrefix, deviceID)
}
