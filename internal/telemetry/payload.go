package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/plantform/plantnode/internal/sensor"
)

// Payload is the telemetry message body.
//
// Field names are a wire contract with the platform ingester; don't
// rename them.
type Payload struct {
	Status      string  `json:"status"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Moisture    float64 `json:"moisture"`
	Light       bool    `json:"light"`
	DeviceID    int     `json:"device_id"`
}

// buildPayload serialises one reading for publish.
func buildPayload(status string, snap sensor.Snapshot, deviceID int) ([]byte, error) {
	data, err := json.Marshal(Payload{
		Status:      status,
		Temperature: snap.Temperature,
		Humidity:    snap.Humidity,
		Moisture:    snap.Moisture,
		Light:       snap.Light,
		DeviceID:    deviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return data, nil
}
