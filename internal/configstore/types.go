package configstore

// Namespace is the key/value namespace holding the provisioning record.
const Namespace = "appcfg"

// MaxParams is the maximum number of parameters allowed.
//
// Safety limit to avoid huge allocations if the store is corrupted or the
// provisioning message contains too many floats.
const MaxParams = 32

// Store keys within the namespace.
const (
	// keyOK is the "configuration valid" commit marker.
	keyOK = "ok"

	// keySSID is the WiFi SSID.
	keySSID = "ssid"

	// keyPass is the WiFi password.
	keyPass = "pass"

	// keyParamCount is the stored number of float parameters.
	keyParamCount = "p_cnt"

	// keyParamBlob is the raw parameter blob (count * 4 bytes, little-endian
	// float32).
	keyParamBlob = "p_blob"
)

// ParamIndex identifies a position in the DeviceConfig parameter vector.
//
// The vector is a positional contract with the companion app: the app sends
// a flat float array and both sides agree on what each slot means. Nothing
// in the wire format is self-describing.
type ParamIndex int

// Parameter positions as defined by the companion app.
const (
	ParamPlantTypeID   ParamIndex = 0
	ParamTempMin       ParamIndex = 1
	ParamTempMax       ParamIndex = 2
	ParamHumidityMin   ParamIndex = 3
	ParamHumidityMax   ParamIndex = 4
	ParamMoistureMin   ParamIndex = 5
	ParamMoistureMax   ParamIndex = 6
	ParamLightHoursMin ParamIndex = 7
	ParamDeviceID      ParamIndex = 8
)

// DeviceConfig is the provisioning payload: WiFi credentials plus the
// positional parameter vector.
type DeviceConfig struct {
	// SSID is the WiFi network name.
	SSID string

	// Password is the WiFi password.
	Password string

	// Params is the positional parameter vector (see ParamIndex).
	// Invariant: len(Params) <= MaxParams for any stored config.
	Params []float32
}

// Param returns the parameter at idx, or def when the vector is too short.
func (c DeviceConfig) Param(idx ParamIndex, def float32) float32 {
	if int(idx) >= 0 && int(idx) < len(c.Params) {
		return c.Params[idx]
	}
	return def
}

// DeviceID extracts the device id from the parameter vector, defaulting to
// def when the slot is absent.
func (c DeviceConfig) DeviceID(def int) int {
	return int(c.Param(ParamDeviceID, float32(def)))
}
