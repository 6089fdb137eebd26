package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/plantform/plantnode/internal/configstore"
	"github.com/plantform/plantnode/internal/wifi"
)

// Provisioning commands accepted from the companion app.
const (
	cmdPing     = "ping"
	cmdGetInfo  = "get_info"
	cmdWifiScan = "wifi_scan"
	cmdConfig   = "config"
	cmdTestWifi = "test_wifi"
	cmdReset    = "reset"
)

// Response bodies. Field names are a wire contract with the companion
// app.

type pongMsg struct {
	Type       string `json:"type"`
	FwVersion  string `json:"fw_version"`
	HwVersion  string `json:"hw_version"`
	Configured bool   `json:"configured"`
}

type infoMsg struct {
	Type       string `json:"type"`
	FwVersion  string `json:"fw_version"`
	DeviceID   int    `json:"device_id"`
	Configured bool   `json:"configured"`
	WifiSSID   string `json:"wifi_ssid,omitempty"`
	PlantType  int    `json:"plant_type,omitempty"`
}

type ackMsg struct {
	Type string `json:"type"`
	Cmd  string `json:"cmd"`
}

type statusMsg struct {
	Type     string `json:"type"`
	State    string `json:"state"`
	Progress *int   `json:"progress,omitempty"`
}

type resultMsg struct {
	Type   string `json:"type"`
	Cmd    string `json:"cmd"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Msg    string `json:"msg,omitempty"`
}

type wifiListMsg struct {
	Type     string         `json:"type"`
	Networks []wifi.Network `json:"networks"`
}

// handleBleCommand services one message from the companion app and
// returns the next state.
func (o *Orchestrator) handleBleCommand(ctx context.Context, msg []byte) State {
	cmd, err := configstore.Command(msg)
	if err != nil {
		o.logger.Warn("unparseable ble message", "error", err)
		o.sendResult("unknown", false, "parse_error", "invalid JSON")
		return StateBleConfiguring
	}

	switch cmd {
	case cmdPing:
		o.sendJSON(pongMsg{
			Type:       "pong",
			FwVersion:  FirmwareVersion,
			HwVersion:  HardwareVersion,
			Configured: o.store.IsConfigured(ctx),
		})
		return StateBleConfiguring

	case cmdGetInfo:
		o.sendInfo(ctx)
		return StateBleConfiguring

	case cmdWifiScan:
		o.sendAck(cmdWifiScan)
		o.sendWifiList(ctx)
		return StateBleConfiguring

	case cmdConfig:
		cfg, err := configstore.ParseMessage(msg)
		if err != nil {
			o.logger.Warn("invalid config command", "error", err)
			o.sendResult(cmdConfig, false, "invalid_params", "missing parameters")
			return StateBleConfiguring
		}
		o.sendAck(cmdConfig)
		o.sendStatus("saving_config")
		o.sendStatusProgress("connecting_wifi", 0)

		// Persist nothing yet; the credential test decides.
		o.pending = cfg
		o.hasPending = true
		o.pendingCmd = cmdConfig
		o.deviceID = cfg.DeviceID(o.cfg.Device.DefaultID)
		return StateBleTestingWifi

	case cmdTestWifi:
		cfg, err := configstore.ParseMessage(msg)
		if err != nil {
			o.sendResult(cmdTestWifi, false, "invalid_params", "missing SSID or password")
			return StateBleConfiguring
		}
		o.sendAck(cmdTestWifi)

		o.pending = configstore.DeviceConfig{SSID: cfg.SSID, Password: cfg.Password}
		o.hasPending = false // test only, never saved
		o.pendingCmd = cmdTestWifi
		return StateBleTestingWifi

	case cmdReset:
		o.sendAck(cmdReset)
		if err := o.store.Clear(ctx); err != nil {
			o.logger.Error("reset failed", "error", err)
			o.sendResult(cmdReset, false, "clear_failed", "could not clear configuration")
			return StateBleConfiguring
		}
		o.deviceID = o.cfg.Device.DefaultID
		o.sendResult(cmdReset, true, "", "")
		return StateBleAdvertising

	default:
		o.logger.Warn("unknown ble command", "cmd", cmd)
		o.sendResult(cmd, false, "unknown_cmd", "unknown command")
		return StateBleConfiguring
	}
}

// sendInfo reports identity plus a peek at the stored configuration.
func (o *Orchestrator) sendInfo(ctx context.Context) {
	info := infoMsg{
		Type:       "info",
		FwVersion:  FirmwareVersion,
		DeviceID:   o.deviceID,
		Configured: o.store.IsConfigured(ctx),
	}
	if cfg, err := o.store.Load(ctx); err == nil {
		info.WifiSSID = cfg.SSID
		if len(cfg.Params) > 0 {
			info.PlantType = int(cfg.Param(configstore.ParamPlantTypeID, 0))
		}
	}
	o.sendJSON(info)
}

// sendWifiList scans and reports the visible networks.
func (o *Orchestrator) sendWifiList(ctx context.Context) {
	networks, err := o.wifi.Scan(ctx)
	if err != nil {
		o.logger.Warn("scan failed", "error", err)
		networks = nil
	}
	if networks == nil {
		networks = []wifi.Network{}
	}
	o.sendJSON(wifiListMsg{Type: "wifi_list", Networks: networks})
}

func (o *Orchestrator) sendAck(cmd string) {
	o.sendJSON(ackMsg{Type: "ack", Cmd: cmd})
}

func (o *Orchestrator) sendStatus(state string) {
	o.sendJSON(statusMsg{Type: "status", State: state})
}

func (o *Orchestrator) sendStatusProgress(state string, progress int) {
	o.sendJSON(statusMsg{Type: "status", State: state, Progress: &progress})
}

func (o *Orchestrator) sendResult(cmd string, success bool, errCode, msg string) {
	status := "ok"
	if !success {
		status = "error"
	}
	o.sendJSON(resultMsg{Type: "result", Cmd: cmd, Status: status, Error: errCode, Msg: msg})
}

// sendJSON serialises and ships one response. Send failures are logged,
// not propagated: the app retries at the protocol level and the FSM
// must keep ticking either way.
func (o *Orchestrator) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("encoding response", "error", err)
		return
	}
	if err := o.transport.Send(data); err != nil {
		o.logger.Warn("ble send failed", "error", err)
		return
	}
	o.logger.Debug("ble tx", "payload", string(data))
}
