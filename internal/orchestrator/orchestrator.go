package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/plantform/plantnode/internal/ble"
	"github.com/plantform/plantnode/internal/configstore"
	"github.com/plantform/plantnode/internal/infrastructure/config"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
	"github.com/plantform/plantnode/internal/sensor"
	"github.com/plantform/plantnode/internal/telemetry"
	"github.com/plantform/plantnode/internal/wifi"
)

// Device identity reported over BLE and in telemetry.
const (
	FirmwareVersion = "1.0.0"
	HardwareVersion = "gw-1"
)

// FSM timing and budgets.
const (
	// TickInterval is the FSM polling period.
	TickInterval = 20 * time.Millisecond

	// reconnectDelay seeds the retry backoff.
	reconnectDelay = time.Second

	// maxRetryInterval caps the retry backoff.
	maxRetryInterval = 30 * time.Second

	// maxConfigLoadFailures is how many consecutive failed loads are
	// tolerated before the record is treated as lost.
	maxConfigLoadFailures = 5

	// errorRecoveryDelay is how long the error state waits before
	// rebooting the FSM.
	errorRecoveryDelay = 5 * time.Second

	// wifiCheckInterval spaces out the link-state queries while
	// operating. Each check shells out to the network manager; every
	// tick would be absurd.
	wifiCheckInterval = 5 * time.Second

	// progressBucket is the granularity of test progress reports.
	progressBucket = 20
)

// Publisher is the telemetry session the MQTT_OP state drives.
// *telemetry.Publisher satisfies it; tests substitute a fake.
type Publisher interface {
	Initialize(ctx context.Context) error
	IsConnected() bool
	Publish(status string, snap sensor.Snapshot) error
	Close()
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Logger       *logging.Logger
	Store        *configstore.Store
	Transport    ble.Transport
	WiFi         *wifi.Manager
	NewPublisher func(deviceID int) Publisher
	History      *telemetry.History
	Sensors      *sensor.Store
}

// Status is a point-in-time view of the FSM for diagnostics.
type Status struct {
	State           string    `json:"state"`
	DeviceID        int       `json:"device_id"`
	Configured      bool      `json:"configured"`
	BLEConnected    bool      `json:"ble_connected"`
	MQTTConnected   bool      `json:"mqtt_connected"`
	LastPublish     time.Time `json:"last_publish,omitempty"`
	FirmwareVersion string    `json:"fw_version"`
}

// Orchestrator owns the connectivity FSM.
//
// All FSM fields are touched only from the tick goroutine; Status reads
// go through a separately locked snapshot.
type Orchestrator struct {
	cfg    *config.Config
	logger *logging.Logger

	store        *configstore.Store
	transport    ble.Transport
	wifi         *wifi.Manager
	newPublisher func(deviceID int) Publisher
	history      *telemetry.History
	sensors      *sensor.Store

	state    State
	deviceID int

	// Provisioning candidate, held only between a config/test_wifi
	// command and the end of its credential test.
	pending    configstore.DeviceConfig
	hasPending bool
	pendingCmd string

	tester           *wifi.ConnectivityTester
	lastProgressSent int

	// WifiConnecting reuses the tester mechanics for the stored-network
	// join.
	joiner *wifi.ConnectivityTester

	publisher          Publisher
	configLoadFailures int
	mqttInitRetries    int
	lastPublish        time.Time
	lastWifiCheck      time.Time
	wifiUp             bool

	retry   *backoff.ExponentialBackOff
	retryAt time.Time
	erredAt time.Time

	statusMu sync.RWMutex
	status   Status
}

// New wires an Orchestrator. The FSM starts in BOOT on the first tick.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = reconnectDelay
	retry.MaxInterval = maxRetryInterval
	retry.MaxElapsedTime = 0 // the FSM itself bounds retries

	return &Orchestrator{
		cfg:              cfg,
		logger:           deps.Logger.With("component", "orchestrator"),
		store:            deps.Store,
		transport:        deps.Transport,
		wifi:             deps.WiFi,
		newPublisher:     deps.NewPublisher,
		history:          deps.History,
		sensors:          deps.Sensors,
		state:            StateBoot,
		deviceID:         cfg.Device.DefaultID,
		lastProgressSent: -1,
		retry:            retry,
	}
}

// Run ticks the FSM until ctx is cancelled, then tears down.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	o.logger.Info("orchestrator started", "tick", TickInterval.String())

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs one FSM step.
func (o *Orchestrator) Tick(ctx context.Context) {
	var next State
	switch o.state {
	case StateBoot:
		next = o.handleBoot(ctx)
	case StateBleAdvertising:
		next = o.handleBleAdvertising(ctx)
	case StateBleConfiguring:
		next = o.handleBleConfiguring(ctx)
	case StateBleTestingWifi:
		next = o.handleBleTestingWifi(ctx)
	case StateWifiConnecting:
		next = o.handleWifiConnecting(ctx)
	case StateMqttOperating:
		next = o.handleMqttOperating(ctx)
	case StateError:
		next = o.handleError(ctx)
	default:
		next = StateError
	}

	if next != o.state {
		o.transition(next)
	}
	o.updateStatus(ctx)
}

// transition applies exit actions and switches state.
func (o *Orchestrator) transition(next State) {
	o.logger.Info("state transition", "from", o.state.String(), "to", next.String())

	// Leaving the test state always drops the candidate; a successful
	// test has already persisted it by now.
	if o.state == StateBleTestingWifi {
		o.tester = nil
		o.pending = configstore.DeviceConfig{}
		o.hasPending = false
		o.pendingCmd = ""
		o.lastProgressSent = -1
	}

	if next == StateError {
		o.erredAt = time.Now()
	}
	if next == StateWifiConnecting || next == StateMqttOperating {
		o.retry.Reset()
		o.retryAt = time.Time{}
	}

	o.state = next
}

// shutdown releases everything the FSM holds.
func (o *Orchestrator) shutdown() {
	o.logger.Info("orchestrator stopping")
	if o.tester != nil {
		o.tester.Stop(context.Background())
		o.tester = nil
	}
	if o.joiner != nil {
		o.joiner.Stop(context.Background())
		o.joiner = nil
	}
	if o.publisher != nil {
		o.publisher.Close()
		o.publisher = nil
	}
	if o.transport != nil {
		o.transport.Close() //nolint:errcheck // Best effort teardown
	}
}

// Status returns the latest diagnostics snapshot.
func (o *Orchestrator) Status() Status {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.status
}

// updateStatus refreshes the snapshot served to diagnostics readers.
func (o *Orchestrator) updateStatus(ctx context.Context) {
	s := Status{
		State:           o.state.String(),
		DeviceID:        o.deviceID,
		Configured:      o.store.IsConfigured(ctx),
		BLEConnected:    o.transport != nil && o.transport.Connected(),
		MQTTConnected:   o.publisher != nil && o.publisher.IsConnected(),
		LastPublish:     o.lastPublish,
		FirmwareVersion: FirmwareVersion,
	}
	o.statusMu.Lock()
	o.status = s
	o.statusMu.Unlock()
}

// retryDue reports whether the current retry delay has elapsed.
func (o *Orchestrator) retryDue() bool {
	return o.retryAt.IsZero() || !time.Now().Before(o.retryAt)
}

// scheduleRetry stamps the next attempt using the backoff policy.
func (o *Orchestrator) scheduleRetry() {
	o.retryAt = time.Now().Add(o.retry.NextBackOff())
}

// ---------------------------------------------------------------------------
// State handlers
// ---------------------------------------------------------------------------

// handleBoot routes to provisioning or normal operation.
func (o *Orchestrator) handleBoot(ctx context.Context) State {
	if !o.store.IsConfigured(ctx) {
		o.logger.Info("not configured, starting provisioning")
		if err := o.transport.StartAdvertising(ctx); err != nil {
			o.logger.Error("failed to start advertising", "error", err)
			return StateError
		}
		return StateBleAdvertising
	}

	if cfg, err := o.store.Load(ctx); err == nil {
		o.deviceID = cfg.DeviceID(o.cfg.Device.DefaultID)
		o.logger.Info("configuration loaded", "device_id", o.deviceID)
	}
	return StateWifiConnecting
}

// handleBleAdvertising waits for a central.
func (o *Orchestrator) handleBleAdvertising(_ context.Context) State {
	if o.transport.Connected() {
		o.logger.Info("central connected")
		return StateBleConfiguring
	}
	return StateBleAdvertising
}

// handleBleConfiguring services one provisioning command per tick.
func (o *Orchestrator) handleBleConfiguring(ctx context.Context) State {
	if !o.transport.Connected() {
		o.logger.Info("central disconnected")
		if err := o.transport.StartAdvertising(ctx); err != nil {
			o.logger.Error("failed to restart advertising", "error", err)
			return StateError
		}
		return StateBleAdvertising
	}

	if msg, ok := o.transport.Receive(); ok {
		return o.handleBleCommand(ctx, msg)
	}
	return StateBleConfiguring
}

// handleBleTestingWifi polls the credential test and reports progress.
func (o *Orchestrator) handleBleTestingWifi(ctx context.Context) State {
	if o.tester == nil {
		o.lastProgressSent = -1
		o.tester = o.wifi.StartTest(o.pending.SSID, o.pending.Password, o.cfg.WiFiTestTimeout())
		o.logger.Info("testing credentials", "ssid", o.pending.SSID)
	}

	progress := o.tester.Progress()
	if progress/progressBucket != o.lastProgressSent/progressBucket {
		o.sendStatusProgress("connecting_wifi", progress)
		o.lastProgressSent = progress
	}

	switch {
	case o.tester.Result() == wifi.TestSucceeded:
		o.logger.Info("credential test succeeded", "ssid", o.pending.SSID)
		o.sendStatusProgress("wifi_connected", 100)
		o.sendResult(o.pendingCmd, true, "", "")

		if o.hasPending {
			if err := o.store.Save(ctx, o.pending); err != nil {
				o.logger.Error("failed to persist configuration", "error", err)
				o.sendResult("config", false, "save_failed", "could not persist configuration")
				return StateError
			}
			o.deviceID = o.pending.DeviceID(o.cfg.Device.DefaultID)
			// Provisioning is done; the radio goes quiet and the joined
			// network is reused for normal operation.
			o.transport.StopAdvertising(ctx) //nolint:errcheck // Best effort
			return StateWifiConnecting
		}

		// Bare test: leave the network again, stay in the session.
		o.tester.Stop(ctx)
		return StateBleConfiguring

	case o.tester.TimedOut() || o.tester.Result() == wifi.TestFailed:
		o.logger.Warn("credential test failed", "ssid", o.pending.SSID)
		o.sendResult(o.pendingCmd, false, "wifi_timeout", "wifi connection failed")
		o.tester.Stop(ctx)

		if o.hasPending {
			if err := o.store.Clear(ctx); err != nil {
				o.logger.Error("failed to clear store", "error", err)
			}
		}
		return StateBleConfiguring
	}

	return StateBleTestingWifi
}

// handleWifiConnecting joins the stored network in the background.
func (o *Orchestrator) handleWifiConnecting(ctx context.Context) State {
	if o.joiner == nil {
		if !o.retryDue() {
			return StateWifiConnecting
		}
		cfg, err := o.store.Load(ctx)
		if err != nil {
			o.configLoadFailures++
			o.logger.Warn("config load failed",
				"attempt", o.configLoadFailures, "max", maxConfigLoadFailures, "error", err)

			if o.configLoadFailures >= maxConfigLoadFailures {
				o.logger.Error("configuration unreadable, returning to provisioning")
				o.store.Clear(ctx) //nolint:errcheck // Record already unusable
				o.configLoadFailures = 0
				if err := o.transport.StartAdvertising(ctx); err != nil {
					o.logger.Error("failed to start advertising", "error", err)
					return StateError
				}
				return StateBleAdvertising
			}
			o.scheduleRetry()
			return StateWifiConnecting
		}

		o.configLoadFailures = 0
		o.deviceID = cfg.DeviceID(o.cfg.Device.DefaultID)
		o.joiner = o.wifi.StartTest(cfg.SSID, cfg.Password, o.cfg.WiFiConnectTimeout())
		o.logger.Info("joining network", "ssid", cfg.SSID)
	}

	switch {
	case o.joiner.Result() == wifi.TestSucceeded:
		o.logger.Info("network joined")
		o.joiner = nil
		o.wifiUp = true
		o.lastWifiCheck = time.Now()
		return StateMqttOperating

	case o.joiner.TimedOut() || o.joiner.Result() == wifi.TestFailed:
		o.logger.Warn("network join failed, will retry")
		o.joiner = nil
		o.scheduleRetry()
	}
	return StateWifiConnecting
}

// handleMqttOperating keeps the broker session alive and publishes on
// the configured cadence.
func (o *Orchestrator) handleMqttOperating(ctx context.Context) State {
	if time.Since(o.lastWifiCheck) >= wifiCheckInterval {
		o.wifiUp = o.wifi.IsConnected(ctx)
		o.lastWifiCheck = time.Now()
	}
	if !o.wifiUp {
		o.logger.Warn("network connection lost")
		o.teardownPublisher()
		return StateWifiConnecting
	}

	if o.publisher == nil || !o.publisher.IsConnected() {
		if !o.retryDue() {
			return StateMqttOperating
		}
		if o.publisher == nil {
			o.publisher = o.newPublisher(o.deviceID)
		}
		if err := o.publisher.Initialize(ctx); err != nil {
			o.mqttInitRetries++
			o.logger.Warn("broker session init failed",
				"attempt", o.mqttInitRetries, "max", o.cfg.MQTT.MaxInitRetries, "error", err)

			if o.mqttInitRetries >= o.cfg.MQTT.MaxInitRetries {
				o.logger.Error("broker unreachable, rejoining network")
				o.mqttInitRetries = 0
				o.teardownPublisher()
				// Leave the network too: a fresh association shakes out
				// DHCP/DNS trouble that a live-but-broken link hides.
				o.wifi.Disconnect(ctx) //nolint:errcheck // Rejoin follows either way
				o.wifiUp = false
				return StateWifiConnecting
			}
			o.scheduleRetry()
			return StateMqttOperating
		}

		o.mqttInitRetries = 0
		o.retry.Reset()
		o.retryAt = time.Time{}
		// First reading goes out as soon as one is available.
		o.lastPublish = time.Time{}
		o.logger.Info("broker session established")
	}

	if o.lastPublish.IsZero() || time.Since(o.lastPublish) >= o.cfg.PublishInterval() {
		o.publishTelemetry()
	}
	return StateMqttOperating
}

// handleError waits out the recovery delay, then reboots the FSM.
func (o *Orchestrator) handleError(_ context.Context) State {
	if time.Since(o.erredAt) < errorRecoveryDelay {
		return StateError
	}
	o.logger.Info("recovering from error state")
	return StateBoot
}

// publishTelemetry sends the latest reading, mirroring it to history.
func (o *Orchestrator) publishTelemetry() {
	snap := o.sensors.Latest()
	if !snap.Valid() {
		return // no reading yet, try again next interval check
	}

	if err := o.publisher.Publish("ok", snap); err != nil {
		o.logger.Warn("telemetry publish failed", "error", err)
		return
	}
	o.lastPublish = time.Now()
	o.history.Record("ok", snap, o.deviceID)
}

// teardownPublisher closes the broker session if one exists.
func (o *Orchestrator) teardownPublisher() {
	if o.publisher != nil {
		o.publisher.Close()
		o.publisher = nil
	}
}
