package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/plantform/plantnode/internal/infrastructure/config"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
	"github.com/plantform/plantnode/internal/sensor"
)

// Timeouts for broker operations.
const (
	probeTimeout   = 10 * time.Second
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second

	// disconnectQuiesce is how long Close lets in-flight messages drain
	// (milliseconds, per the paho API).
	disconnectQuiesce = 250
)

// Publisher maintains the TLS MQTT session to the platform broker.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Publisher struct {
	cfg      config.MQTTConfig
	logger   *logging.Logger
	deviceID int

	client pahomqtt.Client

	connected bool
	mu        sync.RWMutex
}

// NewPublisher creates an unconnected Publisher for the given device.
func NewPublisher(cfg config.MQTTConfig, deviceID int, logger *logging.Logger) *Publisher {
	return &Publisher{
		cfg:      cfg,
		logger:   logger.With("component", "telemetry", "device_id", deviceID),
		deviceID: deviceID,
	}
}

// Initialize probes the broker's TLS endpoint, then establishes the MQTT
// session.
//
// The probe is a bare handshake, connect then close: it surfaces
// certificate and reachability problems as one clean error before any
// session state exists. The caller owns the retry budget.
//
// Returns:
//   - error: ErrProbeFailed or ErrConnectionFailed
func (p *Publisher) Initialize(ctx context.Context) error {
	tlsCfg, err := buildTLSConfig(p.cfg.Broker.CAFile)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	addr := net.JoinHostPort(p.cfg.Broker.Host, fmt.Sprintf("%d", p.cfg.Broker.Port))
	if err := probeTLS(ctx, addr, tlsCfg); err != nil {
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	p.logger.Info("tls probe succeeded", "broker", addr)

	opts := pahomqtt.NewClientOptions().
		AddBroker("ssl://" + addr).
		SetClientID(fmt.Sprintf("plantnode_%03d", p.deviceID)).
		SetTLSConfig(tlsCfg).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetKeepAlive(60 * time.Second)

	if p.cfg.Auth.Username != "" {
		opts.SetUsername(p.cfg.Auth.Username)
		opts.SetPassword(p.cfg.Auth.Password)
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		p.setConnected(true)
		p.logger.Info("broker session established")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("broker session lost", "error", err)
	})

	client := pahomqtt.NewClient(opts)
	if err := connectSession(client, connectTimeout); err != nil {
		return err
	}

	p.mu.Lock()
	p.client = client
	p.connected = true
	p.mu.Unlock()
	return nil
}

// IsConnected reports whether the session is up.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client != nil && p.client.IsConnected()
}

// Publish sends one reading to the device's telemetry topic.
func (p *Publisher) Publish(status string, snap sensor.Snapshot) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil || !p.IsConnected() {
		return ErrNotConnected
	}

	payload, err := buildPayload(status, snap, p.deviceID)
	if err != nil {
		return err
	}

	topic := TelemetryTopic(p.deviceID)
	token := client.Publish(topic, byte(p.cfg.QoS), false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout on %s", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	p.logger.Debug("telemetry published", "topic", topic, "status", status)
	return nil
}

// Close tears the session down, draining in-flight messages briefly.
func (p *Publisher) Close() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.connected = false
	p.mu.Unlock()

	if client != nil {
		client.Disconnect(disconnectQuiesce)
	}
}

// setConnected updates the session flag from paho callbacks.
func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// connectSession establishes the broker session on a fresh client.
//
// On failure the client is disconnected before returning: an abandoned
// connect can still complete in the background, and a stray session
// holding the device's client id would kick the next real one off the
// broker.
func connectSession(client pahomqtt.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// probeTLS performs a bare handshake against addr and closes.
func probeTLS(ctx context.Context, addr string, tlsCfg *tls.Config) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: probeTimeout},
		Config:    tlsCfg,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// buildTLSConfig returns a config trusting CAFile when set, otherwise the
// system pool.
func buildTLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}
