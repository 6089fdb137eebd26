package wifi

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/plantform/plantnode/internal/infrastructure/config"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
)

// Runner executes a network manager command and returns its combined
// output. The production runner shells out to nmcli.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// execRunner invokes the real nmcli binary.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "nmcli", args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("nmcli %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Manager drives the station interface.
type Manager struct {
	iface  string
	runner Runner
	logger *logging.Logger
}

// NewManager creates a Manager for the configured interface.
func NewManager(cfg config.WiFiConfig, logger *logging.Logger) *Manager {
	return NewManagerWithRunner(cfg.Interface, execRunner{}, logger)
}

// NewManagerWithRunner wires a Manager around an arbitrary runner. Tests
// use this with canned output.
func NewManagerWithRunner(iface string, runner Runner, logger *logging.Logger) *Manager {
	return &Manager{
		iface:  iface,
		runner: runner,
		logger: logger.With("component", "wifi", "interface", iface),
	}
}

// Connect joins the network with the given credentials. Blocks until the
// join completes, fails, or ctx expires.
func (m *Manager) Connect(ctx context.Context, ssid, password string) error {
	m.logger.Info("connecting", "ssid", ssid)

	args := []string{"device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	args = append(args, "ifname", m.iface)

	if _, err := m.runner.Run(ctx, args...); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	m.logger.Info("connected", "ssid", ssid)
	return nil
}

// Disconnect leaves the current network. Not an error if already
// disconnected.
func (m *Manager) Disconnect(ctx context.Context) error {
	_, err := m.runner.Run(ctx, "device", "disconnect", m.iface)
	if err != nil {
		return fmt.Errorf("disconnecting %s: %w", m.iface, err)
	}
	return nil
}

// IsConnected reports whether the interface is associated.
func (m *Manager) IsConnected(ctx context.Context) bool {
	out, err := m.runner.Run(ctx, "-t", "-f", "DEVICE,STATE", "device", "status")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		fields := splitEscaped(strings.TrimSpace(line), ':')
		if len(fields) >= 2 && fields[0] == m.iface {
			return fields[1] == "connected"
		}
	}
	return false
}
