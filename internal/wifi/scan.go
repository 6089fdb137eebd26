package wifi

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxScanResults caps the network list returned to the companion app.
// The app shows a short picker; anything past the strongest eight is
// noise.
const MaxScanResults = 8

// Network is one visible access point.
type Network struct {
	// SSID is the network name.
	SSID string `json:"ssid"`

	// Signal is nmcli's signal quality, 0-100.
	Signal int `json:"rssi"`

	// Secure is true when the network requires credentials.
	Secure bool `json:"secure"`
}

// Scan lists visible networks, strongest first.
//
// Hidden networks are skipped and duplicate SSIDs are collapsed to the
// strongest sighting. The result is capped at MaxScanResults.
func (m *Manager) Scan(ctx context.Context) ([]Network, error) {
	out, err := m.runner.Run(ctx,
		"-t", "-f", "SSID,SIGNAL,SECURITY",
		"device", "wifi", "list", "ifname", m.iface, "--rescan", "yes")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}

	networks := parseScanOutput(out)
	m.logger.Info("scan complete", "networks", len(networks))
	return networks, nil
}

// parseScanOutput converts nmcli terse output into a deduplicated,
// strongest-first network list.
//
// Each line is SSID:SIGNAL:SECURITY with ':' inside fields escaped as
// '\:'.
func parseScanOutput(out string) []Network {
	bySSID := make(map[string]Network)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := splitEscaped(line, ':')
		if len(fields) < 3 {
			continue
		}
		ssid := fields[0]
		if ssid == "" {
			continue // hidden
		}
		signal, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		n := Network{
			SSID:   ssid,
			Signal: signal,
			Secure: fields[2] != "" && fields[2] != "--",
		}
		if prev, seen := bySSID[ssid]; !seen || n.Signal > prev.Signal {
			bySSID[ssid] = n
		}
	}

	networks := make([]Network, 0, len(bySSID))
	for _, n := range bySSID {
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool {
		if networks[i].Signal != networks[j].Signal {
			return networks[i].Signal > networks[j].Signal
		}
		return networks[i].SSID < networks[j].SSID
	})

	if len(networks) > MaxScanResults {
		networks = networks[:MaxScanResults]
	}
	return networks
}

// splitEscaped splits s on sep, honouring backslash escapes. nmcli terse
// output escapes separators inside field values.
func splitEscaped(s string, sep byte) []string {
	var fields []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s):
			cur.WriteByte(s[i+1])
			i++
		case s[i] == sep:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	fields = append(fields, cur.String())
	return fields
}
