package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/plantform/plantnode/internal/infrastructure/config"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
	"github.com/plantform/plantnode/internal/sensor"
)

// History parameters.
const (
	historyPingTimeout = 5 * time.Second

	// msPerSecond converts the flush interval to the milliseconds the
	// InfluxDB API expects.
	msPerSecond = 1000
)

// History mirrors published readings into a local InfluxDB bucket.
//
// Writes are batched and asynchronous; a slow or absent InfluxDB never
// delays a broker publish. When history is disabled the zero-value
// methods are no-ops, so callers don't branch.
type History struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logging.Logger

	mu        sync.RWMutex
	connected bool
}

// NewHistory connects the mirror. Returns (nil, nil) when disabled.
func NewHistory(ctx context.Context, cfg config.HistoryConfig, logger *logging.Logger) (*History, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*msPerSecond),
	)

	pingCtx, cancel := context.WithTimeout(ctx, historyPingTimeout)
	defer cancel()
	if _, err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging influxdb: %w", err)
	}

	h := &History{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:    logger.With("component", "history"),
		connected: true,
	}

	// Async write failures surface here, not at the call site.
	go func() {
		for err := range h.writeAPI.Errors() {
			h.logger.Warn("history write failed", "error", err)
		}
	}()

	h.logger.Info("history mirror connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return h, nil
}

// Record mirrors one published reading. Safe to call on a nil History.
func (h *History) Record(status string, snap sensor.Snapshot, deviceID int) {
	if h == nil {
		return
	}
	h.mu.RLock()
	connected := h.connected
	h.mu.RUnlock()
	if !connected {
		return
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"device_id": fmt.Sprintf("esp32_%03d", deviceID),
			"status":    status,
		},
		map[string]interface{}{
			"temperature": snap.Temperature,
			"humidity":    snap.Humidity,
			"moisture":    snap.Moisture,
			"light":       snap.Light,
		},
		snap.Taken,
	)
	h.writeAPI.WritePoint(point)
}

// Close flushes pending points and shuts the mirror down. Safe on nil.
func (h *History) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.connected = false
	h.mu.Unlock()

	h.writeAPI.Flush()
	h.client.Close()
}
