package ble

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plantform/plantnode/internal/infrastructure/config"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
)

// wsWriteTimeout bounds each outbound write to a bridge client.
const wsWriteTimeout = 5 * time.Second

// WSBridge is a development stand-in for the co-processor: a WebSocket
// endpoint speaking the same one-JSON-message-per-frame protocol, so the
// provisioning flow can be exercised from a desktop simulator without
// radio hardware.
//
// One client at a time. "Advertising" maps to accepting upgrades;
// while not advertising the endpoint answers 503.
type WSBridge struct {
	logger   *logging.Logger
	inbox    *queue
	server   *http.Server
	addr     string
	upgrader websocket.Upgrader

	mu          sync.Mutex
	conn        *websocket.Conn
	advertising bool
	closed      bool
}

// NewWSBridge starts the bridge listener on cfg.WS.Host:Port.
func NewWSBridge(cfg config.BLEConfig, logger *logging.Logger) (*WSBridge, error) {
	b := &WSBridge{
		logger: logger.With("component", "ble", "transport", "ws"),
		inbox:  newQueue(cfg.QueueSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local dev tool, simulators connect from file:// pages.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ble", b.handleUpgrade)

	addr := net.JoinHostPort(cfg.WS.Host, fmt.Sprintf("%d", cfg.WS.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	b.addr = ln.Addr().String()

	b.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := b.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			b.logger.Error("bridge server failed", "error", err)
		}
	}()

	b.logger.Info("ble bridge listening", "addr", b.addr)
	return b, nil
}

// Addr returns the bound listen address, useful when the configured port
// is 0.
func (b *WSBridge) Addr() string {
	return b.addr
}

// StartAdvertising begins accepting a client.
func (b *WSBridge) StartAdvertising(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.advertising = true
	return nil
}

// StopAdvertising stops accepting clients and drops the current one.
func (b *WSBridge) StopAdvertising(_ context.Context) error {
	b.mu.Lock()
	b.advertising = false
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn != nil {
		conn.Close() //nolint:errcheck // Best effort teardown
	}
	b.inbox.reset()
	return nil
}

// Connected reports whether a client is attached.
func (b *WSBridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Receive returns the next queued inbound message, if any.
func (b *WSBridge) Receive() ([]byte, bool) {
	return b.inbox.tryPop()
}

// Send writes msg as one text frame. The bridge carries whole messages;
// MTU chunking only exists on the real UART link.
func (b *WSBridge) Send(msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(msg))
	}
	b.mu.Lock()
	conn := b.conn
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)) //nolint:errcheck // net.Conn deadline
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Close shuts the bridge down.
func (b *WSBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn != nil {
		conn.Close() //nolint:errcheck // Best effort teardown
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.server.Shutdown(ctx)
}

// handleUpgrade accepts one simulator client.
func (b *WSBridge) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	accepting := b.advertising && !b.closed && b.conn == nil
	b.mu.Unlock()
	if !accepting {
		http.Error(w, "not advertising", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	if b.conn != nil || b.closed {
		b.mu.Unlock()
		conn.Close() //nolint:errcheck // Lost the race, drop the extra client
		return
	}
	b.conn = conn
	b.mu.Unlock()

	b.logger.Info("central connected", "remote", r.RemoteAddr)
	go b.readPump(conn)
}

// readPump pushes inbound frames until the client goes away.
func (b *WSBridge) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(MaxMessageSize)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
			}
			b.mu.Unlock()
			b.inbox.reset()
			b.logger.Info("central disconnected")
			return
		}
		if !b.inbox.push(msg) {
			b.logger.Warn("inbound queue full, message dropped")
		}
		b.logger.Debug("ble rx", "bytes", len(msg), "payload", string(msg))
	}
}
