package ble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plantform/plantnode/internal/infrastructure/config"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
)

func newTestBridge(t *testing.T) *WSBridge {
	t.Helper()
	b, err := NewWSBridge(config.BLEConfig{
		WS:        config.BLEWSConfig{Host: "127.0.0.1", Port: 0},
		QueueSize: 5,
	}, logging.Default())
	if err != nil {
		t.Fatalf("starting bridge: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func dialBridge(t *testing.T, b *WSBridge) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/ble", nil)
	if err != nil {
		t.Fatalf("dialing bridge: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBridgeRejectsWhenNotAdvertising(t *testing.T) {
	b := newTestBridge(t)

	if _, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/ble", nil); err == nil {
		t.Error("dial succeeded while not advertising")
	}
}

func TestBridgeSessionRoundtrip(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	if err := b.StartAdvertising(ctx); err != nil {
		t.Fatalf("StartAdvertising() error = %v", err)
	}
	conn := dialBridge(t, b)

	waitFor(t, b.Connected)

	// Client to daemon.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"cmd":"ping"}`)); err != nil {
		t.Fatalf("client write: %v", err)
	}
	waitFor(t, func() bool {
		msg, ok := b.Receive()
		return ok && string(msg) == `{"cmd":"ping"}`
	})

	// Daemon to client.
	if err := b.Send([]byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(reply) != `{"type":"pong"}` {
		t.Errorf("client got %q", reply)
	}
}

func TestBridgeSingleClient(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	if err := b.StartAdvertising(ctx); err != nil {
		t.Fatalf("StartAdvertising() error = %v", err)
	}
	dialBridge(t, b)
	waitFor(t, b.Connected)

	// A second client is refused while the first holds the session.
	if _, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/ble", nil); err == nil {
		t.Error("second concurrent dial succeeded")
	}
}

func TestBridgeStopAdvertisingDropsClient(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	if err := b.StartAdvertising(ctx); err != nil {
		t.Fatalf("StartAdvertising() error = %v", err)
	}
	dialBridge(t, b)
	waitFor(t, b.Connected)

	if err := b.StopAdvertising(ctx); err != nil {
		t.Fatalf("StopAdvertising() error = %v", err)
	}
	waitFor(t, func() bool { return !b.Connected() })

	if err := b.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want %v", err, ErrNotConnected)
	}
}
