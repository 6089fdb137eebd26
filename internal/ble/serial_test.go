package ble

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/plantform/plantnode/internal/infrastructure/config"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
)

// fakePort is an in-memory stand-in for the co-processor UART.
type fakePort struct {
	in chan []byte

	mu         sync.Mutex
	writeSizes []int
	written    []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakePort() *fakePort {
	return &fakePort{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case data := <-p.in:
		return copy(b, data), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeSizes = append(p.writeSizes, len(b))
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// inject feeds raw bytes to the transport's read loop.
func (p *fakePort) inject(s string) {
	p.in <- []byte(s)
}

func newTestSerial(t *testing.T) (*SerialTransport, *fakePort) {
	t.Helper()
	port := newFakePort()
	tr := newSerialTransport(port, config.BLEConfig{QueueSize: 5, MTU: 20}, logging.Default())
	t.Cleanup(func() { tr.Close() })
	return tr, port
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSerialConnectionEvents(t *testing.T) {
	tr, port := newTestSerial(t)

	if tr.Connected() {
		t.Error("Connected() = true before any event")
	}

	port.inject("+CONNECTED\n")
	waitFor(t, tr.Connected)

	port.inject("+DISCONNECTED\n")
	waitFor(t, func() bool { return !tr.Connected() })
}

func TestSerialReceivesLineFramedMessages(t *testing.T) {
	tr, port := newTestSerial(t)

	// Message split across reads, CRLF terminated.
	port.inject(`{"cmd":`)
	port.inject("\"ping\"}\r\n")

	waitFor(t, func() bool {
		msg, ok := tr.Receive()
		return ok && string(msg) == `{"cmd":"ping"}`
	})
}

func TestSerialDisconnectResetsQueue(t *testing.T) {
	tr, port := newTestSerial(t)

	port.inject("+CONNECTED\n")
	port.inject(`{"cmd":"ping"}` + "\n")
	waitFor(t, tr.Connected)

	port.inject("+DISCONNECTED\n")
	waitFor(t, func() bool { return !tr.Connected() })

	if _, ok := tr.Receive(); ok {
		t.Error("Receive() returned a stale message after disconnect")
	}
}

func TestSerialSendRequiresConnection(t *testing.T) {
	tr, _ := newTestSerial(t)

	if err := tr.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestSerialSendChunksAtMTU(t *testing.T) {
	tr, port := newTestSerial(t)

	port.inject("+CONNECTED\n")
	waitFor(t, tr.Connected)

	msg := make([]byte, 45)
	for i := range msg {
		msg[i] = 'a'
	}
	if err := tr.Send(msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	port.mu.Lock()
	sizes := append([]int(nil), port.writeSizes...)
	written := append([]byte(nil), port.written...)
	port.mu.Unlock()

	// 45 bytes + newline = 46, chunked at 20: 20, 20, 6.
	want := []int{20, 20, 6}
	if len(sizes) != len(want) {
		t.Fatalf("write sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("write %d size = %d, want %d", i, sizes[i], want[i])
		}
	}
	if string(written) != string(msg)+"\n" {
		t.Error("written bytes do not reassemble to message plus terminator")
	}
}

func TestSerialSendRejectsOversized(t *testing.T) {
	tr, port := newTestSerial(t)
	port.inject("+CONNECTED\n")
	waitFor(t, tr.Connected)

	if err := tr.Send(make([]byte, MaxMessageSize+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Send() error = %v, want %v", err, ErrMessageTooLarge)
	}
}

func TestSerialDropsOversizedInbound(t *testing.T) {
	tr, port := newTestSerial(t)

	big := make([]byte, MaxMessageSize+10)
	for i := range big {
		big[i] = 'x'
	}
	port.inject(string(big))
	port.inject("\n" + `{"cmd":"ping"}` + "\n")

	waitFor(t, func() bool {
		msg, ok := tr.Receive()
		return ok && string(msg) == `{"cmd":"ping"}`
	})
}

func TestSerialAdvertisingCommands(t *testing.T) {
	tr, port := newTestSerial(t)

	ctx := context.Background()
	if err := tr.StartAdvertising(ctx); err != nil {
		t.Fatalf("StartAdvertising() error = %v", err)
	}
	if err := tr.StopAdvertising(ctx); err != nil {
		t.Fatalf("StopAdvertising() error = %v", err)
	}

	port.mu.Lock()
	written := string(port.written)
	port.mu.Unlock()
	if written != "+ADV\n+STOP\n" {
		t.Errorf("control writes = %q, want +ADV and +STOP lines", written)
	}
}
