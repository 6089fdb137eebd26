package ble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goburrow/serial"

	"github.com/plantform/plantnode/internal/infrastructure/config"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
)

// serialReadTimeout bounds each port read so the read loop can notice a
// closed transport.
const serialReadTimeout = 500 * time.Millisecond

// SerialTransport speaks the co-processor line protocol over a UART.
type SerialTransport struct {
	logger *logging.Logger
	inbox  *queue
	mtu    int

	mu        sync.Mutex
	port      io.ReadWriteCloser
	connected bool
	closed    bool

	done chan struct{}
}

// NewSerial opens the co-processor UART and starts the read loop.
func NewSerial(cfg config.BLEConfig, logger *logging.Logger) (*SerialTransport, error) {
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Serial.Port,
		BaudRate: cfg.Serial.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  serialReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", cfg.Serial.Port, err)
	}
	return newSerialTransport(port, cfg, logger), nil
}

// newSerialTransport wires a transport around an already-open port.
// Split from NewSerial so tests can supply a pipe.
func newSerialTransport(port io.ReadWriteCloser, cfg config.BLEConfig, logger *logging.Logger) *SerialTransport {
	mtu := cfg.MTU
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	t := &SerialTransport{
		logger: logger.With("component", "ble", "transport", "serial"),
		inbox:  newQueue(cfg.QueueSize),
		mtu:    mtu,
		port:   port,
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// StartAdvertising asks the co-processor to advertise.
func (t *SerialTransport) StartAdvertising(_ context.Context) error {
	return t.writeLine([]byte(cmdAdvertise))
}

// StopAdvertising stops advertising and forgets the current central.
func (t *SerialTransport) StopAdvertising(_ context.Context) error {
	if err := t.writeLine([]byte(cmdStop)); err != nil {
		return err
	}
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.inbox.reset()
	return nil
}

// Connected reports whether a central is attached.
func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Receive returns the next queued inbound message, if any.
func (t *SerialTransport) Receive() ([]byte, bool) {
	return t.inbox.tryPop()
}

// Send writes msg to the central in MTU-sized chunks.
func (t *SerialTransport) Send(msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(msg))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if !t.connected {
		return ErrNotConnected
	}
	return t.writeChunked(msg)
}

// Close shuts the transport down and closes the port.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	port := t.port
	t.mu.Unlock()

	err := port.Close()
	<-t.done
	return err
}

// writeLine writes a control line. Control lines are short and never
// chunked.
func (t *SerialTransport) writeLine(line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	_, err := t.port.Write(append(line, '\n'))
	if err != nil {
		return fmt.Errorf("writing control line: %w", err)
	}
	return nil
}

// writeChunked writes msg plus terminator in mtu-sized slices. The
// co-processor forwards each write as one notification; the app
// reassembles on the newline. Caller holds t.mu.
func (t *SerialTransport) writeChunked(msg []byte) error {
	frame := make([]byte, 0, len(msg)+1)
	frame = append(frame, msg...)
	frame = append(frame, '\n')

	for off := 0; off < len(frame); off += t.mtu {
		end := off + t.mtu
		if end > len(frame) {
			end = len(frame)
		}
		if _, err := t.port.Write(frame[off:end]); err != nil {
			return fmt.Errorf("writing chunk at %d: %w", off, err)
		}
	}
	return nil
}

// readLoop splits the UART stream into lines and dispatches them.
// Exits when the port closes.
func (t *SerialTransport) readLoop() {
	defer close(t.done)

	var buf []byte
	chunk := make([]byte, 256)
	for {
		n, err := t.port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := bytes.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := bytes.TrimRight(buf[:idx], "\r")
				t.handleLine(line)
				buf = buf[idx+1:]
			}
			// A peer that never sends a newline must not grow the buffer.
			if len(buf) > MaxMessageSize {
				t.logger.Warn("discarding oversized partial line", "bytes", len(buf))
				buf = buf[:0]
			}
		}
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				t.mu.Lock()
				closed := t.closed
				t.mu.Unlock()
				if closed {
					return
				}
				continue
			}
			t.mu.Lock()
			closed := t.closed
			t.connected = false
			t.mu.Unlock()
			if !closed {
				t.logger.Error("serial read failed", "error", err)
			}
			return
		}
	}
}

// handleLine routes one line: control event or message payload.
func (t *SerialTransport) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	switch string(line) {
	case eventConnected:
		t.mu.Lock()
		t.connected = true
		t.mu.Unlock()
		t.logger.Info("central connected")
		return
	case eventDisconnected:
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		t.inbox.reset()
		t.logger.Info("central disconnected")
		return
	}

	if len(line) > MaxMessageSize {
		t.logger.Warn("dropping oversized message", "bytes", len(line))
		return
	}
	msg := make([]byte, len(line))
	copy(msg, line)
	if !t.inbox.push(msg) {
		t.logger.Warn("inbound queue full, message dropped")
	}
	t.logger.Debug("ble rx", "bytes", len(msg), "payload", string(msg))
}
