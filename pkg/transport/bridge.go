// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// BridgeOptions configures the WebSocket connection to a serial bridge
type BridgeOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool

	// DialTimeout bounds the whole connection attempt. Zero selects 15s.
	DialTimeout time.Duration
}

// Bridge is a serial port exposed by a remote bridge over WebSocket.
// Received data is buffered by a reader goroutine so Read never blocks.
type Bridge struct {
	opts BridgeOptions

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	url     string
	mode    Mode
	buf     []byte
	readErr error
	done    chan struct{}
}

// NewBridge creates an unconnected bridge port
func NewBridge(opts BridgeOptions) *Bridge {
	return &Bridge{opts: opts}
}

// Open connects to the bridge at the given ws:// or wss:// URL
func (b *Bridge) Open(rawURL string) error {
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, b.url)
	}
	b.mu.Unlock()

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: b.opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if b.opts.Username != "" && b.opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(b.opts.Username + ":" + b.opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	timeout := b.opts.DialTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.url = rawURL
	b.buf = nil
	b.readErr = nil
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.readLoop(conn, b.done)
	return nil
}

// readLoop moves DATA envelopes into the receive buffer until the
// connection fails
func (b *Bridge) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			b.readErr = fmt.Errorf("%w: %v", ErrClosed, err)
			b.mu.Unlock()
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		kind, fields, err := ParseEnvelope(data)
		if err != nil || kind != EnvelopeData {
			continue
		}
		payload, ok := GetMapBytes(fields, keyData)
		if !ok {
			continue
		}

		b.mu.Lock()
		b.buf = append(b.buf, payload...)
		b.mu.Unlock()
	}
}

// URL returns the bridge address given to Open
func (b *Bridge) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url
}

// Configure asks the bridge to apply baud rate and frame format
func (b *Bridge) Configure(baud, dataBits, stopBits int, parity Parity) error {
	mode := Mode{Baud: baud, DataBits: dataBits, StopBits: stopBits, Parity: parity}
	if err := mode.Validate(); err != nil {
		return err
	}
	msg, err := ModeEnvelope(mode)
	if err != nil {
		return err
	}
	if err := b.send(msg); err != nil {
		return err
	}
	b.mu.Lock()
	b.mode = mode
	b.mu.Unlock()
	return nil
}

// SetBaud changes only the baud rate, keeping the frame format
func (b *Bridge) SetBaud(baud int) error {
	b.mu.Lock()
	mode := b.mode
	b.mu.Unlock()
	if mode.DataBits == 0 {
		mode = Mode{DataBits: 8, StopBits: 1, Parity: ParityNone}
	}
	return b.Configure(baud, mode.DataBits, mode.StopBits, mode.Parity)
}

// Read returns buffered bytes, or 0 when nothing has arrived
func (b *Bridge) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		if b.readErr != nil {
			return 0, b.readErr
		}
		if b.conn == nil {
			return 0, ErrNotOpen
		}
		return 0, nil
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (b *Bridge) Write(p []byte) (int, error) {
	msg, err := DataEnvelope(p)
	if err != nil {
		return 0, err
	}
	if err := b.send(msg); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetControlLine asks the bridge to drive DTR or RTS
func (b *Bridge) SetControlLine(line Line, level bool) error {
	msg, err := LineEnvelope(line, level)
	if err != nil {
		return err
	}
	return b.send(msg)
}

// Flush discards local buffered input and asks the bridge to do the same
func (b *Bridge) Flush() error {
	b.mu.Lock()
	b.buf = nil
	b.mu.Unlock()

	msg, err := FlushEnvelope()
	if err != nil {
		return err
	}
	return b.send(msg)
}

// Close shuts down the connection and waits for the reader to exit
func (b *Bridge) Close() error {
	b.mu.Lock()
	conn, done := b.conn, b.done
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}

	b.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	b.writeMu.Unlock()

	err := conn.Close()
	<-done
	return err
}

func (b *Bridge) send(msg []byte) error {
	b.mu.Lock()
	conn, readErr := b.conn, b.readErr
	b.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	if readErr != nil {
		return readErr
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}
