// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"sync"
)

// LineEvent records one SetControlLine call on a Mock
type LineEvent struct {
	Line  Line
	Level bool
}

// Mock is a scripted in-memory port. Bytes queued with Queue, or produced by
// the write handler, are returned by Read. Everything the caller does is
// recorded for inspection.
type Mock struct {
	mu sync.Mutex

	path    string
	open    bool
	mode    Mode
	rx      []byte
	onWrite func([]byte) []byte

	// MaxRead limits the bytes returned per Read, to exercise fragmentation.
	// Zero means unlimited.
	MaxRead int

	// OpenErr, ReadErr, WriteErr and FlushErr are returned by the matching
	// call when set
	OpenErr  error
	ReadErr  error
	WriteErr error
	FlushErr error

	writes  [][]byte
	lines   []LineEvent
	bauds   []int
	flushes int
}

// NewMock creates a closed mock port
func NewMock() *Mock {
	return &Mock{}
}

// Queue appends bytes for Read to return
func (m *Mock) Queue(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rx = append(m.rx, data...)
}

// OnWrite installs a handler called with every written buffer. Its return
// value is queued as the response.
func (m *Mock) OnWrite(fn func([]byte) []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = fn
}

// Open marks the mock open
func (m *Mock) Open(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return m.OpenErr
	}
	if m.open {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, m.path)
	}
	m.open = true
	m.path = path
	return nil
}

// Configure records the requested mode
func (m *Mock) Configure(baud, dataBits, stopBits int, parity Parity) error {
	mode := Mode{Baud: baud, DataBits: dataBits, StopBits: stopBits, Parity: parity}
	if err := mode.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrNotOpen
	}
	m.mode = mode
	m.bauds = append(m.bauds, baud)
	return nil
}

// SetBaud records a baud change
func (m *Mock) SetBaud(baud int) error {
	m.mu.Lock()
	mode := m.mode
	m.mu.Unlock()
	return m.Configure(baud, mode.DataBits, mode.StopBits, mode.Parity)
}

func (m *Mock) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0, ErrNotOpen
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	limit := len(p)
	if m.MaxRead > 0 && m.MaxRead < limit {
		limit = m.MaxRead
	}
	n := copy(p[:limit], m.rx)
	m.rx = m.rx[n:]
	return n, nil
}

func (m *Mock) Write(p []byte) (int, error) {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return 0, ErrNotOpen
	}
	if m.WriteErr != nil {
		m.mu.Unlock()
		return 0, m.WriteErr
	}
	data := make([]byte, len(p))
	copy(data, p)
	m.writes = append(m.writes, data)
	handler := m.onWrite
	m.mu.Unlock()

	if handler != nil {
		if resp := handler(data); len(resp) > 0 {
			m.Queue(resp)
		}
	}
	return len(p), nil
}

// SetControlLine records the line change
func (m *Mock) SetControlLine(line Line, level bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrNotOpen
	}
	m.lines = append(m.lines, LineEvent{Line: line, Level: level})
	return nil
}

// Flush drops queued input
func (m *Mock) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FlushErr != nil {
		return m.FlushErr
	}
	m.rx = nil
	m.flushes++
	return nil
}

// Close marks the mock closed
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// Writes returns every buffer passed to Write
func (m *Mock) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// Lines returns every control line change
func (m *Mock) Lines() []LineEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LineEvent, len(m.lines))
	copy(out, m.lines)
	return out
}

// Bauds returns every baud rate configured, in order
func (m *Mock) Bauds() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.bauds))
	copy(out, m.bauds)
	return out
}

// Mode returns the last configured mode
func (m *Mock) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Flushes returns how many times Flush was called
func (m *Mock) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Path returns the path given to Open
func (m *Mock) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}
