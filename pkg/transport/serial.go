// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// Serial is a local serial port. Reads are polled with a zero timeout so a
// Read with nothing pending returns immediately.
type Serial struct {
	mu   sync.Mutex
	path string
	port serial.Port
	mode Mode
}

// NewSerial creates an unopened serial port
func NewSerial() *Serial {
	return &Serial{}
}

// Open opens the device at path. Opening an already open port fails with
// ErrAlreadyOpen and leaves the existing handle untouched.
func (s *Serial) Open(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, s.path)
	}

	mode := Mode{Baud: 9600, DataBits: 8, StopBits: 1, Parity: ParityNone}
	port, err := serial.Open(path, toSerialMode(mode))
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", path, describeError(err))
	}
	if err := port.SetReadTimeout(0); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", path, describeError(err))
	}

	s.path = path
	s.port = port
	s.mode = mode
	return nil
}

// Path returns the device path given to Open
func (s *Serial) Path() string {
	return s.path
}

// Configure applies baud rate and frame format
func (s *Serial) Configure(baud, dataBits, stopBits int, parity Parity) error {
	mode := Mode{Baud: baud, DataBits: dataBits, StopBits: stopBits, Parity: parity}
	if err := mode.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrNotOpen
	}
	if err := s.port.SetMode(toSerialMode(mode)); err != nil {
		return fmt.Errorf("failed to configure %s as %s: %w", s.path, mode, describeError(err))
	}
	s.mode = mode
	return nil
}

// SetBaud changes only the baud rate, keeping the frame format
func (s *Serial) SetBaud(baud int) error {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	return s.Configure(baud, mode.DataBits, mode.StopBits, mode.Parity)
}

// Mode returns the current port configuration
func (s *Serial) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Serial) Read(p []byte) (int, error) {
	port, err := s.handle()
	if err != nil {
		return 0, err
	}
	n, err := port.Read(p)
	if err != nil {
		return n, describeError(err)
	}
	return n, nil
}

func (s *Serial) Write(p []byte) (int, error) {
	port, err := s.handle()
	if err != nil {
		return 0, err
	}
	n, err := port.Write(p)
	if err != nil {
		return n, describeError(err)
	}
	return n, nil
}

// SetControlLine drives DTR or RTS
func (s *Serial) SetControlLine(line Line, level bool) error {
	port, err := s.handle()
	if err != nil {
		return err
	}
	if line == LineRTS {
		err = port.SetRTS(level)
	} else {
		err = port.SetDTR(level)
	}
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", line, describeError(err))
	}
	return nil
}

// Flush discards pending input and output
func (s *Serial) Flush() error {
	port, err := s.handle()
	if err != nil {
		return err
	}
	if err := port.ResetInputBuffer(); err != nil {
		return describeError(err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		return describeError(err)
	}
	return nil
}

// Close releases the device. Closing twice is a no-op.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) handle() (serial.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil, ErrNotOpen
	}
	return s.port, nil
}

func toSerialMode(m Mode) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: m.Baud,
		DataBits: m.DataBits,
		StopBits: serial.OneStopBit,
	}
	if m.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch m.Parity {
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityMark:
		mode.Parity = serial.MarkParity
	case ParitySpace:
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode
}

// ListPorts returns the serial devices present on the system
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, describeError(err)
	}
	return ports, nil
}

// IsDisconnect reports whether err means the device went away
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return true
	}

	if code, ok := portErrorCode(err); ok {
		switch code {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		}
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no such device") ||
		strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "bad file descriptor")
}

// describeError adds a readable reason to serial library errors
func describeError(err error) error {
	code, ok := portErrorCode(err)
	if !ok {
		return err
	}
	var reason string
	switch code {
	case serial.PortBusy:
		reason = "port busy"
	case serial.PortNotFound:
		reason = "port not found"
	case serial.PermissionDenied:
		reason = "permission denied"
	case serial.InvalidSpeed:
		reason = "speed not supported by the device"
	case serial.PortClosed:
		reason = "port closed"
	default:
		return err
	}
	return fmt.Errorf("%s: %w", reason, err)
}

// portErrorCode extracts the library error code, returned by value or pointer
func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var ptr *serial.PortError
	if errors.As(err, &ptr) {
		return ptr.Code(), true
	}
	var val serial.PortError
	if errors.As(err, &val) {
		return val.Code(), true
	}
	return 0, false
}
