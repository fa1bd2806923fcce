// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the byte links a programming session runs over:
// a local serial port, a remote serial bridge reached over WebSocket, and a
// scripted mock for tests.
package transport

import (
	"errors"
	"fmt"
)

// Parity selects the UART parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

// String returns the parity letter used in mode strings such as 8E1
func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "N"
	case ParityOdd:
		return "O"
	case ParityEven:
		return "E"
	case ParityMark:
		return "M"
	case ParitySpace:
		return "S"
	}
	return fmt.Sprintf("Parity(%d)", int(p))
}

// Line identifies a modem control line
type Line int

const (
	LineDTR Line = iota
	LineRTS
)

// String returns the lowercase line name
func (l Line) String() string {
	if l == LineRTS {
		return "rts"
	}
	return "dtr"
}

// ParseLine converts a line name back to a Line
func ParseLine(name string) (Line, error) {
	switch name {
	case "dtr":
		return LineDTR, nil
	case "rts":
		return LineRTS, nil
	}
	return 0, fmt.Errorf("unknown control line %q", name)
}

// Port is the link a programming session talks through. Read never blocks:
// it returns 0 bytes when nothing is pending.
type Port interface {
	Open(path string) error
	Configure(baud, dataBits, stopBits int, parity Parity) error
	SetBaud(baud int) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetControlLine(line Line, level bool) error
	Flush() error
	Close() error
}

// Mode is the framing configuration applied by Configure
type Mode struct {
	Baud     int
	DataBits int
	StopBits int
	Parity   Parity
}

// String returns the mode in the usual 115200 8N1 notation
func (m Mode) String() string {
	return fmt.Sprintf("%d %d%s%d", m.Baud, m.DataBits, m.Parity, m.StopBits)
}

// Validate checks the mode against the supported rates and frame formats
func (m Mode) Validate() error {
	if !IsStandardBaud(m.Baud) {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaud, m.Baud)
	}
	if m.DataBits < 5 || m.DataBits > 8 {
		return fmt.Errorf("%w: %d data bits", ErrInvalidMode, m.DataBits)
	}
	if m.StopBits != 1 && m.StopBits != 2 {
		return fmt.Errorf("%w: %d stop bits", ErrInvalidMode, m.StopBits)
	}
	if m.Parity < ParityNone || m.Parity > ParitySpace {
		return fmt.Errorf("%w: parity %d", ErrInvalidMode, int(m.Parity))
	}
	return nil
}

// StandardBaudRates lists the rates a port can be configured to
var StandardBaudRates = []int{
	0, 50, 75, 110, 134, 150, 200, 300, 600, 1200, 1800, 2400, 4800, 9600,
	19200, 38400, 57600, 115200, 230400, 460800, 500000, 576000, 921600,
	1000000, 1152000, 1500000, 2000000, 2500000, 3000000, 3500000, 4000000,
}

// IsStandardBaud reports whether baud is one of StandardBaudRates
func IsStandardBaud(baud int) bool {
	for _, rate := range StandardBaudRates {
		if rate == baud {
			return true
		}
	}
	return false
}

// Transport errors
var (
	ErrAlreadyOpen     = errors.New("port already open")
	ErrNotOpen         = errors.New("port not open")
	ErrClosed          = errors.New("connection closed")
	ErrUnsupportedBaud = errors.New("unsupported baud rate")
	ErrInvalidMode     = errors.New("invalid serial mode")
)
