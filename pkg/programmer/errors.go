// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package programmer

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/stcprog/pkg/stcisp"
)

// Error kinds. Every error returned by a Session matches one of these with
// errors.Is.
var (
	ErrTransport           = errors.New("transport error")
	ErrTimeout             = errors.New("protocol timeout")
	ErrMismatch            = errors.New("protocol mismatch")
	ErrUnknownDevice       = errors.New("unknown device")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrWrite               = errors.New("flash write failed")
	ErrNoImage             = errors.New("no firmware image")
	ErrOutOfOrder          = errors.New("session step out of order")
)

// TransportError reports a failure of the underlying port
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// TimeoutError reports a retry budget exhausted without a valid response
type TimeoutError struct {
	Op       string
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %d attempts (%s)", e.Op, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// MismatchError reports a valid frame carrying the wrong status
type MismatchError struct {
	Op       string
	Expected []byte
	Got      []byte
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected status % X, got % X", e.Op, e.Expected, e.Got)
}

func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

// UnknownDeviceError reports an identification code missing from the catalog
type UnknownDeviceError struct {
	Code uint16
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("unknown device code 0x%04X", e.Code)
}

func (e *UnknownDeviceError) Is(target error) bool { return target == ErrUnknownDevice }

// UnsupportedProtocolError reports a model whose protocol cannot be resolved
type UnsupportedProtocolError struct {
	Model    string
	Protocol stcisp.ProtocolID
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("%s uses unsupported protocol 0x%04X", e.Model, uint16(e.Protocol))
}

func (e *UnsupportedProtocolError) Is(target error) bool { return target == ErrUnsupportedProtocol }

// WriteError reports a flash write aborted part way. Chunks before Address
// are already programmed on the chip.
type WriteError struct {
	Address uint16
	Written int
	Total   int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("flash write failed at 0x%04X after %d of %d bytes: %v", e.Address, e.Written, e.Total, e.Err)
}

func (e *WriteError) Unwrap() error        { return e.Err }
func (e *WriteError) Is(target error) bool { return target == ErrWrite }
