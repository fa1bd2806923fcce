// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import (
	"encoding/binary"
	"fmt"
)

// DetectInfo holds the response the bootloader sends to the detect byte.
// The payload is kept in a fixed buffer so protocol specific offsets can be
// read without bounds checks.
type DetectInfo struct {
	raw    [DetectResponseSize]byte
	length int
}

// ParseDetectResponse validates a detect response payload
func ParseDetectResponse(payload []byte) (*DetectInfo, error) {
	if len(payload) == 0 || payload[0] != DetectAck {
		got := -1
		if len(payload) > 0 {
			got = int(payload[0])
		}
		return nil, fmt.Errorf("%w: first byte %d, want 0x%02X", ErrNotDetect, got, DetectAck)
	}
	if len(payload) < minDetectResponse {
		return nil, fmt.Errorf("%w: %d bytes (min %d)", ErrShortResponse, len(payload), minDetectResponse)
	}
	info := &DetectInfo{}
	info.length = copy(info.raw[:], payload)
	return info, nil
}

// Raw returns the received payload bytes
func (d *DetectInfo) Raw() []byte {
	return d.raw[:d.length]
}

// Code returns the 16-bit identification code used for model lookup
func (d *DetectInfo) Code() uint16 {
	return binary.BigEndian.Uint16(d.raw[offsetCode:])
}

// Address returns the byte echoed back in the baud switch command
func (d *DetectInfo) Address() byte {
	return d.raw[offsetAddress]
}

// Firmware returns the bootloader version byte (major in the high nibble)
func (d *DetectInfo) Firmware() byte {
	return d.raw[offsetFirmware]
}

// Stepping returns the silicon stepping letter
func (d *DetectInfo) Stepping() byte {
	return d.raw[offsetStepping]
}

// Minor returns the bootloader minor version byte
func (d *DetectInfo) Minor() byte {
	return d.raw[offsetMinor]
}

// FirmwareString formats the version as major.minor.patch followed by the stepping
func (d *DetectInfo) FirmwareString() string {
	fw := d.Firmware()
	return fmt.Sprintf("%d.%d.%d%c", fw>>4, fw&0x0F, d.Minor()&0x0F, d.Stepping())
}

// Fosc returns the trimmed oscillator frequency stored at the protocol's
// offset. The second result is false when the chip reports it unadjusted.
func (d *DetectInfo) Fosc(p *Protocol) (uint32, bool) {
	off := p.FoscOffset
	if off < 0 || off+4 > DetectResponseSize {
		return 0, false
	}
	fosc := binary.BigEndian.Uint32(d.raw[off:])
	return fosc, fosc != FoscUnadjusted
}

// DetectFields are the values a bootloader reports in its detect response
type DetectFields struct {
	Code     uint16
	Address  byte
	Firmware byte
	Stepping byte
	Minor    byte
	Fosc     uint32

	// Length of the generated payload. Zero selects DefaultDetectLength.
	Length int
}

// DefaultDetectLength is the payload size produced by BuildDetectResponse
// when no length is requested
const DefaultDetectLength = 32

// BuildDetectResponse lays out a detect response payload the way a
// bootloader speaking protocol p would send it
func BuildDetectResponse(f DetectFields, p *Protocol) []byte {
	length := f.Length
	if length == 0 {
		length = DefaultDetectLength
	}
	if length < minDetectResponse {
		length = minDetectResponse
	}
	if p != nil && p.FoscOffset+4 > length {
		length = p.FoscOffset + 4
	}
	if length > MaxPayloadSize {
		length = MaxPayloadSize
	}

	payload := make([]byte, length)
	payload[0] = DetectAck
	if p != nil && p.FoscOffset+4 <= length {
		binary.BigEndian.PutUint32(payload[p.FoscOffset:], f.Fosc)
	}
	payload[offsetAddress] = f.Address
	payload[offsetFirmware] = f.Firmware
	payload[offsetStepping] = f.Stepping
	binary.BigEndian.PutUint16(payload[offsetCode:], f.Code)
	payload[offsetMinor] = f.Minor
	return payload
}
