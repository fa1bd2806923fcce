// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package stcisp implements the serial in-system programming protocol spoken
// by the ROM bootloader of STC 8-bit microcontrollers (STC8G/H, STC8A/F and
// the STC15 family).
//
// The package covers frame encoding and streaming decoding, the device and
// protocol catalog, typed command builders for each protocol variant, and
// parsing of the detect response the bootloader sends after reset.
package stcisp

// Direction identifies which side of the link produced a frame. Host and chip
// frames share the same layout but differ in their third prefix byte, which
// is also the base value of the checksum.
type Direction uint8

const (
	HostToChip Direction = iota
	ChipToHost
)

// Marker returns the direction-specific prefix byte (and checksum base).
func (d Direction) Marker() byte {
	if d == ChipToHost {
		return ChipMarker
	}
	return HostMarker
}

// String returns "TX" for host frames and "RX" for chip frames.
func (d Direction) String() string {
	if d == ChipToHost {
		return "RX"
	}
	return "TX"
}

// Frame envelope bytes
const (
	PrefixByte  = 0x46
	PrefixByte2 = 0xB9
	HostMarker  = 0x6A
	ChipMarker  = 0x68
	PrefixPad   = 0x00
	SuffixByte  = 0x16
)

// DetectByte is sent unframed, repeatedly, to catch the bootloader window.
const DetectByte = 0x7F

// Frame size limits
const (
	// LengthOverhead is added to the payload length to form the length byte:
	// marker, pad, length, two checksum bytes and the suffix.
	LengthOverhead = 6
	PrefixSize     = 4
	FrameOverhead  = PrefixSize + 1 + 2 + 1
	MaxPayloadSize = 0xFF - LengthOverhead
	MaxFrameSize   = MaxPayloadSize + FrameOverhead
)

// DetectResponseSize is the size of the buffer holding the detect response.
// Fields are read from fixed offsets, bytes the chip did not send read as 0.
const DetectResponseSize = 255

// Detect response layout
const (
	DetectAck         = 0x50
	offsetAddress     = 4
	offsetFirmware    = 17
	offsetStepping    = 18
	offsetCode        = 20
	offsetMinor       = 22
	minDetectResponse = offsetMinor + 1
)

// Host command opcodes
const (
	OpBaudSwitch     = 0x01
	OpWriteContinue  = 0x02
	OpEraseFlash     = 0x03
	OpBaudCheck      = 0x05
	OpWriteStart     = 0x22
	OpDetectResponse = DetectAck
)

// Chip status bytes echoed back for each command
const (
	StatusBaudSwitch = 0x01
	StatusWrite      = 0x02
	StatusErase      = 0x03
	StatusBaudCheck  = 0x05
	StatusWriteAck   = 0x54 // 'T'
)

// Guard bytes following the address in erase, ping and write commands
const (
	GuardHigh = 0x5A
	GuardLow  = 0xA5
)

// Programming parameters
const (
	// FUser is the bootloader's assumed system clock in Hz, used for the UART
	// timer reload computation.
	FUser = 24000000

	// MinBaud is the fixed rate the bootloader listens on after reset.
	MinBaud = 2400

	// DefaultBaud is the transfer rate negotiated when none is configured.
	DefaultBaud = 115200

	// ChunkSize is the maximum number of image bytes per write command.
	ChunkSize = 128

	// ShortPingFirmware is the first firmware version that expects the full
	// baud check command. Older bootloaders only take the opcode.
	ShortPingFirmware = 0x72

	// FoscUnadjusted is reported when the internal RC oscillator was never trimmed.
	FoscUnadjusted = 0xFFFFFFFF
)
