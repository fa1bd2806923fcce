// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import "time"

// Frame represents a decoded protocol frame
type Frame struct {
	direction Direction
	length    uint8
	payload   []byte
	checksum  uint16
	timestamp time.Time
}

// NewFrame creates a frame for the given payload, computing length and checksum
func NewFrame(dir Direction, payload []byte) *Frame {
	return &Frame{
		direction: dir,
		length:    uint8(len(payload) + LengthOverhead),
		payload:   payload,
		checksum:  CalculateChecksum(dir, payload),
		timestamp: time.Now(),
	}
}

// Direction returns which side of the link sent the frame
func (f *Frame) Direction() Direction {
	return f.direction
}

// Length returns the raw length byte (payload length + 6)
func (f *Frame) Length() uint8 {
	return f.length
}

// Payload returns the frame payload
func (f *Frame) Payload() []byte {
	return f.payload
}

// Opcode returns the first payload byte, or 0 for an empty payload
func (f *Frame) Opcode() byte {
	if len(f.payload) == 0 {
		return 0
	}
	return f.payload[0]
}

// Checksum returns the frame checksum
func (f *Frame) Checksum() uint16 {
	return f.checksum
}

// Timestamp returns the frame's decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Encode returns the wire form of the frame
func (f *Frame) Encode() ([]byte, error) {
	return EncodeFrame(f.direction, f.payload)
}
