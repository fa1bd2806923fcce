// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import (
	"fmt"
)

// Encoder builds wire frames for one direction of the link.
type Encoder struct {
	direction Direction
}

// NewEncoder creates a frame encoder. The programmer side uses HostToChip;
// ChipToHost is used by bootloader emulation and tests.
func NewEncoder(dir Direction) *Encoder {
	return &Encoder{direction: dir}
}

// Encode encodes a payload to wire format.
func (e *Encoder) Encode(payload []byte) ([]byte, error) {
	return EncodeFrame(e.direction, payload)
}

// EncodeCommand encodes a command built by one of the Protocol builders.
func (e *Encoder) EncodeCommand(c Command) ([]byte, error) {
	return EncodeFrame(e.direction, c.Payload())
}

// EncodeFrame creates a complete wire-formatted frame:
// prefix (4), length (payload+6), payload, checksum (big-endian), suffix.
func EncodeFrame(dir Direction, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	frame := make([]byte, 0, len(payload)+FrameOverhead)
	frame = append(frame, PrefixByte, PrefixByte2, dir.Marker(), PrefixPad)
	frame = append(frame, byte(len(payload)+LengthOverhead))
	frame = append(frame, payload...)

	sum := CalculateChecksum(dir, payload)
	frame = append(frame, byte(sum>>8), byte(sum&0xFF))
	frame = append(frame, SuffixByte)

	return frame, nil
}

// MustEncodeFrame encodes a frame and panics if the payload is too large.
// Intended for fixed payloads known to fit.
func MustEncodeFrame(dir Direction, payload []byte) []byte {
	data, err := EncodeFrame(dir, payload)
	if err != nil {
		panic(fmt.Sprintf("stcisp: encode error: %v", err))
	}
	return data
}
