// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import (
	"fmt"
	"time"
)

// Decoder states, one per expected wire position
const (
	stateIdle = iota
	statePrefix2
	stateMarker
	statePad
	stateLength
	statePayload
	stateChecksumHigh
	stateChecksumLow
	stateSuffix
)

// Decoder implements the receive state machine for one direction of the link.
// It accepts bytes in arbitrary chunks and yields checksum-valid frames.
type Decoder struct {
	direction Direction
	capacity  int
	state     int
	length    uint8
	count     int
	sum       uint16
	payload   []byte
	rawBuffer []byte
}

// NewDecoder creates a decoder for frames travelling in the given direction
func NewDecoder(dir Direction) *Decoder {
	return NewDecoderWithCapacity(dir, MaxPayloadSize)
}

// NewDecoderWithCapacity creates a decoder that rejects frames declaring more
// than capacity payload bytes
func NewDecoderWithCapacity(dir Direction, capacity int) *Decoder {
	if capacity <= 0 || capacity > MaxPayloadSize {
		capacity = MaxPayloadSize
	}
	return &Decoder{
		direction: dir,
		capacity:  capacity,
		state:     stateIdle,
		payload:   make([]byte, 0, capacity),
		rawBuffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.length = 0
	d.count = 0
	d.sum = 0
	d.payload = d.payload[:0]
	d.rawBuffer = d.rawBuffer[:0]
}

// Direction returns the direction of the frames this decoder accepts
func (d *Decoder) Direction() Direction {
	return d.direction
}

// InFrame reports whether the decoder has matched the start of a frame and
// is waiting for more bytes
func (d *Decoder) InFrame() bool {
	return d.state != stateIdle
}

// GetRawBytes returns the raw bytes of the frame currently being decoded
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// restart resets the decoder and lets the rejected byte begin a new frame
func (d *Decoder) restart(b byte) {
	d.Reset()
	if b == PrefixByte {
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = statePrefix2
	}
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error when the byte breaks the frame in progress.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case stateIdle:
		if b == PrefixByte {
			d.rawBuffer = append(d.rawBuffer[:0], b)
			d.state = statePrefix2
		}
		return nil, nil

	case statePrefix2:
		return d.expect(b, PrefixByte2, stateMarker)

	case stateMarker:
		return d.expect(b, d.direction.Marker(), statePad)

	case statePad:
		return d.expect(b, PrefixPad, stateLength)

	case stateLength:
		if b < LengthOverhead {
			d.restart(b)
			return nil, fmt.Errorf("%w: %d (min %d)", ErrLength, b, LengthOverhead)
		}
		count := int(b) - LengthOverhead
		if count > d.capacity {
			d.restart(b)
			return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, count, d.capacity)
		}
		d.rawBuffer = append(d.rawBuffer, b)
		d.length = b
		d.count = count
		d.sum = uint16(d.direction.Marker()) + uint16(b)
		if count == 0 {
			d.state = stateChecksumHigh
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		d.rawBuffer = append(d.rawBuffer, b)
		d.payload = append(d.payload, b)
		d.sum += uint16(b)
		if len(d.payload) == d.count {
			d.state = stateChecksumHigh
		}
		return nil, nil

	case stateChecksumHigh:
		if b != byte(d.sum>>8) {
			err := fmt.Errorf("%w: expected 0x%04X, got high byte 0x%02X", ErrChecksum, d.sum, b)
			d.restart(b)
			return nil, err
		}
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateChecksumLow
		return nil, nil

	case stateChecksumLow:
		if b != byte(d.sum&0xFF) {
			err := fmt.Errorf("%w: expected 0x%04X, got low byte 0x%02X", ErrChecksum, d.sum, b)
			d.restart(b)
			return nil, err
		}
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateSuffix
		return nil, nil

	case stateSuffix:
		if b != SuffixByte {
			d.restart(b)
			return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrSuffix, SuffixByte, b)
		}
		payload := make([]byte, len(d.payload))
		copy(payload, d.payload)
		frame := &Frame{
			direction: d.direction,
			length:    d.length,
			payload:   payload,
			checksum:  d.sum,
			timestamp: time.Now(),
		}
		d.Reset()
		return frame, nil

	default:
		state := d.state
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", state)
	}
}

// expect advances to next when b matches want, otherwise resynchronizes
func (d *Decoder) expect(b, want byte, next int) (*Frame, error) {
	if b != want {
		state := d.state
		d.restart(b)
		return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X in state %d", ErrPrefix, want, b, state)
	}
	d.rawBuffer = append(d.rawBuffer, b)
	d.state = next
	return nil, nil
}

// Feed decodes a chunk of received bytes, returning every complete frame and
// every decode error encountered in order
func (d *Decoder) Feed(data []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for _, b := range data {
		frame, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames, errs
}
