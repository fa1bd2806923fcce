// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ihex loads Intel HEX firmware files into a flat flash image.
//
// Loading is tolerant: a malformed line is reported and skipped, and only a
// missing end-of-file record fails the whole load.
package ihex

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// RecordType is the Intel HEX record type field
type RecordType byte

const (
	RecordData                   RecordType = 0x00
	RecordEOF                    RecordType = 0x01
	RecordExtendedSegmentAddress RecordType = 0x02
	RecordStartSegmentAddress    RecordType = 0x03
	RecordExtendedLinearAddress  RecordType = 0x04
	RecordStartLinearAddress     RecordType = 0x05
)

// String returns the record type name
func (t RecordType) String() string {
	switch t {
	case RecordData:
		return "DATA"
	case RecordEOF:
		return "EOF"
	case RecordExtendedSegmentAddress:
		return "EXT_SEGMENT_ADDR"
	case RecordStartSegmentAddress:
		return "START_SEGMENT_ADDR"
	case RecordExtendedLinearAddress:
		return "EXT_LINEAR_ADDR"
	case RecordStartLinearAddress:
		return "START_LINEAR_ADDR"
	}
	return fmt.Sprintf("UNKNOWN_0x%02X", byte(t))
}

// Record errors
var (
	ErrFormat       = errors.New("malformed record")
	ErrChecksum     = errors.New("record checksum mismatch")
	ErrRecordType   = errors.New("unknown record type")
	ErrNoEOF        = errors.New("no end-of-file record")
	ErrAddressRange = errors.New("data beyond 64 KiB address space")
)

// Record is one parsed line of an Intel HEX file
type Record struct {
	Type     RecordType
	Address  uint16
	Data     []byte
	Checksum byte
}

// End returns the address one past the record's last data byte
func (r *Record) End() int {
	return int(r.Address) + len(r.Data)
}

// ParseRecord parses a single ":LLAAAATT<data>CC" line. The checksum must
// satisfy (sum of all fields + checksum) mod 256 == 0.
func ParseRecord(line string) (*Record, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ":") {
		return nil, fmt.Errorf("%w: missing start code", ErrFormat)
	}

	raw, err := hex.DecodeString(line[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(raw) < 5 {
		return nil, fmt.Errorf("%w: %d bytes, need at least 5", ErrFormat, len(raw))
	}

	count := int(raw[0])
	if len(raw) != count+5 {
		return nil, fmt.Errorf("%w: byte count %d does not match %d data bytes", ErrFormat, count, len(raw)-5)
	}

	var sum byte
	for _, b := range raw {
		sum += b
	}
	if sum != 0 {
		return nil, fmt.Errorf("%w: sum 0x%02X", ErrChecksum, sum)
	}

	rec := &Record{
		Type:     RecordType(raw[3]),
		Address:  uint16(raw[1])<<8 | uint16(raw[2]),
		Data:     raw[4 : 4+count],
		Checksum: raw[len(raw)-1],
	}
	if rec.Type > RecordStartLinearAddress {
		return nil, fmt.Errorf("%w: 0x%02X", ErrRecordType, byte(rec.Type))
	}
	if rec.Type == RecordEOF && count != 0 {
		return nil, fmt.Errorf("%w: EOF record with %d data bytes", ErrFormat, count)
	}
	return rec, nil
}

// LineError reports a line that was skipped during loading
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}
