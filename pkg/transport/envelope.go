// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EnvelopeKind identifies a bridge message
type EnvelopeKind uint8

const (
	// EnvelopeData carries serial bytes: {0: bytes}
	EnvelopeData EnvelopeKind = iota
	// EnvelopeMode reconfigures the remote port: {0: baud, 1: databits, 2: stopbits, 3: parity}
	EnvelopeMode
	// EnvelopeLine drives a control line: {0: "dtr"|"rts", 1: level}
	EnvelopeLine
	// EnvelopeFlush discards buffered bytes on the remote port
	EnvelopeFlush
)

// String returns the envelope kind name
func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeData:
		return "DATA"
	case EnvelopeMode:
		return "MODE"
	case EnvelopeLine:
		return "LINE"
	case EnvelopeFlush:
		return "FLUSH"
	}
	return fmt.Sprintf("UNKNOWN_%d", uint8(k))
}

// Envelope field keys
const (
	keyData = 0

	keyBaud     = 0
	keyDataBits = 1
	keyStopBits = 2
	keyParity   = 3

	keyLine  = 0
	keyLevel = 1
)

// EncodeEnvelope builds a bridge message: [kind, fields]
func EncodeEnvelope(kind EnvelopeKind, fields map[int]interface{}) ([]byte, error) {
	var msg interface{}
	if len(fields) == 0 {
		msg = []interface{}{uint64(kind), nil}
	} else {
		msg = []interface{}{uint64(kind), fields}
	}

	data, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", kind, err)
	}
	return data, nil
}

// DataEnvelope wraps serial bytes
func DataEnvelope(p []byte) ([]byte, error) {
	return EncodeEnvelope(EnvelopeData, map[int]interface{}{keyData: p})
}

// ModeEnvelope asks the bridge to reconfigure its port
func ModeEnvelope(m Mode) ([]byte, error) {
	return EncodeEnvelope(EnvelopeMode, map[int]interface{}{
		keyBaud:     uint64(m.Baud),
		keyDataBits: uint64(m.DataBits),
		keyStopBits: uint64(m.StopBits),
		keyParity:   uint64(m.Parity),
	})
}

// LineEnvelope asks the bridge to drive a control line
func LineEnvelope(line Line, level bool) ([]byte, error) {
	return EncodeEnvelope(EnvelopeLine, map[int]interface{}{
		keyLine:  line.String(),
		keyLevel: level,
	})
}

// FlushEnvelope asks the bridge to discard buffered bytes
func FlushEnvelope() ([]byte, error) {
	return EncodeEnvelope(EnvelopeFlush, nil)
}

// ParseEnvelope parses a bridge message: [kind, fields]
// Returns the kind and decoded field map (nil for empty messages)
func ParseEnvelope(data []byte) (kind EnvelopeKind, fields map[int]interface{}, err error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty envelope")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}

	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	switch v := msg[0].(type) {
	case uint64:
		if v > uint64(EnvelopeFlush) {
			return 0, nil, fmt.Errorf("envelope kind out of range: %d", v)
		}
		kind = EnvelopeKind(v)
	default:
		return 0, nil, fmt.Errorf("expected uint for envelope kind, got %T", msg[0])
	}

	if msg[1] == nil {
		return kind, nil, nil
	}

	switch v := msg[1].(type) {
	case map[interface{}]interface{}:
		fields = make(map[int]interface{}, len(v))
		for key, val := range v {
			switch k := key.(type) {
			case uint64:
				fields[int(k)] = val
			case int64:
				fields[int(k)] = val
			default:
				return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
			}
		}
	default:
		return 0, nil, fmt.Errorf("expected map or nil for fields, got %T", msg[1])
	}

	return kind, fields, nil
}

// ParseModeFields extracts a Mode from MODE envelope fields
func ParseModeFields(fields map[int]interface{}) (Mode, error) {
	baud, ok := GetMapUint(fields, keyBaud)
	if !ok {
		return Mode{}, fmt.Errorf("mode envelope without baud")
	}
	m := Mode{Baud: int(baud), DataBits: 8, StopBits: 1, Parity: ParityNone}
	if v, ok := GetMapUint(fields, keyDataBits); ok {
		m.DataBits = int(v)
	}
	if v, ok := GetMapUint(fields, keyStopBits); ok {
		m.StopBits = int(v)
	}
	if v, ok := GetMapUint(fields, keyParity); ok {
		m.Parity = Parity(v)
	}
	return m, nil
}

// ParseLineFields extracts the line and level from LINE envelope fields
func ParseLineFields(fields map[int]interface{}) (Line, bool, error) {
	name, ok := GetMapString(fields, keyLine)
	if !ok {
		return 0, false, fmt.Errorf("line envelope without line name")
	}
	line, err := ParseLine(name)
	if err != nil {
		return 0, false, err
	}
	level, _ := GetMapBool(fields, keyLevel)
	return line, level, nil
}

// Map value extraction helpers

// GetMapUint extracts a uint64 from a CBOR map by key
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}

// GetMapBool extracts a bool from a CBOR map by key
func GetMapBool(m map[int]interface{}, key int) (bool, bool) {
	val, ok := m[key].(bool)
	return val, ok
}

// GetMapBytes extracts a []byte from a CBOR map by key
func GetMapBytes(m map[int]interface{}, key int) ([]byte, bool) {
	val, ok := m[key].([]byte)
	return val, ok
}

// GetMapString extracts a string from a CBOR map by key
func GetMapString(m map[int]interface{}, key int) (string, bool) {
	val, ok := m[key].(string)
	return val, ok
}
