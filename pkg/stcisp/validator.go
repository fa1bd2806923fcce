// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import "fmt"

// AnomalyType represents the kinds of problem found in a checksum-valid frame
type AnomalyType int

const (
	AnomalyEmptyPayload AnomalyType = iota
	AnomalyUnknownOpcode
	AnomalyLengthMismatch
	AnomalyShortDetect
	AnomalyMissingGuard
	AnomalyOversizedChunk
	AnomalyBadWriteAck
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame checks a decoded frame against the command layouts
// Returns a slice of validation errors (empty if the frame is well formed)
func ValidateFrame(f *Frame) []ValidationError {
	if len(f.payload) == 0 {
		return []ValidationError{{
			Type:    AnomalyEmptyPayload,
			Message: "frame carries no payload",
		}}
	}
	if f.direction == HostToChip {
		return validateHostFrame(f.payload)
	}
	return validateChipFrame(f.payload)
}

func validateHostFrame(payload []byte) []ValidationError {
	errors := []ValidationError{}

	switch payload[0] {
	case OpBaudSwitch:
		if len(payload) != 8 {
			errors = append(errors, ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("BAUD_SWITCH length %d, expected 8", len(payload)),
				Details: map[string]interface{}{"received": len(payload), "expected": 8},
			})
		}

	case OpBaudCheck:
		// the short single-byte form is valid for old bootloaders
		if len(payload) > 1 && !hasGuard(payload) {
			errors = append(errors, missingGuard("BAUD_CHECK", payload))
		}

	case OpEraseFlash:
		if !hasGuard(payload) {
			errors = append(errors, missingGuard("ERASE_FLASH", payload))
		}

	case OpWriteStart, OpWriteContinue:
		if !hasGuard(payload) {
			errors = append(errors, missingGuard(FormatOpcode(HostToChip, payload[0]), payload))
		}
		if len(payload) > 5+ChunkSize {
			errors = append(errors, ValidationError{
				Type:    AnomalyOversizedChunk,
				Message: fmt.Sprintf("write chunk of %d bytes exceeds %d", len(payload)-5, ChunkSize),
				Details: map[string]interface{}{"received": len(payload) - 5, "expected": ChunkSize},
			})
		}

	default:
		errors = append(errors, unknownOpcode(HostToChip, payload[0]))
	}

	return errors
}

func validateChipFrame(payload []byte) []ValidationError {
	errors := []ValidationError{}

	switch payload[0] {
	case DetectAck:
		if len(payload) < minDetectResponse {
			errors = append(errors, ValidationError{
				Type:    AnomalyShortDetect,
				Message: fmt.Sprintf("detect response of %d bytes, expected at least %d", len(payload), minDetectResponse),
				Details: map[string]interface{}{"received": len(payload), "expected": minDetectResponse},
			})
		}

	case StatusWrite:
		if len(payload) < 2 || payload[1] != StatusWriteAck {
			errors = append(errors, ValidationError{
				Type:    AnomalyBadWriteAck,
				Message: "write response without acknowledge byte",
				Details: map[string]interface{}{"payload": payload},
			})
		}

	case StatusBaudSwitch, StatusErase, StatusBaudCheck:
		// status echo only

	default:
		errors = append(errors, unknownOpcode(ChipToHost, payload[0]))
	}

	return errors
}

func hasGuard(payload []byte) bool {
	return len(payload) >= 5 && payload[3] == GuardHigh && payload[4] == GuardLow
}

func missingGuard(name string, payload []byte) ValidationError {
	return ValidationError{
		Type:    AnomalyMissingGuard,
		Message: fmt.Sprintf("%s without 5A A5 guard", name),
		Details: map[string]interface{}{"payload": payload},
	}
}

func unknownOpcode(dir Direction, op byte) ValidationError {
	return ValidationError{
		Type:    AnomalyUnknownOpcode,
		Message: fmt.Sprintf("unknown %s opcode 0x%02X", dir, op),
		Details: map[string]interface{}{"opcode": op},
	}
}
