// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	name := FormatOpcode(f.direction, f.Opcode())

	result := fmt.Sprintf("[%s] %s %s (0x%02X) len=%d sum=0x%04X\n",
		timestamp, f.direction, name, f.Opcode(), len(f.payload), f.checksum)
	result += FormatPayload(f.direction, f.payload)

	return result
}

// FormatOpcode returns the human-readable name for the first payload byte
func FormatOpcode(dir Direction, op byte) string {
	if dir == HostToChip {
		switch op {
		case OpBaudSwitch:
			return "BAUD_SWITCH"
		case OpWriteContinue:
			return "WRITE_CONTINUE"
		case OpEraseFlash:
			return "ERASE_FLASH"
		case OpBaudCheck:
			return "BAUD_CHECK"
		case OpWriteStart:
			return "WRITE_START"
		}
		return "UNKNOWN"
	}

	switch op {
	case DetectAck:
		return "DETECT_INFO"
	case StatusBaudSwitch:
		return "BAUD_SWITCH_ACK"
	case StatusWrite:
		return "WRITE_ACK"
	case StatusErase:
		return "ERASE_ACK"
	case StatusBaudCheck:
		return "BAUD_CHECK_ACK"
	}
	return "UNKNOWN"
}

// FormatPayload formats the decoded fields of a payload, one per line
func FormatPayload(dir Direction, payload []byte) string {
	if len(payload) == 0 {
		return "  (empty)\n"
	}

	if dir == HostToChip {
		switch payload[0] {
		case OpBaudSwitch:
			if len(payload) >= 5 {
				return fmt.Sprintf("  address=0x%02X mode=0x%02X reload=0x%04X tail=% X\n",
					payload[1], payload[2], binary.BigEndian.Uint16(payload[3:5]), payload[5:])
			}
		case OpWriteStart, OpWriteContinue:
			if len(payload) >= 5 {
				return fmt.Sprintf("  addr=0x%04X data=%d bytes\n",
					binary.BigEndian.Uint16(payload[1:3]), len(payload)-5)
			}
		case OpEraseFlash, OpBaudCheck:
			return fmt.Sprintf("  args=% X\n", payload[1:])
		}
		return formatHex(payload)
	}

	if payload[0] == DetectAck {
		info, err := ParseDetectResponse(payload)
		if err != nil {
			return fmt.Sprintf("  invalid: %v\n", err)
		}
		return fmt.Sprintf("  code=0x%04X firmware=%s address=0x%02X\n",
			info.Code(), info.FirmwareString(), info.Address())
	}
	return formatHex(payload)
}

// FormatDetectInfo formats the identification fields of a detect response
func FormatDetectInfo(info *DetectInfo, m *Model, p *Protocol) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Code:        0x%04X\n", info.Code())
	if m != nil {
		fmt.Fprintf(&b, "Model:       %s\n", m.Name)
		fmt.Fprintf(&b, "Flash:       %d bytes (code %d, eeprom %d)\n", m.TotalFlash, m.CodeSize, m.EEPROMSize)
	}
	fmt.Fprintf(&b, "F/W version: %s\n", info.FirmwareString())
	if p != nil {
		fmt.Fprintf(&b, "Protocol:    %s\n", p.Name)
		fmt.Fprintf(&b, "IRC freq:    %s\n", FormatFosc(info, p))
	}
	return b.String()
}

// FormatFosc returns the oscillator frequency in Hz or "unadjusted"
func FormatFosc(info *DetectInfo, p *Protocol) string {
	fosc, ok := info.Fosc(p)
	if !ok {
		return "unadjusted"
	}
	return fmt.Sprintf("%d", fosc)
}

func formatHex(payload []byte) string {
	var b strings.Builder
	for i := 0; i < len(payload); i += 16 {
		end := i + 16
		if end > len(payload) {
			end = len(payload)
		}
		fmt.Fprintf(&b, "  %04X: % X\n", i, payload[i:end])
	}
	return b.String()
}
