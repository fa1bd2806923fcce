// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import (
	"bytes"
	"fmt"
)

// Command is a host command payload together with the status bytes the chip
// is expected to echo back at the start of its response.
type Command struct {
	name    string
	payload []byte
	expect  []byte
}

// Name returns the command name used in logs and errors
func (c Command) Name() string {
	return c.name
}

// Payload returns the frame payload, opcode first
func (c Command) Payload() []byte {
	return c.payload
}

// Expect returns the status bytes a successful response starts with
func (c Command) Expect() []byte {
	return c.expect
}

// Matches reports whether a response payload carries the expected status
func (c Command) Matches(resp []byte) bool {
	return len(resp) >= len(c.expect) && bytes.Equal(resp[:len(c.expect)], c.expect)
}

// Reload computes the UART timer reload for the STC8 families:
// 65536 - FUser/4/baud, truncated to 16 bits.
func Reload(baud int) (uint16, error) {
	if baud <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBaud, baud)
	}
	return uint16(65536 - FUser/4/baud), nil
}

// ReloadSTC15 computes the two reload values of the STC15 dual counter:
// 65536 - FUser/baud and 65536 - FUser/baud/2*3.
func ReloadSTC15(baud int) (uint16, uint16, error) {
	if baud <= 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidBaud, baud)
	}
	return uint16(65536 - FUser/baud), uint16(65536 - FUser/baud/2*3), nil
}

// BaudSwitch builds the command raising the chip to the given transfer rate.
// The address byte is echoed from the detect response.
func (p *Protocol) BaudSwitch(address byte, baud int) (Command, error) {
	payload := []byte{OpBaudSwitch, address, p.SwitchMode}
	if p.DualReload {
		first, second, err := ReloadSTC15(baud)
		if err != nil {
			return Command{}, err
		}
		payload = append(payload, byte(first>>8), byte(first), byte(second>>8), byte(second))
	} else {
		reload, err := Reload(baud)
		if err != nil {
			return Command{}, err
		}
		payload = append(payload, byte(reload>>8), byte(reload))
	}
	payload = append(payload, p.SwitchTail...)
	return Command{name: "baud switch", payload: payload, expect: []byte{StatusBaudSwitch}}, nil
}

// BaudCheck builds the ping sent after both sides changed rate. Bootloaders
// older than ShortPingFirmware only take the opcode.
func (p *Protocol) BaudCheck(firmware byte) Command {
	payload := []byte{OpBaudCheck}
	if firmware >= ShortPingFirmware {
		payload = append(payload, 0x00, 0x00, GuardHigh, GuardLow)
	}
	return Command{name: "baud check", payload: payload, expect: []byte{StatusBaudCheck}}
}

// EraseFlash builds the full chip erase command
func (p *Protocol) EraseFlash() Command {
	return Command{
		name:    "erase",
		payload: []byte{OpEraseFlash, 0x00, 0x00, GuardHigh, GuardLow},
		expect:  []byte{StatusErase},
	}
}

// WriteFlash builds a flash write command for one chunk. The first chunk of
// an image uses the start opcode, later chunks the continue opcode.
func (p *Protocol) WriteFlash(first bool, addr uint16, data []byte) (Command, error) {
	if len(data) > ChunkSize {
		return Command{}, fmt.Errorf("%w: %d bytes (max %d)", ErrChunkTooLarge, len(data), ChunkSize)
	}
	op := byte(OpWriteContinue)
	if first {
		op = OpWriteStart
	}
	payload := make([]byte, 0, 5+len(data))
	payload = append(payload, op, byte(addr>>8), byte(addr), GuardHigh, GuardLow)
	payload = append(payload, data...)
	return Command{
		name:    "write",
		payload: payload,
		expect:  []byte{StatusWrite, StatusWriteAck},
	}, nil
}

// Templates is the raw byte form of a protocol's commands with variable
// fields zeroed. The last byte(s) of each template are the expected status.
type Templates struct {
	BaudSwitch [9]byte
	BaudCheck  [6]byte
	FlashErase [6]byte
	FlashWrite [7]byte
}

// Templates renders the protocol's command layouts as fixed templates
func (p *Protocol) Templates() Templates {
	var t Templates

	switchCmd := Command{payload: []byte{OpBaudSwitch, 0x00, p.SwitchMode}, expect: []byte{StatusBaudSwitch}}
	if p.DualReload {
		switchCmd.payload = append(switchCmd.payload, 0, 0, 0, 0)
	} else {
		switchCmd.payload = append(switchCmd.payload, 0, 0)
	}
	switchCmd.payload = append(switchCmd.payload, p.SwitchTail...)
	fill(t.BaudSwitch[:], switchCmd)

	fill(t.BaudCheck[:], p.BaudCheck(ShortPingFirmware))
	fill(t.FlashErase[:], p.EraseFlash())

	write, _ := p.WriteFlash(true, 0, nil)
	fill(t.FlashWrite[:], write)
	return t
}

func fill(dst []byte, c Command) {
	copy(dst[:len(dst)-len(c.expect)], c.payload)
	copy(dst[len(dst)-len(c.expect):], c.expect)
}
