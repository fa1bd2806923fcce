// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import (
	"bytes"
	"errors"
	"testing"
)

func mustProtocol(t *testing.T, id ProtocolID) *Protocol {
	t.Helper()
	p, ok := LookupProtocol(id)
	if !ok {
		t.Fatalf("protocol %s missing from default catalog", id)
	}
	return p
}

// ============================================================
// Reload Tests
// ============================================================

func TestReload(t *testing.T) {
	tests := []struct {
		baud     int
		expected uint16
	}{
		{115200, 0xFFCC},
		{9600, 0xFD8F},
		{2400, 0xF63C},
		{57600, 0xFF98},
		// rates above FUser/4 truncate to zero
		{10000000, 0x0000},
	}

	for _, tt := range tests {
		reload, err := Reload(tt.baud)
		if err != nil {
			t.Fatalf("Reload(%d) failed: %v", tt.baud, err)
		}
		if reload != tt.expected {
			t.Errorf("Reload(%d): expected 0x%04X, got 0x%04X", tt.baud, tt.expected, reload)
		}
	}
}

func TestReloadSTC15(t *testing.T) {
	tests := []struct {
		baud   int
		first  uint16
		second uint16
	}{
		{115200, 0xFF30, 0xFEC8},
		{9600, 0xF63C, 0xF15A},
	}

	for _, tt := range tests {
		first, second, err := ReloadSTC15(tt.baud)
		if err != nil {
			t.Fatalf("ReloadSTC15(%d) failed: %v", tt.baud, err)
		}
		if first != tt.first || second != tt.second {
			t.Errorf("ReloadSTC15(%d): expected 0x%04X/0x%04X, got 0x%04X/0x%04X",
				tt.baud, tt.first, tt.second, first, second)
		}
	}
}

func TestReload_InvalidBaud(t *testing.T) {
	for _, baud := range []int{0, -9600} {
		if _, err := Reload(baud); !errors.Is(err, ErrInvalidBaud) {
			t.Errorf("Reload(%d): expected ErrInvalidBaud, got %v", baud, err)
		}
		if _, _, err := ReloadSTC15(baud); !errors.Is(err, ErrInvalidBaud) {
			t.Errorf("ReloadSTC15(%d): expected ErrInvalidBaud, got %v", baud, err)
		}
	}
}

// ============================================================
// Command Builder Tests
// ============================================================

func TestBaudSwitch_SingleReload(t *testing.T) {
	p := mustProtocol(t, ProtocolSTC8GH)
	cmd, err := p.BaudSwitch(0x8C, 115200)
	if err != nil {
		t.Fatalf("BaudSwitch failed: %v", err)
	}

	expected := []byte{0x01, 0x8C, 0x00, 0xFF, 0xCC, 0x00, 0x00, 0x97}
	if !bytes.Equal(cmd.Payload(), expected) {
		t.Errorf("payload mismatch:\n  expected % X\n  got      % X", expected, cmd.Payload())
	}
	if !cmd.Matches([]byte{StatusBaudSwitch, 0x00}) {
		t.Errorf("status 0x01 should match")
	}
	if cmd.Matches([]byte{0x80}) {
		t.Errorf("status 0x80 should not match")
	}
}

func TestBaudSwitch_DualReload(t *testing.T) {
	p := mustProtocol(t, ProtocolSTC15)
	cmd, err := p.BaudSwitch(0x01, 9600)
	if err != nil {
		t.Fatalf("BaudSwitch failed: %v", err)
	}

	expected := []byte{0x01, 0x01, 0x40, 0xF6, 0x3C, 0xF1, 0x5A, 0x83}
	if !bytes.Equal(cmd.Payload(), expected) {
		t.Errorf("payload mismatch:\n  expected % X\n  got      % X", expected, cmd.Payload())
	}
}

func TestBaudSwitch_AllProtocolsSameLength(t *testing.T) {
	for _, p := range DefaultCatalog().Protocols() {
		cmd, err := p.BaudSwitch(0, DefaultBaud)
		if err != nil {
			t.Fatalf("%s: BaudSwitch failed: %v", p.Name, err)
		}
		if len(cmd.Payload()) != 8 {
			t.Errorf("%s: expected 8 byte payload, got %d", p.Name, len(cmd.Payload()))
		}
	}
}

func TestBaudSwitch_InvalidBaud(t *testing.T) {
	p := mustProtocol(t, ProtocolSTC8AF)
	if _, err := p.BaudSwitch(0, 0); !errors.Is(err, ErrInvalidBaud) {
		t.Errorf("expected ErrInvalidBaud, got %v", err)
	}
}

func TestBaudCheck(t *testing.T) {
	p := mustProtocol(t, ProtocolSTC8GH)

	tests := []struct {
		name     string
		firmware byte
		expected []byte
	}{
		{"old bootloader", 0x71, []byte{0x05}},
		{"threshold", 0x72, []byte{0x05, 0x00, 0x00, 0x5A, 0xA5}},
		{"new bootloader", 0x73, []byte{0x05, 0x00, 0x00, 0x5A, 0xA5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := p.BaudCheck(tt.firmware)
			if !bytes.Equal(cmd.Payload(), tt.expected) {
				t.Errorf("payload mismatch: expected % X, got % X", tt.expected, cmd.Payload())
			}
			if !bytes.Equal(cmd.Expect(), []byte{StatusBaudCheck}) {
				t.Errorf("unexpected status % X", cmd.Expect())
			}
		})
	}
}

func TestEraseFlash(t *testing.T) {
	cmd := mustProtocol(t, ProtocolSTC15B).EraseFlash()
	if !bytes.Equal(cmd.Payload(), []byte{0x03, 0x00, 0x00, 0x5A, 0xA5}) {
		t.Errorf("unexpected payload % X", cmd.Payload())
	}
	if cmd.Name() != "erase" {
		t.Errorf("unexpected name %q", cmd.Name())
	}
}

func TestWriteFlash(t *testing.T) {
	p := mustProtocol(t, ProtocolSTC8GH)
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	first, err := p.WriteFlash(true, 0x0000, data)
	if err != nil {
		t.Fatalf("WriteFlash failed: %v", err)
	}
	if !bytes.Equal(first.Payload(), []byte{0x22, 0x00, 0x00, 0x5A, 0xA5, 0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("first chunk payload % X", first.Payload())
	}

	next, _ := p.WriteFlash(false, 0x1280, data)
	if !bytes.Equal(next.Payload()[:5], []byte{0x02, 0x12, 0x80, 0x5A, 0xA5}) {
		t.Errorf("continue chunk header % X", next.Payload()[:5])
	}

	if !next.Matches([]byte{0x02, 0x54}) {
		t.Errorf("write ack should match")
	}
	if next.Matches([]byte{0x02}) {
		t.Errorf("write status without ack byte should not match")
	}
}

func TestWriteFlash_ChunkTooLarge(t *testing.T) {
	p := mustProtocol(t, ProtocolSTC8GH)
	if _, err := p.WriteFlash(false, 0, make([]byte, ChunkSize+1)); !errors.Is(err, ErrChunkTooLarge) {
		t.Errorf("expected ErrChunkTooLarge, got %v", err)
	}
	if _, err := p.WriteFlash(false, 0, make([]byte, ChunkSize)); err != nil {
		t.Errorf("full chunk rejected: %v", err)
	}
}

// ============================================================
// Template Tests
// ============================================================

func TestTemplates(t *testing.T) {
	p := mustProtocol(t, ProtocolSTC8GH)
	tpl := p.Templates()

	if tpl.BaudSwitch != [9]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x97, 0x01} {
		t.Errorf("baud switch template % X", tpl.BaudSwitch)
	}
	if tpl.BaudCheck != [6]byte{0x05, 0x00, 0x00, 0x5A, 0xA5, 0x05} {
		t.Errorf("baud check template % X", tpl.BaudCheck)
	}
	if tpl.FlashErase != [6]byte{0x03, 0x00, 0x00, 0x5A, 0xA5, 0x03} {
		t.Errorf("erase template % X", tpl.FlashErase)
	}
	if tpl.FlashWrite != [7]byte{0x22, 0x00, 0x00, 0x5A, 0xA5, 0x02, 0x54} {
		t.Errorf("write template % X", tpl.FlashWrite)
	}
}

func TestTemplates_DualReload(t *testing.T) {
	tpl := mustProtocol(t, ProtocolSTC15).Templates()
	if tpl.BaudSwitch != [9]byte{0x01, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00, 0x83, 0x01} {
		t.Errorf("baud switch template % X", tpl.BaudSwitch)
	}
}
