// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================
// Mode Tests
// ============================================================

func TestStandardBaudRates(t *testing.T) {
	if len(StandardBaudRates) != 31 {
		t.Errorf("expected 31 standard rates, got %d", len(StandardBaudRates))
	}
	for i := 1; i < len(StandardBaudRates); i++ {
		if StandardBaudRates[i] <= StandardBaudRates[i-1] {
			t.Errorf("rates not ascending at %d", i)
		}
	}
	if StandardBaudRates[0] != 0 || StandardBaudRates[30] != 4000000 {
		t.Errorf("unexpected range %d..%d", StandardBaudRates[0], StandardBaudRates[30])
	}
}

func TestIsStandardBaud(t *testing.T) {
	tests := []struct {
		baud int
		want bool
	}{
		{2400, true},
		{115200, true},
		{4000000, true},
		{0, true},
		{14400, false},
		{-1, false},
		{4000001, false},
	}

	for _, tt := range tests {
		if got := IsStandardBaud(tt.baud); got != tt.want {
			t.Errorf("IsStandardBaud(%d) = %v, want %v", tt.baud, got, tt.want)
		}
	}
}

func TestMode_Validate(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		want error
	}{
		{"8E1", Mode{Baud: 2400, DataBits: 8, StopBits: 1, Parity: ParityEven}, nil},
		{"8N2", Mode{Baud: 115200, DataBits: 8, StopBits: 2, Parity: ParityNone}, nil},
		{"odd rate", Mode{Baud: 12345, DataBits: 8, StopBits: 1}, ErrUnsupportedBaud},
		{"nine bits", Mode{Baud: 9600, DataBits: 9, StopBits: 1}, ErrInvalidMode},
		{"three stop bits", Mode{Baud: 9600, DataBits: 8, StopBits: 3}, ErrInvalidMode},
		{"bad parity", Mode{Baud: 9600, DataBits: 8, StopBits: 1, Parity: Parity(7)}, ErrInvalidMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mode.Validate()
			if tt.want == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMode_String(t *testing.T) {
	m := Mode{Baud: 2400, DataBits: 8, StopBits: 1, Parity: ParityEven}
	if m.String() != "2400 8E1" {
		t.Errorf("unexpected mode string %q", m.String())
	}
}

func TestParseLine(t *testing.T) {
	for _, line := range []Line{LineDTR, LineRTS} {
		got, err := ParseLine(line.String())
		if err != nil || got != line {
			t.Errorf("round trip of %s failed: %v", line, err)
		}
	}
	if _, err := ParseLine("cts"); err == nil {
		t.Errorf("expected error for unknown line")
	}
}

// ============================================================
// Mock Tests
// ============================================================

func TestMock_ReadWrite(t *testing.T) {
	m := NewMock()
	if _, err := m.Read(make([]byte, 4)); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen before Open, got %v", err)
	}
	if err := m.Open("/dev/mock"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := m.Open("/dev/mock"); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("expected ErrAlreadyOpen, got %v", err)
	}

	buf := make([]byte, 8)
	if n, _ := m.Read(buf); n != 0 {
		t.Errorf("expected empty read, got %d bytes", n)
	}

	m.OnWrite(func(p []byte) []byte {
		return append([]byte{0xAA}, p...)
	})
	m.Write([]byte{0x01, 0x02})

	n, err := m.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{0xAA, 0x01, 0x02}) {
		t.Errorf("unexpected response % X", buf[:n])
	}
	if len(m.Writes()) != 1 {
		t.Errorf("expected 1 recorded write, got %d", len(m.Writes()))
	}
}

func TestMock_MaxRead(t *testing.T) {
	m := NewMock()
	m.Open("")
	m.MaxRead = 2
	m.Queue([]byte{1, 2, 3, 4, 5})

	var got []byte
	buf := make([]byte, 16)
	for i := 0; i < 5; i++ {
		n, _ := m.Read(buf)
		if n > 2 {
			t.Fatalf("read %d bytes, limit is 2", n)
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("unexpected data % X", got)
	}
}

func TestMock_Recording(t *testing.T) {
	m := NewMock()
	m.Open("/dev/ttyUSB0")

	if err := m.Configure(2400, 8, 1, ParityEven); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := m.SetBaud(115200); err != nil {
		t.Fatalf("SetBaud failed: %v", err)
	}
	if err := m.SetBaud(14400); !errors.Is(err, ErrUnsupportedBaud) {
		t.Errorf("expected ErrUnsupportedBaud, got %v", err)
	}
	m.SetControlLine(LineDTR, true)
	m.SetControlLine(LineDTR, false)
	m.Queue([]byte{0xFF})
	m.Flush()

	if bauds := m.Bauds(); len(bauds) != 2 || bauds[0] != 2400 || bauds[1] != 115200 {
		t.Errorf("unexpected bauds %v", bauds)
	}
	if m.Mode().Parity != ParityEven {
		t.Errorf("SetBaud should keep parity")
	}
	if lines := m.Lines(); len(lines) != 2 || !lines[0].Level || lines[1].Level {
		t.Errorf("unexpected line events %v", lines)
	}
	if n, _ := m.Read(make([]byte, 4)); n != 0 {
		t.Errorf("Flush should drop queued input")
	}
	if m.Flushes() != 1 || m.Path() != "/dev/ttyUSB0" {
		t.Errorf("unexpected flush count or path")
	}
}
