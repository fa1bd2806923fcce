// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import (
	"errors"
	"strings"
	"testing"
)

func TestLookupModel(t *testing.T) {
	tests := []struct {
		code     uint16
		name     string
		protocol ProtocolID
	}{
		{0xF730, "STC8H1K08", ProtocolSTC8GH},
		{0xF721, "STC8G1K08", ProtocolSTC8GH},
		{0xF612, "STC8A8K64S4A12", ProtocolSTC8AF},
		{0xF449, "STC15F2K60S2", ProtocolSTC15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := LookupModel(tt.code)
			if !ok {
				t.Fatalf("code 0x%04X not found", tt.code)
			}
			if m.Name != tt.name || m.Protocol != tt.protocol {
				t.Errorf("expected %s/%s, got %s/%s", tt.name, tt.protocol, m.Name, m.Protocol)
			}
		})
	}
}

func TestLookupModel_Unknown(t *testing.T) {
	if _, ok := LookupModel(0x0000); ok {
		t.Errorf("code 0x0000 should not be found")
	}
	if _, ok := LookupModel(0xFFFF); ok {
		t.Errorf("code 0xFFFF should not be found")
	}
}

func TestDefaultCatalog_References(t *testing.T) {
	c := DefaultCatalog()
	seen := make(map[uint16]bool)
	for _, m := range c.Models() {
		if seen[m.Magic] {
			t.Errorf("duplicate code 0x%04X", m.Magic)
		}
		seen[m.Magic] = true

		if _, ok := c.LookupProtocol(m.Protocol); !ok {
			t.Errorf("%s references missing protocol %s", m.Name, m.Protocol)
		}
		if m.CodeSize > m.TotalFlash {
			t.Errorf("%s code size %d exceeds total flash %d", m.Name, m.CodeSize, m.TotalFlash)
		}
	}
	if len(seen) != len(DefaultModels()) {
		t.Errorf("catalog holds %d models, table has %d", len(seen), len(DefaultModels()))
	}
}

func TestCatalog_Sorted(t *testing.T) {
	models := DefaultCatalog().Models()
	for i := 1; i < len(models); i++ {
		if models[i-1].Name > models[i].Name {
			t.Fatalf("models not sorted: %s before %s", models[i-1].Name, models[i].Name)
		}
	}
	protocols := DefaultCatalog().Protocols()
	for i := 1; i < len(protocols); i++ {
		if protocols[i-1].ID >= protocols[i].ID {
			t.Fatalf("protocols not sorted by id")
		}
	}
}

func TestNewCatalog_Duplicate(t *testing.T) {
	models := []Model{
		{Name: "A", Magic: 0x1234, Protocol: ProtocolSTC8GH},
		{Name: "B", Magic: 0x1234, Protocol: ProtocolSTC8GH},
	}
	_, err := NewCatalog(models, DefaultProtocols())
	if !errors.Is(err, ErrDuplicateModel) {
		t.Fatalf("expected ErrDuplicateModel, got %v", err)
	}
	if !strings.Contains(err.Error(), "0x1234") {
		t.Errorf("error should name the code: %v", err)
	}
}

func TestNewCatalog_DanglingReference(t *testing.T) {
	models := []Model{{Name: "A", Magic: 0x1234, Protocol: ProtocolID(0x99)}}
	if _, err := NewCatalog(models, DefaultProtocols()); !errors.Is(err, ErrUnknownRef) {
		t.Errorf("expected ErrUnknownRef, got %v", err)
	}
}

func TestNewCatalog_UnsupportedAllowed(t *testing.T) {
	models := []Model{{Name: "STC89C52RC", Magic: 0xF002, Protocol: ProtocolUnsupported}}
	c, err := NewCatalog(models, nil)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	m, ok := c.LookupModel(0xF002)
	if !ok || m.Protocol != ProtocolUnsupported {
		t.Errorf("unsupported model not stored")
	}
	if _, ok := c.LookupProtocol(ProtocolUnsupported); ok {
		t.Errorf("unsupported protocol should not resolve")
	}
}

func TestDefaultModels_Copy(t *testing.T) {
	models := DefaultModels()
	models[0].Name = "changed"
	if DefaultModels()[0].Name == "changed" {
		t.Errorf("DefaultModels must return a copy")
	}
}

func TestProtocolID_String(t *testing.T) {
	if ProtocolSTC15.String() != "STC15" {
		t.Errorf("unexpected name %s", ProtocolSTC15)
	}
	if ProtocolID(0x42).String() != "UNKNOWN_0x0042" {
		t.Errorf("unexpected name %s", ProtocolID(0x42))
	}
}

func TestFormatDetectInfo(t *testing.T) {
	p := mustProtocol(t, ProtocolSTC8GH)
	m, _ := LookupModel(0xF730)
	info, err := ParseDetectResponse(BuildDetectResponse(DetectFields{
		Code: 0xF730, Firmware: 0x73, Stepping: 'U', Minor: 0x02, Fosc: 24000000,
	}, p))
	if err != nil {
		t.Fatalf("ParseDetectResponse failed: %v", err)
	}

	out := FormatDetectInfo(info, m, p)
	for _, want := range []string{"STC8H1K08", "7.3.2U", "24000000", "stc8gh"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
