// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

// decodeAll feeds data to a fresh decoder and returns every decoded payload
func decodeAll(t *testing.T, dir Direction, data []byte) [][]byte {
	t.Helper()
	d := NewDecoder(dir)
	var payloads [][]byte
	for _, b := range data {
		frame, _ := d.DecodeByte(b)
		if frame != nil {
			payloads = append(payloads, frame.Payload())
		}
	}
	return payloads
}

// ============================================================
// Checksum Tests
// ============================================================

func TestCalculateChecksum_Empty(t *testing.T) {
	tests := []struct {
		name     string
		dir      Direction
		expected uint16
	}{
		{"host", HostToChip, HostMarker + LengthOverhead},
		{"chip", ChipToHost, ChipMarker + LengthOverhead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := CalculateChecksum(tt.dir, nil)
			if sum != tt.expected {
				t.Errorf("checksum of empty payload: expected 0x%04X, got 0x%04X", tt.expected, sum)
			}
		})
	}
}

func TestCalculateChecksum_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		dir      Direction
		payload  []byte
		expected uint16
	}{
		{
			name:     "baud check",
			dir:      HostToChip,
			payload:  []byte{0x05, 0x00, 0x00, 0x5A, 0xA5},
			expected: 0x0179,
		},
		{
			name:     "erase ack",
			dir:      ChipToHost,
			payload:  []byte{0x03},
			expected: 0x0072,
		},
		{
			name:     "max payload",
			dir:      HostToChip,
			payload:  bytes.Repeat([]byte{0xFF}, 249),
			expected: uint16((0x6A + 255 + 249*0xFF) & 0xFFFF),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := CalculateChecksum(tt.dir, tt.payload)
			if sum != tt.expected {
				t.Errorf("checksum mismatch: expected 0x%04X, got 0x%04X", tt.expected, sum)
			}
		})
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestEncodeFrame_Layout(t *testing.T) {
	frame, err := EncodeFrame(HostToChip, []byte{0x05, 0x00, 0x00, 0x5A, 0xA5})
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	expected := []byte{0x46, 0xB9, 0x6A, 0x00, 0x0B, 0x05, 0x00, 0x00, 0x5A, 0xA5, 0x01, 0x79, 0x16}
	if !bytes.Equal(frame, expected) {
		t.Errorf("frame mismatch:\n  expected % X\n  got      % X", expected, frame)
	}
}

func TestEncodeFrame_ChipDirection(t *testing.T) {
	frame := MustEncodeFrame(ChipToHost, []byte{0x03})
	expected := []byte{0x46, 0xB9, 0x68, 0x00, 0x07, 0x03, 0x00, 0x72, 0x16}
	if !bytes.Equal(frame, expected) {
		t.Errorf("frame mismatch:\n  expected % X\n  got      % X", expected, frame)
	}
}

func TestEncodeFrame_TooLarge(t *testing.T) {
	_, err := EncodeFrame(HostToChip, make([]byte, MaxPayloadSize+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestEncodeFrame_MaxPayload(t *testing.T) {
	frame, err := EncodeFrame(HostToChip, make([]byte, MaxPayloadSize))
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	if len(frame) != MaxFrameSize {
		t.Errorf("expected %d bytes, got %d", MaxFrameSize, len(frame))
	}
	if frame[4] != 0xFF {
		t.Errorf("expected length byte 0xFF, got 0x%02X", frame[4])
	}
}

func TestEncoder_EncodeCommand(t *testing.T) {
	p, _ := LookupProtocol(ProtocolSTC8GH)
	enc := NewEncoder(HostToChip)

	data, err := enc.EncodeCommand(p.EraseFlash())
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}
	payloads := decodeAll(t, HostToChip, data)
	if len(payloads) != 1 || !bytes.Equal(payloads[0], p.EraseFlash().Payload()) {
		t.Errorf("round trip mismatch: %v", payloads)
	}
}

func TestFrame_Encode(t *testing.T) {
	f := NewFrame(ChipToHost, []byte{0x02, 0x54})
	if f.Length() != 8 {
		t.Errorf("expected length 8, got %d", f.Length())
	}
	if f.Opcode() != 0x02 {
		t.Errorf("expected opcode 0x02, got 0x%02X", f.Opcode())
	}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if data[len(data)-1] != SuffixByte {
		t.Errorf("expected suffix 0x16, got 0x%02X", data[len(data)-1])
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_ValidFrame(t *testing.T) {
	data := []byte{0x46, 0xB9, 0x68, 0x00, 0x07, 0x03, 0x00, 0x72, 0x16}
	d := NewDecoder(ChipToHost)

	var frame *Frame
	for i, b := range data {
		f, err := d.DecodeByte(b)
		if err != nil {
			t.Fatalf("unexpected error at byte %d: %v", i, err)
		}
		if f != nil {
			if i != len(data)-1 {
				t.Fatalf("frame completed early at byte %d", i)
			}
			frame = f
		}
	}

	if frame == nil {
		t.Fatal("expected a frame")
	}
	if !bytes.Equal(frame.Payload(), []byte{0x03}) {
		t.Errorf("payload mismatch: % X", frame.Payload())
	}
	if frame.Checksum() != 0x0072 {
		t.Errorf("expected checksum 0x0072, got 0x%04X", frame.Checksum())
	}
	if frame.Direction() != ChipToHost || d.Direction() != ChipToHost {
		t.Errorf("expected chip direction")
	}
	if d.InFrame() {
		t.Errorf("decoder should be idle after a frame")
	}
}

func TestDecoder_EmptyPayload(t *testing.T) {
	data := MustEncodeFrame(ChipToHost, nil)
	payloads := decodeAll(t, ChipToHost, data)
	if len(payloads) != 1 || len(payloads[0]) != 0 {
		t.Fatalf("expected one empty payload, got %v", payloads)
	}
}

func TestDecoder_ChecksumMismatch(t *testing.T) {
	data := MustEncodeFrame(ChipToHost, []byte{0x01})
	data[len(data)-2] ^= 0xFF

	d := NewDecoder(ChipToHost)
	var gotErr error
	for _, b := range data {
		f, err := d.DecodeByte(b)
		if f != nil {
			t.Fatal("corrupted frame must not decode")
		}
		if err != nil {
			gotErr = err
		}
	}
	if !errors.Is(gotErr, ErrChecksum) {
		t.Errorf("expected ErrChecksum, got %v", gotErr)
	}
}

func TestDecoder_SuffixMismatch(t *testing.T) {
	data := MustEncodeFrame(ChipToHost, []byte{0x01})
	data[len(data)-1] = 0x17

	_, errs := NewDecoder(ChipToHost).Feed(data)
	if len(errs) != 1 || !errors.Is(errs[0], ErrSuffix) {
		t.Errorf("expected a single ErrSuffix, got %v", errs)
	}
}

func TestDecoder_WrongDirection(t *testing.T) {
	data := MustEncodeFrame(HostToChip, []byte{0x05})
	frames, errs := NewDecoder(ChipToHost).Feed(data)
	if len(frames) != 0 {
		t.Errorf("host frame decoded by chip decoder")
	}
	if len(errs) == 0 || !errors.Is(errs[0], ErrPrefix) {
		t.Errorf("expected ErrPrefix, got %v", errs)
	}
}

func TestDecoder_LengthTooSmall(t *testing.T) {
	for length := byte(0); length < LengthOverhead; length++ {
		d := NewDecoder(ChipToHost)
		_, errs := d.Feed([]byte{0x46, 0xB9, 0x68, 0x00, length})
		if len(errs) != 1 || !errors.Is(errs[0], ErrLength) {
			t.Errorf("length %d: expected ErrLength, got %v", length, errs)
		}
		if d.InFrame() {
			t.Errorf("length %d: decoder should reset", length)
		}
	}
}

func TestDecoder_CapacityBound(t *testing.T) {
	d := NewDecoderWithCapacity(ChipToHost, 16)
	data := MustEncodeFrame(ChipToHost, make([]byte, 17))

	frames, errs := d.Feed(data)
	if len(frames) != 0 {
		t.Fatalf("oversized frame must not decode")
	}
	if len(errs) == 0 || !errors.Is(errs[0], ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge first, got %v", errs)
	}

	// decoder recovers for a frame that fits
	frames, _ = d.Feed(MustEncodeFrame(ChipToHost, make([]byte, 16)))
	if len(frames) != 1 {
		t.Errorf("expected recovery, got %d frames", len(frames))
	}
}

func TestDecoder_IgnoresIdleNoise(t *testing.T) {
	noise := []byte{0x7F, 0x7F, 0x00, 0xFF, 0x16}
	data := append(noise, MustEncodeFrame(ChipToHost, []byte{0x05})...)

	frames, errs := NewDecoder(ChipToHost).Feed(data)
	if len(errs) != 0 {
		t.Errorf("idle noise should not produce errors: %v", errs)
	}
	if len(frames) != 1 {
		t.Errorf("expected 1 frame, got %d", len(frames))
	}
}

func TestDecoder_RepeatedPrefixByte(t *testing.T) {
	data := append([]byte{0x46}, MustEncodeFrame(ChipToHost, []byte{0x01})...)
	payloads := decodeAll(t, ChipToHost, data)
	if len(payloads) != 1 || !bytes.Equal(payloads[0], []byte{0x01}) {
		t.Errorf("expected resync on doubled prefix byte, got %v", payloads)
	}
}

func TestDecoder_Resynchronization(t *testing.T) {
	valid := MustEncodeFrame(ChipToHost, []byte{0x02, 0x54})

	for _, pos := range []int{0, 1} {
		corrupted := MustEncodeFrame(ChipToHost, []byte{0x50, 0x01, 0x02})
		corrupted[len(corrupted)-3+pos] ^= 0x5A

		data := append(corrupted, valid...)
		payloads := decodeAll(t, ChipToHost, data)
		if len(payloads) != 1 {
			t.Fatalf("checksum byte %d: expected 1 payload, got %d", pos, len(payloads))
		}
		if !bytes.Equal(payloads[0], []byte{0x02, 0x54}) {
			t.Errorf("checksum byte %d: wrong payload % X", pos, payloads[0])
		}
	}
}

func TestDecoder_Fragmentation(t *testing.T) {
	data := MustEncodeFrame(ChipToHost, []byte{0x50, 0x11, 0x22, 0x33, 0x46, 0xB9, 0x68})

	for split := 1; split < len(data); split++ {
		d := NewDecoder(ChipToHost)
		first, _ := d.Feed(data[:split])
		second, _ := d.Feed(data[split:])
		if len(first) != 0 {
			t.Fatalf("split %d: frame completed before all bytes arrived", split)
		}
		if len(second) != 1 || !bytes.Equal(second[0].Payload(), data[5:len(data)-3]) {
			t.Errorf("split %d: fragmented decode mismatch", split)
		}
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder(ChipToHost)
	d.Feed([]byte{0x46, 0xB9, 0x68})
	if !d.InFrame() {
		t.Fatal("expected decoder in frame")
	}
	if len(d.GetRawBytes()) != 3 {
		t.Errorf("expected 3 raw bytes, got %d", len(d.GetRawBytes()))
	}
	d.Reset()
	if d.InFrame() || len(d.GetRawBytes()) != 0 {
		t.Errorf("Reset should return to idle")
	}
}

// ============================================================
// Detect Response Tests
// ============================================================

func TestParseDetectResponse(t *testing.T) {
	p, _ := LookupProtocol(ProtocolSTC8GH)
	payload := BuildDetectResponse(DetectFields{
		Code:     0xF730,
		Address:  0x8C,
		Firmware: 0x73,
		Stepping: 'U',
		Minor:    0x02,
		Fosc:     24000000,
	}, p)

	info, err := ParseDetectResponse(payload)
	if err != nil {
		t.Fatalf("ParseDetectResponse failed: %v", err)
	}
	if info.Code() != 0xF730 {
		t.Errorf("expected code 0xF730, got 0x%04X", info.Code())
	}
	if info.Address() != 0x8C {
		t.Errorf("expected address 0x8C, got 0x%02X", info.Address())
	}
	if got := info.FirmwareString(); got != "7.3.2U" {
		t.Errorf("expected firmware 7.3.2U, got %s", got)
	}
	fosc, ok := info.Fosc(p)
	if !ok || fosc != 24000000 {
		t.Errorf("expected fosc 24000000, got %d (adjusted=%v)", fosc, ok)
	}
	if !bytes.Equal(info.Raw(), payload) {
		t.Errorf("raw payload not preserved")
	}
}

func TestParseDetectResponse_Offsets(t *testing.T) {
	payload := make([]byte, 23)
	payload[0] = 0x50
	payload[20] = 0xF4
	payload[21] = 0x49
	payload[17] = 0x71
	payload[18] = 'T'
	payload[22] = 0x03

	info, err := ParseDetectResponse(payload)
	if err != nil {
		t.Fatalf("ParseDetectResponse failed: %v", err)
	}
	if info.Code() != 0xF449 || info.Firmware() != 0x71 || info.Stepping() != 'T' || info.Minor() != 0x03 {
		t.Errorf("field offsets wrong: code=0x%04X fw=0x%02X step=%c minor=0x%02X",
			info.Code(), info.Firmware(), info.Stepping(), info.Minor())
	}
}

func TestParseDetectResponse_Unadjusted(t *testing.T) {
	p, _ := LookupProtocol(ProtocolSTC15)
	payload := BuildDetectResponse(DetectFields{Code: 0xF449, Fosc: FoscUnadjusted}, p)
	info, err := ParseDetectResponse(payload)
	if err != nil {
		t.Fatalf("ParseDetectResponse failed: %v", err)
	}
	if _, ok := info.Fosc(p); ok {
		t.Errorf("expected unadjusted oscillator")
	}
	if FormatFosc(info, p) != "unadjusted" {
		t.Errorf("expected 'unadjusted', got %s", FormatFosc(info, p))
	}
}

func TestParseDetectResponse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"empty", nil, ErrNotDetect},
		{"wrong ack", []byte{0x51, 0x00}, ErrNotDetect},
		{"short", []byte{0x50, 0x00, 0x00}, ErrShortResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDetectResponse(tt.payload)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// ============================================================
// Validator and Statistics Tests
// ============================================================

func TestValidateFrame(t *testing.T) {
	tests := []struct {
		name    string
		dir     Direction
		payload []byte
		want    []AnomalyType
	}{
		{"erase ok", HostToChip, []byte{0x03, 0x00, 0x00, 0x5A, 0xA5}, nil},
		{"short ping ok", HostToChip, []byte{0x05}, nil},
		{"erase without guard", HostToChip, []byte{0x03, 0x00, 0x00}, []AnomalyType{AnomalyMissingGuard}},
		{"unknown host opcode", HostToChip, []byte{0x99}, []AnomalyType{AnomalyUnknownOpcode}},
		{"baud switch length", HostToChip, []byte{0x01, 0x00}, []AnomalyType{AnomalyLengthMismatch}},
		{"oversized chunk", HostToChip, append([]byte{0x02, 0x00, 0x00, 0x5A, 0xA5}, make([]byte, 129)...), []AnomalyType{AnomalyOversizedChunk}},
		{"write ack ok", ChipToHost, []byte{0x02, 0x54}, nil},
		{"write ack missing", ChipToHost, []byte{0x02}, []AnomalyType{AnomalyBadWriteAck}},
		{"short detect", ChipToHost, []byte{0x50, 0x00}, []AnomalyType{AnomalyShortDetect}},
		{"empty", ChipToHost, []byte{}, []AnomalyType{AnomalyEmptyPayload}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateFrame(NewFrame(tt.dir, tt.payload))
			if len(errs) != len(tt.want) {
				t.Fatalf("expected %d anomalies, got %d: %v", len(tt.want), len(errs), errs)
			}
			for i, e := range errs {
				if e.Type != tt.want[i] {
					t.Errorf("anomaly %d: expected type %d, got %d", i, tt.want[i], e.Type)
				}
			}
		})
	}
}

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	s.Update(NewFrame(ChipToHost, []byte{0x03}), nil, nil)
	s.Update(nil, ErrChecksum, nil)
	s.Update(nil, ErrLength, nil)
	s.Update(nil, ErrPrefix, nil)
	s.Update(NewFrame(HostToChip, []byte{0x99}), nil, ValidateFrame(NewFrame(HostToChip, []byte{0x99})))
	s.RecordSent()
	s.RecordRetry()

	if s.TotalFrames != 6 {
		t.Errorf("expected 6 frames, got %d", s.TotalFrames)
	}
	if s.ValidFrames != 2 || s.ChecksumErrors != 1 || s.LengthErrors != 1 || s.FramingErrors != 1 {
		t.Errorf("unexpected counters: %+v", s)
	}
	if s.UnknownOpcodes != 1 || s.Anomalies != 1 {
		t.Errorf("expected one unknown opcode anomaly, got %+v", s)
	}
	if s.Errors() != 4 {
		t.Errorf("expected 4 errors, got %d", s.Errors())
	}
	if s.Retries != 1 {
		t.Errorf("expected 1 retry, got %d", s.Retries)
	}
	if s.String() == "" {
		t.Errorf("String should not be empty")
	}

	s.Reset()
	if s.TotalFrames != 0 || s.Retries != 0 {
		t.Errorf("Reset should clear counters")
	}
}
