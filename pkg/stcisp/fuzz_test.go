// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomPayload returns a payload of 0-248 random bytes
func randomPayload(rng *rand.Rand) []byte {
	payload := make([]byte, rng.Intn(MaxPayloadSize))
	rng.Read(payload)
	return payload
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecoder_RandomBytes feeds random bytes to the decoder
// and verifies it doesn't crash or panic
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder(Direction(rng.Intn(2)))

		length := rng.Intn(1024) + 1
		data := make([]byte, length)
		rng.Read(data)

		for _, b := range data {
			d.DecodeByte(b)
		}
	}
}

// TestFuzzDecoder_RoundTrip encodes random payloads and checks that the
// decoder yields exactly the same payload
func TestFuzzDecoder_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		dir := Direction(rng.Intn(2))
		payload := randomPayload(rng)

		data, err := EncodeFrame(dir, payload)
		if err != nil {
			t.Fatalf("Round %d: encode failed: %v", i, err)
		}

		frames, errs := NewDecoder(dir).Feed(data)
		if len(errs) != 0 {
			t.Errorf("Round %d: unexpected errors: %v", i, errs)
			continue
		}
		if len(frames) != 1 {
			t.Errorf("Round %d: expected 1 frame, got %d", i, len(frames))
			continue
		}
		if !bytes.Equal(frames[0].Payload(), payload) {
			t.Errorf("Round %d: payload mismatch (len %d)", i, len(payload))
		}
		if frames[0].Checksum() != CalculateChecksum(dir, payload) {
			t.Errorf("Round %d: checksum mismatch", i)
		}
	}
}

// TestFuzzDecoder_Partitions splits a frame stream at random points and
// checks that chunking does not change the result
func TestFuzzDecoder_Partitions(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		var stream []byte
		var expected [][]byte
		for n := rng.Intn(4) + 1; n > 0; n-- {
			payload := randomPayload(rng)
			expected = append(expected, payload)
			stream = append(stream, MustEncodeFrame(ChipToHost, payload)...)
		}

		d := NewDecoder(ChipToHost)
		var got [][]byte
		for pos := 0; pos < len(stream); {
			end := pos + rng.Intn(32) + 1
			if end > len(stream) {
				end = len(stream)
			}
			frames, _ := d.Feed(stream[pos:end])
			for _, f := range frames {
				got = append(got, f.Payload())
			}
			pos = end
		}

		if len(got) != len(expected) {
			t.Errorf("Round %d: expected %d frames, got %d", i, len(expected), len(got))
			continue
		}
		for j := range expected {
			if !bytes.Equal(got[j], expected[j]) {
				t.Errorf("Round %d: frame %d payload mismatch", i, j)
			}
		}
	}
}

// TestFuzzDecoder_CorruptedThenValid corrupts one frame and checks that the
// decoder never returns it and still recovers the following valid frame
func TestFuzzDecoder_CorruptedThenValid(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		bad := MustEncodeFrame(ChipToHost, randomPayload(rng))
		// corrupt a checksum byte so the frame is always rejected
		idx := len(bad) - 3 + rng.Intn(2)
		bad[idx] ^= byte(rng.Intn(255) + 1)

		good := []byte{StatusErase}
		data := append(bad, MustEncodeFrame(ChipToHost, good)...)

		frames, _ := NewDecoder(ChipToHost).Feed(data)
		if len(frames) != 1 {
			t.Errorf("Round %d: expected 1 frame, got %d", i, len(frames))
			continue
		}
		if !bytes.Equal(frames[0].Payload(), good) {
			t.Errorf("Round %d: recovered the wrong frame: % X", i, frames[0].Payload())
		}
	}
}

// TestFuzzDecoder_ExtraBytes inserts random noise between frames
func TestFuzzDecoder_ExtraBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		noise := make([]byte, rng.Intn(16))
		for j := range noise {
			// keep noise from forming a prefix
			noise[j] = byte(rng.Intn(256))
			if noise[j] == PrefixByte {
				noise[j] = DetectByte
			}
		}
		payload := randomPayload(rng)
		data := append(noise, MustEncodeFrame(ChipToHost, payload)...)

		frames, _ := NewDecoder(ChipToHost).Feed(data)
		if len(frames) != 1 || !bytes.Equal(frames[0].Payload(), payload) {
			t.Errorf("Round %d: frame lost after %d noise bytes", i, len(noise))
		}
	}
}

// TestFuzzDecoder_RepeatedPrefix sends runs of the first prefix byte
// before a valid frame
func TestFuzzDecoder_RepeatedPrefix(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder(ChipToHost)
		for n := rng.Intn(100) + 1; n > 0; n-- {
			d.DecodeByte(PrefixByte)
		}

		frames, errs := d.Feed(MustEncodeFrame(ChipToHost, []byte{StatusBaudCheck}))
		if len(frames) != 1 {
			t.Errorf("Round %d: expected valid frame after repeated prefix (errors %v)", i, errs)
		}
	}
}

// ============================================================
// Command Fuzz Tests
// ============================================================

// TestFuzzReload_Range checks reload values for random rates stay consistent
// with the formula
func TestFuzzReload_Range(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		baud := rng.Intn(1000000) + 1
		reload, err := Reload(baud)
		if err != nil {
			t.Fatalf("Round %d: Reload(%d) failed: %v", i, baud, err)
		}
		if reload != uint16(65536-FUser/4/baud) {
			t.Errorf("Round %d: Reload(%d) = 0x%04X", i, baud, reload)
		}
	}
}

// ============================================================
// Native Go Fuzzing
// ============================================================

// FuzzDecoder checks that arbitrary input never panics and that every
// decoded frame re-encodes to valid bytes
func FuzzDecoder(f *testing.F) {
	f.Add(MustEncodeFrame(ChipToHost, []byte{StatusErase}))
	f.Add(MustEncodeFrame(ChipToHost, nil))
	f.Add([]byte{0x46, 0x46, 0xB9, 0x68, 0x00, 0x05})

	f.Fuzz(func(t *testing.T, data []byte) {
		frames, _ := NewDecoder(ChipToHost).Feed(data)
		for _, frame := range frames {
			if _, err := frame.Encode(); err != nil {
				t.Errorf("decoded frame does not re-encode: %v", err)
			}
		}
	})
}
