// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

// CalculateChecksum computes the 16-bit frame checksum: the direction marker,
// the length byte and every payload byte summed modulo 2^16.
func CalculateChecksum(dir Direction, payload []byte) uint16 {
	length := byte(len(payload) + LengthOverhead)
	sum := uint16(dir.Marker()) + uint16(length)
	for _, b := range payload {
		sum += uint16(b)
	}
	return sum
}
