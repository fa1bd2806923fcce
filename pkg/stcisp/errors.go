// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import "errors"

// Decoder errors. Each is wrapped with the offending values.
var (
	ErrPrefix          = errors.New("prefix mismatch")
	ErrLength          = errors.New("invalid length")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrChecksum        = errors.New("checksum mismatch")
	ErrSuffix          = errors.New("suffix mismatch")
)

// Command and catalog errors
var (
	ErrInvalidBaud    = errors.New("invalid baud rate")
	ErrChunkTooLarge  = errors.New("write chunk too large")
	ErrShortResponse  = errors.New("detect response too short")
	ErrNotDetect      = errors.New("not a detect response")
	ErrDuplicateModel = errors.New("duplicate model code")
	ErrUnknownRef     = errors.New("model references unknown protocol")
)
