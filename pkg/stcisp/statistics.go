// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates on a link
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames    uint64
	ValidFrames    uint64
	TxFrames       uint64
	RxFrames       uint64
	ChecksumErrors uint64
	FramingErrors  uint64
	LengthErrors   uint64
	Anomalies      uint64
	UnknownOpcodes uint64
	Retries        uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a frame and its errors
func (s *Statistics) Update(frame *Frame, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		switch {
		case errors.Is(decodeErr, ErrChecksum):
			s.ChecksumErrors++
		case errors.Is(decodeErr, ErrLength), errors.Is(decodeErr, ErrPayloadTooLarge):
			s.LengthErrors++
		default:
			s.FramingErrors++
		}
		return
	}

	if frame != nil {
		if frame.Direction() == HostToChip {
			s.TxFrames++
		} else {
			s.RxFrames++
		}
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}
	for _, err := range validationErrors {
		s.Anomalies++
		if err.Type == AnomalyUnknownOpcode {
			s.UnknownOpcodes++
		}
	}
}

// RecordSent counts a frame transmitted by the local side
func (s *Statistics) RecordSent() {
	s.TotalFrames++
	s.ValidFrames++
	s.TxFrames++
	s.LastUpdateTime = time.Now()
}

// RecordRetry counts an attempt that produced no usable response
func (s *Statistics) RecordRetry() {
	s.Retries++
}

// Errors returns the total number of decode errors and anomalies
func (s *Statistics) Errors() uint64 {
	return s.ChecksumErrors + s.FramingErrors + s.LengthErrors + s.Anomalies
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, checksumPercent, framingPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
		framingPercent = float64(s.FramingErrors+s.LengthErrors) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d (tx %d, rx %d)\n", s.TotalFrames, s.TxFrames, s.RxFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.FramingErrors > 0 || s.LengthErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors+s.LengthErrors, framingPercent)
		if s.LengthErrors > 0 {
			result += fmt.Sprintf("  Bad Length:       %5d\n", s.LengthErrors)
		}
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.Anomalies)
		if s.UnknownOpcodes > 0 {
			result += fmt.Sprintf("  Unknown Opcode:   %5d\n", s.UnknownOpcodes)
		}
	}
	if s.Retries > 0 {
		result += fmt.Sprintf("Empty Polls:     %8d\n", s.Retries)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
