// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"errors"
	"fmt"
)

// Option configures a Chip
type Option func(*Chip) error

// ErrInvalidOption is returned by New for an option with an unusable value
var ErrInvalidOption = errors.New("invalid simulator option")

// WithFirmware sets the bootloader version byte and stepping letter
// reported in the detect response
func WithFirmware(version, stepping byte) Option {
	return func(c *Chip) error {
		c.fields.Firmware = version
		c.fields.Stepping = stepping
		return nil
	}
}

// WithFosc sets the trimmed oscillator frequency reported in the detect
// response. stcisp.FoscUnadjusted reports an untrimmed oscillator.
func WithFosc(hz uint32) Option {
	return func(c *Chip) error {
		c.fields.Fosc = hz
		return nil
	}
}

// WithAddress sets the address byte the host must echo in the baud switch
func WithAddress(addr byte) Option {
	return func(c *Chip) error {
		c.fields.Address = addr
		return nil
	}
}

// WithDetectLength sets the detect response payload length
func WithDetectLength(n int) Option {
	return func(c *Chip) error {
		if n < 0 {
			return fmt.Errorf("%w: detect length %d", ErrInvalidOption, n)
		}
		c.fields.Length = n
		return nil
	}
}

// WithDetectDelay makes the chip ignore the first n detect bytes, like a
// bootloader that has not come up yet
func WithDetectDelay(n int) Option {
	return func(c *Chip) error {
		if n < 0 {
			return fmt.Errorf("%w: detect delay %d", ErrInvalidOption, n)
		}
		c.detectGap = n
		return nil
	}
}

// WithRefuseDetect makes the chip never answer, like a chip that is
// running its application
func WithRefuseDetect() Option {
	return func(c *Chip) error {
		c.refuse = true
		return nil
	}
}

// WithDropResponses swallows the next n responses
func WithDropResponses(n int) Option {
	return func(c *Chip) error {
		if n < 0 {
			return fmt.Errorf("%w: drop count %d", ErrInvalidOption, n)
		}
		c.drop = n
		return nil
	}
}

// WithCorruptChecksums damages the checksum of the next n responses
func WithCorruptChecksums(n int) Option {
	return func(c *Chip) error {
		if n < 0 {
			return fmt.Errorf("%w: corrupt count %d", ErrInvalidOption, n)
		}
		c.corrupt = n
		return nil
	}
}

// WithMaxRead limits the bytes returned per Read, splitting responses
// across reads
func WithMaxRead(n int) Option {
	return func(c *Chip) error {
		if n < 0 {
			return fmt.Errorf("%w: max read %d", ErrInvalidOption, n)
		}
		c.maxRead = n
		return nil
	}
}
