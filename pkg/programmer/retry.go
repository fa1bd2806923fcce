// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package programmer

import "time"

// Clock is the time source used for polling delays and deadlines
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns the wall clock
func SystemClock() Clock {
	return systemClock{}
}

// DefaultInterval is the delay between polls of the port
const DefaultInterval = 10 * time.Millisecond

// frameIdleLimit is how many empty polls a partially received frame survives
const frameIdleLimit = 10

// RetryPolicy bounds one protocol step
type RetryPolicy struct {
	// Attempts is the maximum number of polls (or detect bytes sent)
	Attempts int

	// Interval is the delay after a poll that returned nothing
	Interval time.Duration

	// Deadline optionally bounds the step in wall-clock time. Zero disables it.
	Deadline time.Duration
}

// expired reports whether the deadline has passed
func (p RetryPolicy) expired(start, now time.Time) bool {
	return p.Deadline > 0 && now.Sub(start) >= p.Deadline
}

func (p RetryPolicy) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}

// Policies holds the retry budget of every step
type Policies struct {
	// Reset is the detect budget after each DTR pulse
	Reset RetryPolicy
	// Wait is the detect budget while waiting for a power cycle
	Wait RetryPolicy
	// ResetCycles is how many DTR pulses are tried
	ResetCycles int
	// Response bounds baud switch, baud check and erase
	Response RetryPolicy
	// Chunk bounds the acknowledge of each write chunk
	Chunk RetryPolicy
	// Settle is the pause before the baud check ping
	Settle time.Duration
}

// Retry budgets
const (
	ResetAttempts    = 0x20
	WaitAttempts     = 0x7FF
	ResetCycles      = 3
	ResponseAttempts = 255
	ChunkAttempts    = 10
)

// DefaultPolicies returns the budgets the bootloader is known to work with
func DefaultPolicies() Policies {
	return Policies{
		Reset:       RetryPolicy{Attempts: ResetAttempts, Interval: DefaultInterval},
		Wait:        RetryPolicy{Attempts: WaitAttempts, Interval: DefaultInterval},
		ResetCycles: ResetCycles,
		Response:    RetryPolicy{Attempts: ResponseAttempts, Interval: DefaultInterval},
		Chunk:       RetryPolicy{Attempts: ChunkAttempts, Interval: DefaultInterval},
		Settle:      DefaultInterval,
	}
}
