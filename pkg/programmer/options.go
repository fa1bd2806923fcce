// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package programmer

import (
	"github.com/rs/zerolog"

	"github.com/Thermoquad/stcprog/pkg/stcisp"
)

// Image is the firmware to program. Bytes()[addr] is written at addr.
type Image interface {
	Bytes() []byte
}

// Progress is reported after every erase and write step
type Progress struct {
	// Phase is PhaseErase or PhaseWrite
	Phase string

	// Written is the number of image bytes acknowledged so far
	Written int

	// Total is the image size
	Total int

	// Fraction is Written/Total in the range 0..1
	Fraction float64
}

// Progress phases
const (
	PhaseErase = "erase"
	PhaseWrite = "write"
)

// Option is a functional option for configuring a Session
type Option func(*Session)

// WithLogger sets the diagnostic logger. Frames are logged as hex at debug level.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// WithCatalog replaces the compiled-in model and protocol catalog
func WithCatalog(c *stcisp.Catalog) Option {
	return func(s *Session) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithClock replaces the wall clock, letting tests run retry budgets instantly
func WithClock(c Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithImage sets the firmware written by FlashWrite
func WithImage(img Image) Option {
	return func(s *Session) {
		s.image = img
	}
}

// WithProgress sets a callback invoked after each erase or write step
func WithProgress(fn func(Progress)) Option {
	return func(s *Session) {
		s.progress = fn
	}
}

// WithStateHandler sets a callback invoked on every state transition
func WithStateHandler(fn func(State)) Option {
	return func(s *Session) {
		s.onState = fn
	}
}

// WithPolicies replaces the retry budgets
func WithPolicies(p Policies) Option {
	return func(s *Session) {
		s.policies = p
	}
}

// WithStatistics shares a link statistics tracker with the caller
func WithStatistics(stats *stcisp.Statistics) Option {
	return func(s *Session) {
		if stats != nil {
			s.stats = stats
		}
	}
}
