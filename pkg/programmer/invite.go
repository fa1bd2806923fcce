// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package programmer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/stcprog/pkg/transport"
)

// DTR pulse bounds
const (
	MinResetPulse = 1 * time.Millisecond
	MaxResetPulse = 1000 * time.Millisecond
)

// ErrInvalidReset is returned for a reset specification that cannot be used
var ErrInvalidReset = errors.New("invalid reset specification")

// Inviter brings the chip into its bootloader and detects it
type Inviter interface {
	Invite(ctx context.Context, s *Session) error
	Describe() string
}

// InviteDTR pulses DTR to drive an external reset circuit, then runs the
// short detect budget. The whole cycle is repeated up to ResetCycles times.
type InviteDTR struct {
	Pulse time.Duration
}

// Validate checks the pulse against MinResetPulse and MaxResetPulse
func (d InviteDTR) Validate() error {
	if d.Pulse < MinResetPulse || d.Pulse > MaxResetPulse {
		return fmt.Errorf("%w: DTR pulse %s outside [%s, %s]", ErrInvalidReset, d.Pulse, MinResetPulse, MaxResetPulse)
	}
	return nil
}

func (d InviteDTR) Describe() string {
	return fmt.Sprintf("DTR pulse %dms", d.Pulse.Milliseconds())
}

func (d InviteDTR) Invite(ctx context.Context, s *Session) error {
	if err := d.Validate(); err != nil {
		return err
	}

	cycles := s.policies.ResetCycles
	if cycles <= 0 {
		cycles = 1
	}

	start := s.clock.Now()
	attempts := 0
	for cycle := 0; cycle < cycles; cycle++ {
		if err := s.SetControlLine(transport.LineDTR, true); err != nil {
			return err
		}
		s.clock.Sleep(d.Pulse)
		if err := s.SetControlLine(transport.LineDTR, false); err != nil {
			return err
		}

		err := s.Detect(ctx, s.policies.Reset)
		if err == nil {
			return nil
		}
		var timeout *TimeoutError
		if !errors.As(err, &timeout) {
			return err
		}
		attempts += timeout.Attempts
		s.log.Debug().Int("cycle", cycle+1).Msg("no response after reset pulse")
	}

	return &TimeoutError{Op: "detect", Attempts: attempts, Elapsed: s.clock.Now().Sub(start)}
}

// InviteCommand starts an external program that power cycles the target,
// then runs the long detect budget while it works. The program is not
// waited on.
type InviteCommand struct {
	Name string
	Args []string
}

func (c InviteCommand) Describe() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

func (c InviteCommand) Invite(ctx context.Context, s *Session) error {
	cmd := exec.Command(c.Name, c.Args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting reset command %q: %w", c.Name, err)
	}
	s.log.Debug().Str("command", c.Describe()).Int("pid", cmd.Process.Pid).Msg("reset command started")

	// Reap the child whenever it exits
	go func() {
		_ = cmd.Wait()
	}()

	return s.Detect(ctx, s.policies.Wait)
}

// InviteManual waits for the user to power cycle the chip
type InviteManual struct {
	// Prompt is called once before polling starts
	Prompt func()
}

func (m InviteManual) Describe() string {
	return "manual power cycle"
}

func (m InviteManual) Invite(ctx context.Context, s *Session) error {
	if m.Prompt != nil {
		m.Prompt()
	}
	return s.Detect(ctx, s.policies.Wait)
}

// ParseReset turns a reset specification into an Inviter. An empty string
// selects a manual power cycle, a plain number is a DTR pulse in
// milliseconds, anything else is a command line.
func ParseReset(spec string) (Inviter, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return InviteManual{}, nil
	}

	if isDigits(spec) {
		ms, err := strconv.Atoi(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidReset, err)
		}
		dtr := InviteDTR{Pulse: time.Duration(ms) * time.Millisecond}
		if err := dtr.Validate(); err != nil {
			return nil, err
		}
		return dtr, nil
	}

	fields := strings.Fields(spec)
	return InviteCommand{Name: fields[0], Args: fields[1:]}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
