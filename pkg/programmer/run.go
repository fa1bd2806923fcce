// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package programmer

import (
	"context"

	"github.com/Thermoquad/stcprog/pkg/stcisp"
)

// Plan selects what Run does
type Plan struct {
	// Path is the port to open
	Path string

	// Baud is the transfer rate to negotiate. Zero selects DefaultBaud.
	Baud int

	// Erase erases the flash before writing
	Erase bool

	// Invite brings up the bootloader. Nil selects a manual power cycle.
	Invite Inviter
}

// Run executes the whole programming sequence. The image, when set and
// non-empty, is written after the optional erase. The port is left open;
// the caller closes the session.
func (s *Session) Run(ctx context.Context, plan Plan) error {
	baud := plan.Baud
	if baud == 0 {
		baud = stcisp.DefaultBaud
	}
	invite := plan.Invite
	if invite == nil {
		invite = InviteManual{}
	}

	if err := s.Open(plan.Path); err != nil {
		return err
	}
	if err := invite.Invite(ctx, s); err != nil {
		return err
	}
	if _, err := s.Identify(); err != nil {
		return err
	}
	if _, err := s.ResolveProtocol(); err != nil {
		return err
	}
	if err := s.BaudrateSet(ctx, baud); err != nil {
		return err
	}
	if err := s.SetHostBaud(baud); err != nil {
		return err
	}
	if err := s.BaudrateCheck(ctx); err != nil {
		return err
	}
	if plan.Erase {
		if err := s.FlashErase(ctx); err != nil {
			return err
		}
	}
	if s.image != nil && len(s.image.Bytes()) > 0 {
		if _, err := s.FlashWrite(ctx); err != nil {
			return err
		}
	}

	s.setState(StateDone)
	return nil
}
