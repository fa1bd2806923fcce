// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stcprog/pkg/programmer"
	"github.com/Thermoquad/stcprog/pkg/stcisp"
)

var (
	detectTimeout int
	detectReset   string
	detectRaw     bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Identify the chip without programming it",
	Long: `Invite the chip into its bootloader and print what it reports: the
identification code, model, firmware version, protocol and trimmed
oscillator frequency. The chip is left in the bootloader at 2400 baud.

Examples:
  stcprog detect --port /dev/ttyUSB0 --reset 100
  stcprog detect --demo --raw

Exit codes:
  0 - Chip detected and identified
  1 - No response, unknown model or unsupported protocol
  2 - Connection error`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().IntVar(&detectTimeout, "timeout", 30, "Timeout in seconds for detection")
	detectCmd.Flags().StringVarP(&detectReset, "reset", "r", "", "Reset: DTR pulse in ms or a power cycle command")
	detectCmd.Flags().BoolVar(&detectRaw, "raw", false, "Dump the raw detect response")
}

func runDetect(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("reset") {
		cfg.SetReset(detectReset)
	}
	inviter, err := programmer.ParseReset(cfg.ResetSpec())
	if err != nil {
		return err
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}

	conn, err := NewConnection(cfg)
	if err != nil {
		exitf(2, "connection error: %v", err)
	}

	s := programmer.New(conn.Port,
		programmer.WithLogger(logger),
		programmer.WithCatalog(catalog),
		programmer.WithPolicies(cfg.Policies()),
	)
	if err := s.Open(conn.Target); err != nil {
		exitf(2, "connection error: %v", err)
	}
	defer s.Close()

	fmt.Println(titleStyle.Render("STCPROG - CHIP DETECTION"))
	fmt.Printf("Connection: %s\n", conn.Label)
	fmt.Printf("Reset: %s\n", inviter.Describe())
	fmt.Printf("Timeout: %d seconds\n\n", detectTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(detectTimeout)*time.Second)
	defer cancel()

	if err := inviter.Invite(ctx, s); err != nil {
		var terr *programmer.TransportError
		if errors.As(err, &terr) {
			exitf(2, "%v", err)
		}
		fmt.Println(bad("No chip responded: %v", err))
		os.Exit(1)
	}

	info := s.Info()
	model, identifyErr := s.Identify()
	var proto *stcisp.Protocol
	if identifyErr == nil {
		proto, err = s.ResolveProtocol()
	}

	fmt.Print(boxStyle.Render(stcisp.FormatDetectInfo(info, model, proto)))
	fmt.Println()
	if detectRaw {
		fmt.Println(dim("Raw detect response (%d bytes):", len(info.Raw())))
		fmt.Print(stcisp.FormatPayload(stcisp.ChipToHost, info.Raw()))
		fmt.Print(hex.Dump(info.Raw()))
	}

	switch {
	case identifyErr != nil:
		fmt.Println(bad("%v", identifyErr))
		os.Exit(1)
	case err != nil:
		fmt.Println(bad("%v", err))
		os.Exit(1)
	}
	fmt.Println(good("Chip ready for programming"))
	return nil
}
