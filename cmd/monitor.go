// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stcprog/pkg/stcisp"
	"github.com/Thermoquad/stcprog/pkg/transport"
)

var (
	showAll       bool
	statsInterval int
	monitorParity string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decode ISP traffic on a serial line",
	Long: `Passively decode STC ISP frames in both directions and report errors.

The line is read with two decoders, one for host frames and one for chip
frames. Each frame is validated against the command layouts:
  - Checksum and suffix failures
  - Bad declared lengths
  - Unknown opcodes, missing guard bytes, oversized write chunks
  - Short detect responses

By default, only errors are displayed. Use --show-all to display valid
frames too. Statistics are printed at --stats-interval and on exit.

The bootloader runs at 2400 baud 8E1 until the baud switch, so monitor
the detection phase at -b 2400 and the transfer at the negotiated rate.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().StringVar(&monitorParity, "parity", "even", "Parity: none, odd or even")
}

func parseParity(name string) (transport.Parity, error) {
	switch strings.ToLower(name) {
	case "none", "n":
		return transport.ParityNone, nil
	case "odd", "o":
		return transport.ParityOdd, nil
	case "even", "e":
		return transport.ParityEven, nil
	}
	return 0, fmt.Errorf("unknown parity %q", name)
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(dir stcisp.Direction, err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] %s %s %v\n", timestamp, dir, errorStyle.Render("DECODE ERROR:"), err)
	fmt.Printf("  >>> FRAME DROPPED <<<\n\n")
}

// printValidationErrors prints a checksum-valid frame that failed validation
func printValidationErrors(frame *stcisp.Frame, errs []stcisp.ValidationError) {
	timestamp := frame.Timestamp().Format("15:04:05.000")
	name := stcisp.FormatOpcode(frame.Direction(), frame.Opcode())

	fmt.Printf("[%s] %s %s %s (0x%02X)\n", timestamp, frame.Direction(),
		warningStyle.Render("VALIDATION ERROR:"), name, frame.Opcode())
	fmt.Printf("  Checksum: %s\n", valueStyle.Render("OK"))

	for i, err := range errs {
		switch err.Type {
		case stcisp.AnomalyUnknownOpcode, stcisp.AnomalyLengthMismatch, stcisp.AnomalyOversizedChunk:
			fmt.Printf("  Issue %d: %s\n", i+1, errorStyle.Render(err.Message))
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, warningStyle.Render(err.Message))
		}
		for key, value := range err.Details {
			fmt.Printf("    %s=%v\n", key, value)
		}
	}
	fmt.Print(stcisp.FormatPayload(frame.Direction(), frame.Payload()))
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	parity, err := parseParity(monitorParity)
	if err != nil {
		return err
	}
	if statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive")
	}

	conn, err := OpenConnection(cfg, transport.Mode{Baud: cfg.Baud, DataBits: 8, StopBits: 1, Parity: parity})
	if err != nil {
		return err
	}
	defer conn.Port.Close()

	fmt.Printf("stcprog - ISP Monitor\n")
	fmt.Printf("Connection: %s\n", conn.Label)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	decoders := []*stcisp.Decoder{
		stcisp.NewDecoder(stcisp.HostToChip),
		stcisp.NewDecoder(stcisp.ChipToHost),
	}
	stats := stcisp.NewStatistics()

	// Sync tracking - ignore decode errors until first valid frame
	synchronized := false
	invalidBytesBeforeSync := 0

	// Statistics ticker
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	// Channel for polled port reads
	serialBuf := make(chan []byte, 10)
	go func() {
		buf := make([]byte, 256)
		for ctx.Err() == nil {
			n, err := conn.Port.Read(buf)
			if err != nil {
				if transport.IsDisconnect(err) {
					log.Printf("Connection closed")
					stop()
					return
				}
				log.Printf("Read error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			if n == 0 {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			serialBuf <- data
		}
	}()

	for {
		select {
		case data := <-serialBuf:
			for _, b := range data {
				for _, decoder := range decoders {
					frame, decodeErr := decoder.DecodeByte(b)

					if decodeErr != nil {
						// Frames of the other direction always break the
						// marker check of this decoder
						if errors.Is(decodeErr, stcisp.ErrPrefix) {
							continue
						}
						if synchronized {
							stats.Update(nil, decodeErr, nil)
							printDecodeError(decoder.Direction(), decodeErr)
						} else {
							invalidBytesBeforeSync++
						}
						continue
					}
					if frame == nil {
						continue
					}

					if !synchronized {
						synchronized = true
						if invalidBytesBeforeSync > 0 {
							fmt.Printf("[SYNC] Synchronized after %d decode errors\n\n", invalidBytesBeforeSync)
						} else {
							fmt.Printf("[SYNC] Synchronized\n\n")
						}
					}

					validationErrors := stcisp.ValidateFrame(frame)
					stats.Update(frame, nil, validationErrors)

					if len(validationErrors) > 0 {
						printValidationErrors(frame, validationErrors)
					} else if showAll || (frame.Direction() == stcisp.ChipToHost && frame.Opcode() == stcisp.DetectAck) {
						// Detect responses are always shown
						fmt.Print(stcisp.FormatFrame(frame))
					}
				}
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case <-ctx.Done():
			fmt.Println()
			fmt.Print(stats.String())
			return nil
		}
	}
}
