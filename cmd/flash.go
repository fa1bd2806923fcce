// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stcprog/pkg/history"
	"github.com/Thermoquad/stcprog/pkg/ihex"
	"github.com/Thermoquad/stcprog/pkg/programmer"
	"github.com/Thermoquad/stcprog/pkg/stcisp"
)

var (
	hexFile   string
	eraseChip bool
	resetSpec string
	useTUI    bool
)

var flashCmd = &cobra.Command{
	Use:   "flash [file.hex]",
	Short: "Program an Intel HEX image into the chip",
	Long: `Invite the chip into its bootloader, identify it, switch to the download
baud rate and write the image.

Reset options (--reset):
  <ms>            pull DTR low for 1-1000 milliseconds, up to 3 times
  "<cmd> [args]"  run a command that power cycles the chip
  (empty)         wait for a manual power cycle

Examples:
  stcprog flash -p /dev/ttyUSB0 -e firmware.hex
  stcprog flash -r 100 -b 460800 firmware.hex
  stcprog flash -r "uhubctl -a cycle -p 2" firmware.hex
  stcprog --demo flash --tui firmware.hex`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFlash,
}

func init() {
	flashCmd.Flags().StringVarP(&hexFile, "file", "f", "", "Intel HEX file to write")
	flashCmd.Flags().BoolVarP(&eraseChip, "erase", "e", false, "Erase the entire chip before writing")
	flashCmd.Flags().StringVarP(&resetSpec, "reset", "r", "", "Reset: DTR pulse in ms or a power cycle command")
	flashCmd.Flags().BoolVar(&useTUI, "tui", false, "Show an interactive progress view")
	rootCmd.AddCommand(flashCmd)
}

func runFlash(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		hexFile = args[0]
	}
	if cmd.Flags().Changed("reset") {
		cfg.SetReset(resetSpec)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	inviter, err := programmer.ParseReset(cfg.ResetSpec())
	if err != nil {
		return err
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}

	var img *ihex.Image
	if hexFile != "" {
		img, err = loadImage(hexFile, !useTUI)
		if err != nil {
			return err
		}
	}

	conn, err := NewConnection(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := &history.FlashSession{
		StartedAt: time.Now(),
		Port:      conn.Target,
		Baud:      cfg.Baud,
		HexPath:   hexFile,
		Erased:    eraseChip,
	}
	if img != nil {
		rec.ImageSize = img.Size()
	}

	opts := []programmer.Option{
		programmer.WithLogger(logger),
		programmer.WithCatalog(catalog),
		programmer.WithPolicies(cfg.Policies()),
	}
	if img != nil {
		opts = append(opts, programmer.WithImage(img))
	}

	var session *programmer.Session
	if useTUI {
		session, err = flashTUI(ctx, conn, inviter, img, opts)
	} else {
		session, err = flashText(ctx, conn, inviter, img, opts)
	}

	if conn.Chip != nil {
		fmt.Println(dim("Simulator: %d bytes written, %d commands, reloads %04X",
			conn.Chip.Written(), len(conn.Chip.Commands()), conn.Chip.Reloads()))
	}
	if cfg.History.Enabled {
		recordHistory(rec, session, err)
	}
	return err
}

// loadImage reads the hex file, reporting skipped lines when verbose
func loadImage(path string, verbose bool) (*ihex.Image, error) {
	if verbose {
		fmt.Print("Loading hex file: ")
	}
	var lineErrors []*ihex.LineError
	img, err := ihex.Load(path, func(e *ihex.LineError) {
		logger.Warn().Int("line", e.Line).Err(e.Err).Msg("skipping hex line")
		lineErrors = append(lineErrors, e)
	})
	if err != nil {
		if verbose {
			fmt.Println(bad("failed"))
		}
		return nil, err
	}
	if verbose {
		fmt.Println(good("done"), dim("(%d bytes, %d segments)", img.Size(), len(img.Segments())))
		printSkippedLines(os.Stdout, lineErrors)
	}
	return img, nil
}

// printSkippedLines lists every malformed hex line that was not loaded
func printSkippedLines(w io.Writer, lineErrors []*ihex.LineError) {
	if len(lineErrors) == 0 {
		return
	}
	fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf("Skipped %d malformed lines:", len(lineErrors))))
	for _, e := range lineErrors {
		fmt.Fprintf(w, "  %s\n", warningStyle.Render(fmt.Sprintf("line %d: %v", e.Line, e.Err)))
	}
}

// flashText walks the programming steps one at a time, printing a status
// line for each
func flashText(ctx context.Context, conn *Connection, inviter programmer.Inviter, img *ihex.Image, opts []programmer.Option) (*programmer.Session, error) {
	var bar *progressbar.ProgressBar
	opts = append(opts, programmer.WithProgress(func(p programmer.Progress) {
		if p.Phase != programmer.PhaseWrite {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Writing"),
				progressbar.OptionShowBytes(true),
				progressbar.OptionOnCompletion(func() { fmt.Println() }),
			)
		}
		bar.Set(p.Written)
	}))

	s := programmer.New(conn.Port, opts...)

	fmt.Printf("Opening port %s: ", conn.Target)
	defer s.Close()
	if err := s.Open(conn.Target); err != nil {
		fmt.Println(bad("can not open port"))
		return s, err
	}
	fmt.Println(good("done"))

	switch inv := inviter.(type) {
	case programmer.InviteDTR:
		fmt.Printf("Reset MCU by pulling low dtr for %d milliseconds\n", inv.Pulse.Milliseconds())
		fmt.Print("Waiting for MCU: ")
	case programmer.InviteCommand:
		fmt.Print("Running reset command and waiting for MCU: ")
	default:
		fmt.Print("Waiting for MCU, please cycle power: ")
	}
	if err := inviter.Invite(ctx, s); err != nil {
		fmt.Println(bad("failed to detect chip"))
		return s, err
	}
	fmt.Println(good("detected"))

	info := s.Info()
	model, err := s.Identify()
	if err != nil {
		fmt.Printf("MCU type: %s\n", bad("unknown code: %04x", info.Code()))
		return s, err
	}
	fmt.Printf("MCU type: %s\n", good("%s", model.Name))

	proto, err := s.ResolveProtocol()
	if err != nil {
		fmt.Printf("Protocol: %s\n", bad("unsupported protocol: %04x", uint16(model.Protocol)))
		return s, err
	}
	fmt.Printf("Protocol: %s\n", good("%s", proto.Name))
	fmt.Printf("F/W version: %s\n", good("%s", info.FirmwareString()))
	fmt.Printf("IRC frequency(Hz): %s\n", good("%s", stcisp.FormatFosc(info, proto)))

	fmt.Printf("Switching to %s baud, chip: ", good("%d", cfg.Baud))
	if err := s.BaudrateSet(ctx, cfg.Baud); err != nil {
		fmt.Println(bad("failed"))
		return s, err
	}
	fmt.Printf("%s, host: ", good("set"))
	if err := s.SetHostBaud(cfg.Baud); err != nil {
		fmt.Println(bad("failed"))
		return s, err
	}
	fmt.Printf("%s, ping: ", good("set"))
	if err := s.BaudrateCheck(ctx); err != nil {
		fmt.Println(bad("failed"))
		return s, err
	}
	fmt.Println(good("succ"))

	if eraseChip {
		fmt.Print("Erasing chip: ")
		if err := s.FlashErase(ctx); err != nil {
			fmt.Println(bad("failed"))
			return s, err
		}
		fmt.Println(good("succ"))
	}

	if img != nil && img.Size() > 0 {
		fmt.Printf("Writing flash, size %d:\n", img.Size())
		if _, err := s.FlashWrite(ctx); err != nil {
			var werr *programmer.WriteError
			if errors.As(err, &werr) {
				fmt.Println(bad("failed at 0x%04X (%d of %d bytes written)", werr.Address, werr.Written, werr.Total))
			} else {
				fmt.Println(bad("failed"))
			}
			return s, err
		}
		if bar != nil {
			bar.Finish()
		}
		fmt.Println(good("done"))
	}

	stats := s.Statistics()
	logger.Debug().
		Uint64("tx", stats.TxFrames).
		Uint64("rx", stats.RxFrames).
		Uint64("retries", stats.Retries).
		Uint64("errors", stats.Errors()).
		Msg("link statistics")
	return s, nil
}

// recordHistory appends the finished run to the history database
func recordHistory(rec *history.FlashSession, s *programmer.Session, runErr error) {
	rec.FinishedAt = time.Now()
	switch {
	case runErr == nil:
		rec.Outcome = history.OutcomeSuccess
	case errors.Is(runErr, context.Canceled):
		rec.Outcome = history.OutcomeCancelled
	default:
		rec.Outcome = history.OutcomeFailed
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if s != nil {
		rec.Written = s.Written()
		if info := s.Info(); info != nil {
			rec.Code = info.Code()
			rec.Firmware = info.FirmwareString()
			if p := s.Protocol(); p != nil {
				rec.Fosc, _ = info.Fosc(p)
			}
		}
		if m := s.Model(); m != nil {
			rec.Model = m.Name
		}
		if p := s.Protocol(); p != nil {
			rec.Protocol = p.Name
		}
	}

	store, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("history unavailable")
		return
	}
	defer store.Close()
	if err := store.Record(rec); err != nil {
		logger.Warn().Err(err).Msg("failed to record session")
	}
}
