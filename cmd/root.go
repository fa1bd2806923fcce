// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stcprog/pkg/config"
)

var (
	// Serial connection flags
	portName   string
	baudRate   int
	configPath string

	// Bridge connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	demoMode  bool
	debugMode bool
)

var (
	cfg    *config.Config
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "stcprog",
	Short: "STC 8051 In-System Programmer",
	Long: `stcprog - A CLI tool for programming STC 8051 microcontrollers through
their serial bootloader.

Loads an Intel HEX image, invites the chip into its bootloader, identifies
the model, switches to a faster baud rate and writes the flash.

Connection modes:
  Serial: --port /dev/ttyUSB0 [--baud 115200]
  Bridge: --url ws://host/path [--username user]
  Demo:   --demo (built-in chip simulator)

Settings are read from ~/.config/stcprog/config.yaml, then STCPROG_*
environment variables, then flags. For bridge authentication the password
is read from STCPROG_BRIDGE_PASSWORD, or prompted interactively if not set.`,
	Version:           "1.4.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", config.DefaultPort, "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Download baud rate")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Config file")

	// Bridge connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Serial bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().BoolVar(&demoMode, "demo", false, "Use the built-in chip simulator instead of a port")
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "Log every frame to stderr")
}

// setup builds the logger and the merged configuration before any command runs
func setup(cmd *cobra.Command, args []string) error {
	if debugMode {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
	}

	loaded, err := config.Load(configPath, logger)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		loaded.Port = portName
	}
	if flags.Changed("baud") {
		loaded.Baud = baudRate
	}
	if flags.Changed("url") {
		loaded.Bridge.URL = wsURL
		if wsURL != "" {
			loaded.Transport = config.TransportBridge
		}
	}
	if flags.Changed("username") {
		loaded.Bridge.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		loaded.Bridge.NoSSLVerify = wsNoSSLVerify
	}
	if demoMode {
		loaded.Transport = config.TransportDemo
	}

	logger.Debug().
		Str("port", loaded.Port).
		Int("baud", loaded.Baud).
		Str("transport", loaded.Transport).
		Msg("configuration")

	cfg = loaded
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// exitf prints an error and exits with the given code
func exitf(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(code)
}
