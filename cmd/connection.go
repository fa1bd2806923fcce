// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/stcprog/pkg/config"
	"github.com/Thermoquad/stcprog/pkg/simulator"
	"github.com/Thermoquad/stcprog/pkg/transport"
)

// demoCode is the model the simulator answers as
const demoCode = 0xF730

// Connection is an unopened port plus the target handed to Port.Open
type Connection struct {
	Port   transport.Port
	Target string
	Label  string

	// Chip is set in demo mode
	Chip *simulator.Chip
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("STCPROG_BRIDGE_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// NewConnection builds the port selected by the configuration. The port is
// not opened; the programming session opens it at the detection baud.
func NewConnection(c *config.Config) (*Connection, error) {
	switch c.Transport {
	case config.TransportDemo:
		chip, err := simulator.NewByCode(demoCode, simulator.WithDetectDelay(8))
		if err != nil {
			return nil, err
		}
		return &Connection{
			Port:   chip,
			Target: "demo",
			Label:  fmt.Sprintf("Demo: simulated %s", chip.Model().Name),
			Chip:   chip,
		}, nil

	case config.TransportBridge:
		if c.Bridge.URL == "" {
			return nil, fmt.Errorf("bridge transport needs --url")
		}
		password := ""
		if c.Bridge.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}
		bridge := transport.NewBridge(transport.BridgeOptions{
			Username:      c.Bridge.Username,
			Password:      password,
			SkipSSLVerify: c.Bridge.NoSSLVerify,
		})
		return &Connection{
			Port:   bridge,
			Target: c.Bridge.URL,
			Label:  fmt.Sprintf("Bridge: %s", c.Bridge.URL),
		}, nil

	case config.TransportSerial, "":
		if c.Port == "" {
			return nil, fmt.Errorf("either --port or --url must be specified")
		}
		return &Connection{
			Port:   transport.NewSerial(),
			Target: c.Port,
			Label:  fmt.Sprintf("Serial: %s", c.Port),
		}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", c.Transport)
}

// OpenConnection builds and opens the configured port in the given mode.
// Used by commands that talk to the line without a programming session.
func OpenConnection(c *config.Config, mode transport.Mode) (*Connection, error) {
	conn, err := NewConnection(c)
	if err != nil {
		return nil, err
	}
	if err := conn.Port.Open(conn.Target); err != nil {
		return nil, err
	}
	if err := conn.Port.Configure(mode.Baud, mode.DataBits, mode.StopBits, mode.Parity); err != nil {
		conn.Port.Close()
		return nil, err
	}
	conn.Label = fmt.Sprintf("%s @ %s", conn.Label, mode)
	return conn, nil
}
