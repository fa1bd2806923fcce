// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stcprog/pkg/transport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial devices present on the system. The configured port is
marked with an asterisk.`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println(dim("No serial ports found"))
		return nil
	}
	for _, p := range ports {
		if p == cfg.Port {
			fmt.Printf("* %s\n", good("%s", p))
		} else {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}
