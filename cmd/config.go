// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or save the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration after environment and flag overrides",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Println(dim("# %s", cfg.Path()))
		fmt.Print(string(data))
		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Write the effective configuration to the config file",
	Long: `Write the configuration, including any environment and flag overrides,
as YAML. Without a path the --config file is used.

Example:
  stcprog --port /dev/ttyACM0 --baud 460800 config save`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", good("%s", cfg.Path()))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSaveCmd)
	rootCmd.AddCommand(configCmd)
}
