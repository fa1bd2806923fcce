// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stcprog/pkg/stcisp"
)

var modelsFilter string

var modelsCmd = &cobra.Command{
	Use:   "models [code]",
	Short: "List the supported microcontroller models",
	Long: `Print the model catalog: identification code, name, protocol and
memory sizes. Models added in the config file are included.

Examples:
  stcprog models
  stcprog models --filter stc15
  stcprog models F730`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringVar(&modelsFilter, "filter", "", "Only show models whose name or protocol contains this text")
}

func runModels(cmd *cobra.Command, args []string) error {
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		code, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(args[0]), "0x"), 16, 16)
		if err != nil {
			return fmt.Errorf("invalid code %q: %w", args[0], err)
		}
		m, ok := catalog.LookupModel(uint16(code))
		if !ok {
			return fmt.Errorf("no model with code 0x%04X", code)
		}
		printModels(catalog, []stcisp.Model{*m})
		return nil
	}

	var models []stcisp.Model
	filter := strings.ToLower(modelsFilter)
	for _, m := range catalog.Models() {
		if filter != "" &&
			!strings.Contains(strings.ToLower(m.Name), filter) &&
			!strings.Contains(strings.ToLower(m.Protocol.String()), filter) {
			continue
		}
		models = append(models, m)
	}
	printModels(catalog, models)
	fmt.Println(dim("%d models", len(models)))
	return nil
}

func printModels(catalog *stcisp.Catalog, models []stcisp.Model) {
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		proto := m.Protocol.String()
		if p, ok := catalog.LookupProtocol(m.Protocol); ok {
			proto = p.Name
		}
		rows = append(rows, []string{
			fmt.Sprintf("%04X", m.Magic),
			m.Name,
			proto,
			formatSize(m.TotalFlash),
			formatSize(m.CodeSize),
			formatSize(m.EEPROMSize),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("CODE", "MODEL", "PROTOCOL", "FLASH", "CODE", "EEPROM").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return style.Bold(true).Foreground(lipgloss.Color("12"))
			case col == 2 && rows[row][2] == stcisp.ProtocolUnsupported.String():
				return style.Foreground(lipgloss.Color("9"))
			case col == 1:
				return style.Foreground(lipgloss.Color("10"))
			}
			return style
		})
	fmt.Println(t)
}

// formatSize prints byte counts as KiB when they divide evenly
func formatSize(n uint32) string {
	switch {
	case n == 0:
		return "-"
	case n%1024 == 0:
		return fmt.Sprintf("%dK", n/1024)
	}
	return fmt.Sprintf("%d", n)
}
