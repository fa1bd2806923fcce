// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stcprog/pkg/history"
)

var (
	historyLimit int
	historyModel string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show previous programming sessions",
	Long: `List recorded flash sessions, newest first, followed by totals.

Recording is enabled with history.enabled in the config file or with
STCPROG_HISTORY=1 (or a database path).

Examples:
  stcprog history
  stcprog history --limit 50 --model STC8H1K08`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of sessions to show (0 for all)")
	historyCmd.Flags().StringVar(&historyModel, "model", "", "Only show sessions for this model")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var sessions []history.FlashSession
	if historyModel != "" {
		sessions, err = store.ByModel(historyModel, historyLimit)
	} else {
		sessions, err = store.Latest(historyLimit)
	}
	if err != nil {
		return err
	}

	if !cfg.History.Enabled {
		fmt.Println(warningStyle.Render("History recording is disabled"))
	}
	if len(sessions) == 0 {
		fmt.Println(dim("No sessions recorded in %s", cfg.History.Path))
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		outcome := s.Outcome
		if s.Error != "" {
			outcome = fmt.Sprintf("%s: %s", s.Outcome, s.Error)
		}
		rows = append(rows, []string{
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.Model,
			s.Firmware,
			fmt.Sprintf("%d", s.Baud),
			fmt.Sprintf("%d/%d", s.Written, s.ImageSize),
			formatDuration(s.Duration()),
			outcome,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("STARTED", "MODEL", "FIRMWARE", "BAUD", "WRITTEN", "TOOK", "OUTCOME").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true).Foreground(lipgloss.Color("12"))
			}
			if col == 6 {
				switch sessions[row].Outcome {
				case history.OutcomeSuccess:
					return style.Foreground(lipgloss.Color("10"))
				case history.OutcomeFailed:
					return style.Foreground(lipgloss.Color("9"))
				default:
					return style.Foreground(lipgloss.Color("11"))
				}
			}
			return style
		})
	fmt.Println(t)

	sum, err := store.Summarize()
	if err != nil {
		return err
	}
	fmt.Printf("%s %s   %s %s   %s %s   %s %s\n",
		labelStyle.Render("Total:"), valueStyle.Render(fmt.Sprintf("%d", sum.Total)),
		labelStyle.Render("Succeeded:"), valueStyle.Render(fmt.Sprintf("%d", sum.Succeeded)),
		labelStyle.Render("Failed:"), errorStyle.Render(fmt.Sprintf("%d", sum.Failed)),
		labelStyle.Render("Bytes written:"), valueStyle.Render(fmt.Sprintf("%d", sum.Written)),
	)
	return nil
}
