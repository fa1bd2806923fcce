// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stcprog/pkg/ihex"
	"github.com/Thermoquad/stcprog/pkg/stcisp"
)

var (
	hexDump  bool
	hexModel string
)

var hexCmd = &cobra.Command{
	Use:   "hex <file.hex>",
	Short: "Inspect an Intel HEX file",
	Long: `Load an Intel HEX file the way flash does and print its size, data
segments and any malformed lines that would be skipped.

With --model the image is checked against the model's code size.

Examples:
  stcprog hex firmware.hex
  stcprog hex --dump --model STC8H1K08 firmware.hex`,
	Args: cobra.ExactArgs(1),
	RunE: runHex,
}

func init() {
	rootCmd.AddCommand(hexCmd)
	hexCmd.Flags().BoolVar(&hexDump, "dump", false, "Print a hexdump of the image")
	hexCmd.Flags().StringVar(&hexModel, "model", "", "Check the image fits this model")
}

func runHex(cmd *cobra.Command, args []string) error {
	var lineErrors []*ihex.LineError
	img, err := ihex.Load(args[0], func(e *ihex.LineError) {
		lineErrors = append(lineErrors, e)
	})
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("STCPROG - HEX IMAGE"))
	fmt.Printf("%s %s\n", labelStyle.Render("File:"), args[0])
	fmt.Printf("%s %s\n", labelStyle.Render("Size:"), valueStyle.Render(fmt.Sprintf("%d bytes (0x%04X)", img.Size(), img.Size())))
	fmt.Printf("%s %s\n", labelStyle.Render("Chunks:"), valueStyle.Render(fmt.Sprintf("%d", (img.Size()+stcisp.ChunkSize-1)/stcisp.ChunkSize)))

	fmt.Println(labelStyle.Render("Segments:"))
	for _, seg := range img.Segments() {
		fmt.Printf("  0x%04X-0x%04X  %d bytes\n", seg.Address, int(seg.Address)+seg.Size-1, seg.Size)
	}

	printSkippedLines(os.Stdout, lineErrors)

	if hexModel != "" {
		catalog, err := cfg.Catalog()
		if err != nil {
			return err
		}
		var model *stcisp.Model
		for _, m := range catalog.Models() {
			if m.Name == hexModel {
				m := m
				model = &m
				break
			}
		}
		if model == nil {
			return fmt.Errorf("unknown model %q", hexModel)
		}
		if model.CodeSize > 0 && uint32(img.Size()) > model.CodeSize {
			fmt.Println(bad("Image is %d bytes, %s has %d bytes of code flash", img.Size(), model.Name, model.CodeSize))
		} else {
			fmt.Println(good("Fits %s (%d of %d bytes)", model.Name, img.Size(), model.CodeSize))
		}
	}

	if hexDump {
		fmt.Println()
		fmt.Print(hex.Dump(img.Bytes()))
	}
	return nil
}
