// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// stcprog - STC 8051 In-System Programmer
//
// A CLI tool for writing Intel HEX images to STC microcontrollers through
// their serial bootloader.

package main

import (
	"os"

	"github.com/Thermoquad/stcprog/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
