// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command nrfswd-flash connects to a target over SWD and streams an
// Intel-HEX image into its flash, in the style of periph's smoke-test
// commands: a flag.FlagSet, no subcommands, progress printed to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/wireflash/nrfswd/backend/ftdibackend"
	"github.com/wireflash/nrfswd/backend/hostgpio"
	"github.com/wireflash/nrfswd/session"
	"github.com/wireflash/nrfswd/swdio"
)

func main() {
	if err := run(flag.CommandLine, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "nrfswd-flash:", err)
		os.Exit(1)
	}
}

func run(f *flag.FlagSet, args []string) error {
	backend := f.String("backend", "hostgpio", "transport backend: hostgpio or ftdi")
	clkName := f.String("clk", "", "GPIO name for SWCLK (hostgpio backend only)")
	dioName := f.String("dio", "", "GPIO name for SWDIO (hostgpio backend only)")
	resetName := f.String("reset", "", "GPIO name for the target's reset line, optional (hostgpio backend only)")
	maxHz := f.Uint("max-clock-hz", 0, "cap the SWCLK rate in Hz, 0 for unthrottled (hostgpio backend only)")
	massErase := f.Bool("mass-erase", false, "mass-erase the target before flashing")
	if err := f.Parse(args); err != nil {
		return err
	}
	if f.NArg() != 1 {
		f.Usage()
		return errors.New("expected exactly one argument: the Intel-HEX file to flash")
	}
	path := f.Arg(0)

	t, err := openTransport(*backend, *clkName, *dioName, *resetName, *maxHz)
	if err != nil {
		return err
	}

	s, err := session.New(t, session.WithProgress(printProgress))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Shutdown(); err != nil {
			fmt.Fprintln(os.Stderr, "nrfswd-flash: shutdown:", err)
		}
	}()

	fmt.Println("connecting...")
	if err := s.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if *massErase {
		fmt.Println("mass-erasing...")
		if err := s.MassErase(); err != nil {
			return fmt.Errorf("mass erase: %w", err)
		}
	}

	img, err := os.Open(path)
	if err != nil {
		return err
	}
	defer img.Close()

	fmt.Printf("flashing %s...\n", path)
	start := time.Now()
	if err := s.UpdateFirmware(context.Background(), img); err != nil {
		return fmt.Errorf("update firmware: %w", err)
	}
	fmt.Printf("done in %s; %d lines, %d bytes flashed\n",
		time.Since(start), s.Counters.LinesParsed(), s.Counters.BytesFlashed())
	return nil
}

func openTransport(backend, clk, dio, reset string, maxHz uint) (swdio.Transport, error) {
	switch backend {
	case "hostgpio":
		if clk == "" || dio == "" {
			return swdio.Transport{}, errors.New("-clk and -dio are required for the hostgpio backend")
		}
		return hostgpio.Open(hostgpio.Config{
			Clk:          clk,
			Dio:          dio,
			Reset:        reset,
			MaxFrequency: physic.Frequency(maxHz) * physic.Hertz,
		})
	case "ftdi":
		return ftdibackend.Open()
	default:
		return swdio.Transport{}, fmt.Errorf("unrecognized -backend %q, only hostgpio and ftdi are supported", backend)
	}
}

func printProgress(current, total int64, operation string) {
	fmt.Printf("  %s: %d/%d bytes\n", operation, current, total)
}
