// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hostgpio

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/wireflash/nrfswd/swdio"
)

// Config names the three GPIO lines to drive SWD over, by the name
// periph.io/x/host/v3 registers them under (e.g. "GPIO17", "P1_16").
// Reset may be left empty when no reset line is wired, matching
// swdio.Transport's "Reset may be nil" contract.
type Config struct {
	Clk   string
	Dio   string
	Reset string

	// MaxFrequency, if non-zero, caps the SWCLK rate by sleeping half of
	// its period before each clock half-cycle. Zero runs the
	// bit-banger at whatever speed the host's GPIO syscalls allow, which
	// on most SBCs is already well under the target's SWD clock ceiling.
	MaxFrequency physic.Frequency
}

// Open registers every host GPIO driver periph.io/x/host/v3 knows about,
// resolves Config's three lines by name, and returns a swdio.Transport.
func Open(cfg Config) (swdio.Transport, error) {
	if _, err := host.Init(); err != nil {
		return swdio.Transport{}, fmt.Errorf("hostgpio: host.Init: %w", err)
	}

	clk := gpioreg.ByName(cfg.Clk)
	if clk == nil {
		return swdio.Transport{}, fmt.Errorf("hostgpio: no such GPIO pin %q (clk)", cfg.Clk)
	}
	dio := gpioreg.ByName(cfg.Dio)
	if dio == nil {
		return swdio.Transport{}, fmt.Errorf("hostgpio: no such GPIO pin %q (dio)", cfg.Dio)
	}
	var reset gpio.PinIO
	if cfg.Reset != "" {
		reset = gpioreg.ByName(cfg.Reset)
		if reset == nil {
			return swdio.Transport{}, fmt.Errorf("hostgpio: no such GPIO pin %q (reset)", cfg.Reset)
		}
	}

	t := swdio.Transport{Clk: clk, Dio: dio, Reset: reset}
	if cfg.MaxFrequency > 0 {
		half := cfg.MaxFrequency.Period() / 2
		t.Delay = func(time.Duration) { time.Sleep(half) }
	}
	return t, nil
}
